package port

import (
	"context"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/event"
)

// WalletTransport is a channel to a wallet speaking the EIP-1193 request/event protocol.
type WalletTransport interface {
	// Kind reports which transport this is.
	Kind() entity.TransportKind

	// Request sends method with params and decodes the result into result (which may be nil).
	// Wallet refusals come back as errors carrying an EIP-1193 code (see entity.ProviderErrorCode).
	Request(ctx context.Context, result any, method string, params ...any) error

	// SubscribeEvents delivers accountsChanged / chainChanged notifications to sink.
	// The subscription's Err channel yields a non-nil error if the transport drops.
	SubscribeEvents(ctx context.Context, sink chan<- entity.ProviderEvent) (event.Subscription, error)

	// SupportsChainSwitch reports whether wallet_switchEthereumChain may be attempted.
	SupportsChainSwitch() bool

	// Close releases the local handle. It never revokes wallet permissions.
	Close() error
}

// TransportDetector resolves a transport kind into a live transport.
type TransportDetector interface {
	// Detect returns an error of kind NoProviderDetected when nothing answers for kind.
	Detect(ctx context.Context, kind entity.TransportKind) (WalletTransport, error)
}
