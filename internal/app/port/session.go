package port

import (
	"context"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/event"
)

// WalletSession owns the single logical wallet connection of the application.
type WalletSession interface {
	Connect(ctx context.Context, kind entity.TransportKind) (entity.WalletConnection, error)
	Disconnect()
	Snapshot() entity.WalletConnection
	Signer() Signer
	TargetNetwork() entity.NetworkDescriptor
	// Subscribe delivers session events to ch. Subscribers must keep draining ch.
	Subscribe(ch chan<- entity.SessionEvent) event.Subscription
}
