package port

import (
	"context"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

// NetworkDescriptorProvider serves the known network descriptors.
type NetworkDescriptorProvider interface {
	// All returns every known descriptor, sorted by identifier.
	All() []entity.NetworkDescriptor

	// ByIdentifier returns the descriptor with the given identifier.
	ByIdentifier(identifier string) (entity.NetworkDescriptor, bool)

	// ByChainID returns the descriptor for a chain id.
	ByChainID(chainID uint64) (entity.NetworkDescriptor, bool)

	// Target returns the network the session keeps the wallet on.
	Target() entity.NetworkDescriptor
}

// ChainReader reads contract state from a network's public RPC endpoints.
type ChainReader interface {
	ChainID(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, req entity.CallRequest) ([]byte, error)
	// BatchCallContract sends all calls in one JSON-RPC batch. A returned error means the
	// batch as a whole failed; per-call failures are reported in CallResult.Error.
	BatchCallContract(ctx context.Context, reqs []entity.CallRequest) ([]entity.CallResult, error)
	// Backend exposes the reader as a go-ethereum contract backend.
	Backend() bind.ContractBackend
	Descriptor() entity.NetworkDescriptor
	Close()
}

// ChainReaderProvider hands out cached readers per network.
type ChainReaderProvider interface {
	GetReader(ctx context.Context, network entity.NetworkDescriptor) (ChainReader, error)
	Close()
}
