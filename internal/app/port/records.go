package port

import (
	"context"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RecordService materializes on-chain entity listings.
type RecordService interface {
	ListRecords(ctx context.Context, contract string) (entity.RecordListing, error)
	GetRecord(ctx context.Context, contract string, id uint64) (entity.ContractRecord, error)
	Deployments() []entity.ContractDeployment
}

// BoundContract is a contract bound to its address and ABI.
type BoundContract interface {
	Name() string
	Address() common.Address
	ABI() abi.ABI
	Schema() entity.RecordSchema
	Deployment() entity.ContractDeployment
	// Reader is the chain reader the contract was bound over.
	Reader() ChainReader

	Pack(method string, args ...any) ([]byte, error)
	Unpack(method string, data []byte) ([]any, error)
	Call(ctx context.Context, method string, args ...any) ([]any, error)
	Transact(ctx context.Context, signer Signer, method string, args ...any) (*types.Transaction, error)
}

// ContractRegistry binds contracts lazily by name.
type ContractRegistry interface {
	Bind(ctx context.Context, name string) (BoundContract, error)
	Deployments() []entity.ContractDeployment
}

// DeploymentProvider supplies the contract address book.
type DeploymentProvider interface {
	GetDeployments() ([]entity.ContractDeployment, error)
}
