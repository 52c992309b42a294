package port

import (
	"context"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer is the opaque signing handle bound to the connected account.
type Signer interface {
	entity.SigningHandle

	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
	SendTransaction(ctx context.Context, req entity.TxRequest) (common.Hash, error)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)

	// TransactOpts adapts the signer for go-ethereum bound contracts.
	TransactOpts(ctx context.Context) *bind.TransactOpts
}
