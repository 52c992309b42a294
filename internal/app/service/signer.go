package service

import (
	"context"
	"fmt"
	"math/big"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// WalletSigner implements port.Signer by delegating every signature to the wallet.
// It is rebuilt whenever the account or chain changes, so a stale signer keeps the old identity.
type WalletSigner struct {
	transport port.WalletTransport
	address   common.Address
	chainID   *big.Int
}

// NewWalletSigner binds address on chainID to the transport.
func NewWalletSigner(t port.WalletTransport, address common.Address, chainID uint64) *WalletSigner {
	return &WalletSigner{transport: t, address: address, chainID: new(big.Int).SetUint64(chainID)}
}

func (s *WalletSigner) Address() common.Address { return s.address }

func (s *WalletSigner) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// SignTransaction asks the wallet to sign tx and checks the signature belongs to the bound account.
func (s *WalletSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	args := entity.ArgsFromTransaction(s.address, tx)
	args.ChainID = (*hexutil.Big)(s.chainID)

	var raw hexutil.Bytes
	if err := s.transport.Request(ctx, &raw, "eth_signTransaction", args); err != nil {
		return nil, wrapWalletError("sign transaction", err)
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, entity.NewSessionError(entity.KindTransportError, "wallet returned an undecodable transaction", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(s.chainID), signed)
	if err != nil {
		return nil, entity.NewSessionError(entity.KindTransportError, "wallet returned an invalid signature", err)
	}
	if from != s.address {
		return nil, entity.Errorf(entity.KindTransportError, "wallet signed with %s instead of %s", from.Hex(), s.address.Hex())
	}
	return signed, nil
}

// SendTransaction lets the wallet fill, sign and broadcast req.
func (s *WalletSigner) SendTransaction(ctx context.Context, req entity.TxRequest) (common.Hash, error) {
	args := entity.ArgsFromRequest(s.address, req)
	args.ChainID = (*hexutil.Big)(s.chainID)

	var hash common.Hash
	if err := s.transport.Request(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, wrapWalletError("send transaction", err)
	}
	return hash, nil
}

// SignMessage produces an EIP-191 personal signature.
func (s *WalletSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := s.transport.Request(ctx, &sig, "personal_sign", hexutil.Bytes(message), s.address); err != nil {
		return nil, wrapWalletError("sign message", err)
	}
	return sig, nil
}

// TransactOpts adapts the signer for bound contracts. Nonce, gas and fees are left to the backend.
func (s *WalletSigner) TransactOpts(ctx context.Context) *bind.TransactOpts {
	return &bind.TransactOpts{
		From:    s.address,
		Context: ctx,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != s.address {
				return nil, bind.ErrNotAuthorized
			}
			return s.SignTransaction(ctx, tx)
		},
	}
}

func wrapWalletError(op string, err error) error {
	if entity.IsUserRejection(err) {
		return entity.NewSessionError(entity.KindUserRejected, fmt.Sprintf("wallet declined to %s", op), err)
	}
	return entity.NewSessionError(entity.KindTransportError, fmt.Sprintf("wallet could not %s", op), err)
}

var _ port.Signer = (*WalletSigner)(nil)
