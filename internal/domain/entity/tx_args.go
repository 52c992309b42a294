package entity

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionArgs is the transaction object of eth_signTransaction / eth_sendTransaction.
type TransactionArgs struct {
	From                 *common.Address `json:"from,omitempty"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	Data                 *hexutil.Bytes  `json:"data,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

// ArgsFromTransaction describes an unsigned transaction for the wallet.
func ArgsFromTransaction(from common.Address, tx *types.Transaction) TransactionArgs {
	gas := hexutil.Uint64(tx.Gas())
	nonce := hexutil.Uint64(tx.Nonce())
	data := hexutil.Bytes(tx.Data())
	args := TransactionArgs{
		From:  &from,
		To:    tx.To(),
		Gas:   &gas,
		Value: (*hexutil.Big)(tx.Value()),
		Nonce: &nonce,
		Data:  &data,
	}
	// Unsigned legacy transactions carry no chain id.
	if tx.Type() != types.LegacyTxType {
		args.ChainID = (*hexutil.Big)(tx.ChainId())
	}
	if tx.Type() == types.DynamicFeeTxType {
		args.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
		args.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap())
	} else {
		args.GasPrice = (*hexutil.Big)(tx.GasPrice())
	}
	return args
}

// ArgsFromRequest describes a TxRequest sent from the given account.
func ArgsFromRequest(from common.Address, req TxRequest) TransactionArgs {
	args := TransactionArgs{From: &from, To: req.To}
	if req.Value != nil {
		args.Value = (*hexutil.Big)(req.Value)
	}
	if len(req.Data) > 0 {
		data := hexutil.Bytes(req.Data)
		args.Data = &data
	}
	if req.Gas > 0 {
		gas := hexutil.Uint64(req.Gas)
		args.Gas = &gas
	}
	return args
}

// ToTransaction builds the unsigned transaction described by args.
// Nonce and gas must be present; the wallet side fills them before calling this.
func (a TransactionArgs) ToTransaction(chainID *big.Int) (*types.Transaction, error) {
	if a.Nonce == nil || a.Gas == nil {
		return nil, errors.New("nonce and gas are required")
	}
	value := new(big.Int)
	if a.Value != nil {
		value = a.Value.ToInt()
	}
	var data []byte
	if a.Data != nil {
		data = *a.Data
	}
	if a.MaxFeePerGas != nil {
		tip := new(big.Int)
		if a.MaxPriorityFeePerGas != nil {
			tip = a.MaxPriorityFeePerGas.ToInt()
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     uint64(*a.Nonce),
			GasTipCap: tip,
			GasFeeCap: a.MaxFeePerGas.ToInt(),
			Gas:       uint64(*a.Gas),
			To:        a.To,
			Value:     value,
			Data:      data,
		}), nil
	}
	gasPrice := new(big.Int)
	if a.GasPrice != nil {
		gasPrice = a.GasPrice.ToInt()
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    uint64(*a.Nonce),
		GasPrice: gasPrice,
		Gas:      uint64(*a.Gas),
		To:       a.To,
		Value:    value,
		Data:     data,
	}), nil
}
