package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownContract is returned when no deployment has the requested name.
var ErrUnknownContract = errors.New("unknown contract")

// ContractDeployment is an address book entry: a named contract on a network, read with a schema.
type ContractDeployment struct {
	Name    string `json:"name"`
	Network string `json:"network"`
	ChainID uint64 `json:"chainId"`
	Address string `json:"address"`
	Schema  string `json:"schema"`
	// ABI replaces the ABI generated from the schema. It must still contain the count and getter methods.
	ABI json.RawMessage `json:"abi,omitempty"`
}

// ContractAddress returns the parsed address after checking it is well formed.
func (d ContractDeployment) ContractAddress() (common.Address, error) {
	if !common.IsHexAddress(d.Address) {
		return common.Address{}, fmt.Errorf("contract %s: invalid address %q", d.Name, d.Address)
	}
	return common.HexToAddress(d.Address), nil
}

// CallRequest is one eth_call of a batch.
type CallRequest struct {
	ID   uint64
	To   common.Address
	Data []byte
}

// CallResult is the outcome of one CallRequest. Error is per item, a batch can partially fail.
type CallResult struct {
	ID     uint64
	Output []byte
	Error  error
}

// TxRequest is a transaction the wallet is asked to sign and broadcast.
type TxRequest struct {
	To    *common.Address
	Value *big.Int
	Data  []byte
	Gas   uint64
}
