package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 and EIP-3085/3326 provider error codes.
const (
	CodeUserRejected       = 4001
	CodeUnauthorized       = 4100
	CodeUnsupportedMethod  = 4200
	CodeDisconnected       = 4900
	CodeChainDisconnected  = 4901
	CodeUnrecognizedChain  = 4902
	CodeRequestPending     = -32002
	CodeInternalError      = -32603
	CodeInvalidParams      = -32602
	CodeMethodNotSupported = -32601
)

// ProviderRPCError is a wallet error carrying an EIP-1193 code.
// It satisfies rpc.Error and rpc.DataError so it travels unchanged through go-ethereum's rpc server.
type ProviderRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ProviderRPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

func (e *ProviderRPCError) ErrorCode() int { return e.Code }

func (e *ProviderRPCError) ErrorData() interface{} { return e.Data }

var (
	_ rpc.Error     = (*ProviderRPCError)(nil)
	_ rpc.DataError = (*ProviderRPCError)(nil)
)

// ProviderErrorCode extracts the JSON-RPC error code from err, if it carries one.
func ProviderErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// IsUserRejection reports whether the wallet declined the request.
func IsUserRejection(err error) bool {
	code, ok := ProviderErrorCode(err)
	return ok && code == CodeUserRejected
}

// IsUnrecognizedChain reports whether the wallet does not know the requested chain.
// Some wallets answer with -32603 and a message instead of 4902, so the message is checked too.
func IsUnrecognizedChain(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := ProviderErrorCode(err); ok && code == CodeUnrecognizedChain {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unrecognized chain") || strings.Contains(msg, "chain not found")
}
