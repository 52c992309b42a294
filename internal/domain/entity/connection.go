package entity

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SessionStatus is the lifecycle state of the wallet session.
type SessionStatus string

const (
	StatusDisconnected SessionStatus = "disconnected"
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	// StatusError is a disconnected state entered when the transport itself dropped.
	StatusError SessionStatus = "error"
)

// TransportKind names one of the ways a wallet can be reached.
type TransportKind string

const (
	TransportInjected  TransportKind = "injected"
	TransportDedicated TransportKind = "dedicated"
	TransportRemote    TransportKind = "remote"
)

// AllTransportKinds lists the supported kinds in preference order.
var AllTransportKinds = []TransportKind{TransportInjected, TransportDedicated, TransportRemote}

// ParseTransportKind accepts the kind names case-insensitively, plus a couple of common aliases.
func ParseTransportKind(s string) (TransportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "injected", "browser", "":
		return TransportInjected, nil
	case "dedicated", "extension":
		return TransportDedicated, nil
	case "remote", "qr", "walletconnect":
		return TransportRemote, nil
	default:
		return "", fmt.Errorf("unknown transport kind %q", s)
	}
}

// SigningHandle is the part of a signer the domain layer needs to know about.
type SigningHandle interface {
	Address() common.Address
	ChainID() *big.Int
}

// WalletConnection is a snapshot of the session.
// Connected implies Account and Signer are set. Disconnected and Error imply both are nil.
type WalletConnection struct {
	Status          SessionStatus   `json:"status"`
	Transport       TransportKind   `json:"transport,omitempty"`
	Account         *common.Address `json:"account,omitempty"`
	ChainID         *uint64         `json:"chainId,omitempty"`
	Signer          SigningHandle   `json:"-"`
	NetworkMismatch bool            `json:"networkMismatch"`
	ConnectedAt     time.Time       `json:"connectedAt,omitempty"`
	LastError       *SessionError   `json:"lastError,omitempty"`
}

// IsConnected reports whether the snapshot holds a usable account and signer.
func (c WalletConnection) IsConnected() bool {
	return c.Status == StatusConnected && c.Account != nil && c.Signer != nil
}

// ChainIDHex returns the chain id in wallet notation, or "" when unknown.
func (c WalletConnection) ChainIDHex() string {
	if c.ChainID == nil {
		return ""
	}
	return fmt.Sprintf("0x%x", *c.ChainID)
}
