package entity

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderEventType is an event emitted by the wallet itself.
type ProviderEventType string

const (
	ProviderAccountsChanged ProviderEventType = "accountsChanged"
	ProviderChainChanged    ProviderEventType = "chainChanged"
)

// ProviderEvent is a wallet notification delivered by a transport.
type ProviderEvent struct {
	Type     ProviderEventType `json:"type"`
	Accounts []common.Address  `json:"accounts,omitempty"`
	ChainID  uint64            `json:"chainId,omitempty"`
}

// SessionEventType is a notification published by the session to its observers.
type SessionEventType string

const (
	EventStateChanged    SessionEventType = "state_changed"
	EventAccountChanged  SessionEventType = "account_changed"
	EventChainChanged    SessionEventType = "chain_changed"
	EventNetworkMismatch SessionEventType = "network_mismatch"
	EventTransportError  SessionEventType = "transport_error"
)

// SessionEvent carries the snapshot taken right after the change it describes.
type SessionEvent struct {
	ID         string           `json:"id"`
	Type       SessionEventType `json:"type"`
	Connection WalletConnection `json:"connection"`
	Err        *SessionError    `json:"error,omitempty"`
	At         time.Time        `json:"at"`
}
