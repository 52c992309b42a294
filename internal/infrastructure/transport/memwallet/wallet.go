// Package memwallet is an in-process, key-backed wallet speaking the EIP-1193 request protocol.
// It serves memory:// endpoints for local development and backs the session tests.
package memwallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

// ErrDropped is returned on event subscriptions after Drop when no error was given.
var ErrDropped = errors.New("wallet connection dropped")

// Behavior makes the wallet refuse or fail specific steps.
type Behavior struct {
	RejectAccounts   bool // eth_requestAccounts answers 4001
	ReturnNoAccounts bool // eth_requestAccounts answers []
	RejectSwitch     bool // wallet_switchEthereumChain answers 4001
	RejectAdd        bool // wallet_addEthereumChain answers 4001
	FailAdd          bool // wallet_addEthereumChain answers -32603
	RejectSigning    bool // signing requests answer 4001
}

// Options configure a new wallet.
type Options struct {
	Kind        entity.TransportKind
	Keys        []*ecdsa.PrivateKey // generated when empty
	ChainID     uint64              // active chain, defaults to 1
	KnownChains []uint64            // chains the wallet can switch to without registration
	NoSwitch    bool                // hide the chain switching capability
}

// Wallet is safe for concurrent use.
type Wallet struct {
	mu         sync.Mutex
	kind       entity.TransportKind
	keys       map[common.Address]*ecdsa.PrivateKey
	accounts   []common.Address
	chainID    uint64
	known      map[uint64]entity.AddEthereumChainParameter
	canSwitch  bool
	authorized bool
	behavior   Behavior
	calls      []string
	gate       chan struct{}
	nonce      uint64
	sent       []*types.Transaction
	closes     int

	feed     event.FeedOf[entity.ProviderEvent]
	dropOnce sync.Once
	dropCh   chan struct{}
	dropErr  error
}

// New creates a wallet.
func New(opts Options) (*Wallet, error) {
	w := &Wallet{
		kind:      opts.Kind,
		keys:      make(map[common.Address]*ecdsa.PrivateKey),
		chainID:   opts.ChainID,
		known:     make(map[uint64]entity.AddEthereumChainParameter),
		canSwitch: !opts.NoSwitch,
		dropCh:    make(chan struct{}),
	}
	if w.kind == "" {
		w.kind = entity.TransportInjected
	}
	if w.chainID == 0 {
		w.chainID = 1
	}
	keys := opts.Keys
	if len(keys) == 0 {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate wallet key: %w", err)
		}
		keys = []*ecdsa.PrivateKey{key}
	}
	for _, key := range keys {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		w.keys[addr] = key
		w.accounts = append(w.accounts, addr)
	}
	w.known[w.chainID] = entity.AddEthereumChainParameter{ChainID: hexutil.EncodeUint64(w.chainID)}
	for _, id := range opts.KnownChains {
		w.known[id] = entity.AddEthereumChainParameter{ChainID: hexutil.EncodeUint64(id)}
	}
	return w, nil
}

// MustNew is New for tests and fixed setups.
func MustNew(opts Options) *Wallet {
	w, err := New(opts)
	if err != nil {
		panic(err)
	}
	return w
}

// Kind implements port.WalletTransport.
func (w *Wallet) Kind() entity.TransportKind { return w.kind }

// SupportsChainSwitch implements port.WalletTransport.
func (w *Wallet) SupportsChainSwitch() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canSwitch
}

// Close only counts; the wallet itself outlives session handles.
func (w *Wallet) Close() error {
	w.mu.Lock()
	w.closes++
	w.mu.Unlock()
	return nil
}

// Request implements port.WalletTransport.
func (w *Wallet) Request(ctx context.Context, result any, method string, params ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.calls = append(w.calls, method)
	w.mu.Unlock()

	answer, err := w.dispatch(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (w *Wallet) dispatch(ctx context.Context, method string, params []any) (any, error) {
	switch method {
	case "eth_chainId":
		w.mu.Lock()
		defer w.mu.Unlock()
		return hexutil.Uint64(w.chainID), nil

	case "eth_accounts":
		w.mu.Lock()
		defer w.mu.Unlock()
		if !w.authorized {
			return []common.Address{}, nil
		}
		return append([]common.Address(nil), w.accounts...), nil

	case "eth_requestAccounts":
		return w.requestAccounts(ctx)

	case "wallet_switchEthereumChain":
		var p entity.SwitchEthereumChainParameter
		if err := decodeParam(params, 0, &p); err != nil {
			return nil, err
		}
		return nil, w.switchChain(ctx, p)

	case "wallet_addEthereumChain":
		var p entity.AddEthereumChainParameter
		if err := decodeParam(params, 0, &p); err != nil {
			return nil, err
		}
		return nil, w.addChain(p)

	case "personal_sign":
		var data hexutil.Bytes
		var addr common.Address
		if err := decodeParam(params, 0, &data); err != nil {
			return nil, err
		}
		if err := decodeParam(params, 1, &addr); err != nil {
			return nil, err
		}
		return w.personalSign(addr, data)

	case "eth_signTransaction":
		var args entity.TransactionArgs
		if err := decodeParam(params, 0, &args); err != nil {
			return nil, err
		}
		tx, err := w.signTransaction(args)
		if err != nil {
			return nil, err
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return hexutil.Bytes(raw), nil

	case "eth_sendTransaction":
		var args entity.TransactionArgs
		if err := decodeParam(params, 0, &args); err != nil {
			return nil, err
		}
		tx, err := w.signTransaction(args)
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		w.sent = append(w.sent, tx)
		w.mu.Unlock()
		return tx.Hash(), nil

	default:
		return nil, &entity.ProviderRPCError{Code: entity.CodeUnsupportedMethod, Message: fmt.Sprintf("method %s is not supported", method)}
	}
}

func (w *Wallet) requestAccounts(ctx context.Context) (any, error) {
	w.mu.Lock()
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.behavior.RejectAccounts:
		return nil, &entity.ProviderRPCError{Code: entity.CodeUserRejected, Message: "User rejected the request."}
	case w.behavior.ReturnNoAccounts:
		return []common.Address{}, nil
	}
	w.authorized = true
	return append([]common.Address(nil), w.accounts...), nil
}

func (w *Wallet) switchChain(ctx context.Context, p entity.SwitchEthereumChainParameter) error {
	id, err := entity.ParseChainID(p.ChainID)
	if err != nil {
		return &entity.ProviderRPCError{Code: entity.CodeInvalidParams, Message: err.Error()}
	}

	w.mu.Lock()
	if !w.canSwitch {
		w.mu.Unlock()
		return &entity.ProviderRPCError{Code: entity.CodeUnsupportedMethod, Message: "chain switching is not supported"}
	}
	if w.behavior.RejectSwitch {
		w.mu.Unlock()
		return &entity.ProviderRPCError{Code: entity.CodeUserRejected, Message: "User rejected the request."}
	}
	if _, ok := w.known[id]; !ok {
		w.mu.Unlock()
		return &entity.ProviderRPCError{
			Code:    entity.CodeUnrecognizedChain,
			Message: fmt.Sprintf("Unrecognized chain ID %q. Try adding the chain using wallet_addEthereumChain first.", p.ChainID),
		}
	}
	changed := w.chainID != id
	w.chainID = id
	w.mu.Unlock()

	if changed {
		w.emit(ctx, entity.ProviderEvent{Type: entity.ProviderChainChanged, ChainID: id})
	}
	return nil
}

func (w *Wallet) addChain(p entity.AddEthereumChainParameter) error {
	id, err := entity.ParseChainID(p.ChainID)
	if err != nil {
		return &entity.ProviderRPCError{Code: entity.CodeInvalidParams, Message: err.Error()}
	}
	if len(p.RPCURLs) == 0 || p.NativeCurrency.Decimals != entity.NativeCurrencyDecimals || p.NativeCurrency.Symbol == "" {
		return &entity.ProviderRPCError{Code: entity.CodeInvalidParams, Message: "invalid chain parameters"}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.behavior.RejectAdd {
		return &entity.ProviderRPCError{Code: entity.CodeUserRejected, Message: "User rejected the request."}
	}
	if w.behavior.FailAdd {
		return &entity.ProviderRPCError{Code: entity.CodeInternalError, Message: "could not add chain"}
	}
	w.known[id] = p
	return nil
}

func (w *Wallet) keyFor(addr common.Address) (*ecdsa.PrivateKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.behavior.RejectSigning {
		return nil, &entity.ProviderRPCError{Code: entity.CodeUserRejected, Message: "User denied signature."}
	}
	if !w.authorized {
		return nil, &entity.ProviderRPCError{Code: entity.CodeUnauthorized, Message: "account not authorized"}
	}
	key, ok := w.keys[addr]
	if !ok {
		return nil, &entity.ProviderRPCError{Code: entity.CodeUnauthorized, Message: fmt.Sprintf("unknown account %s", addr.Hex())}
	}
	return key, nil
}

func (w *Wallet) personalSign(addr common.Address, data []byte) (hexutil.Bytes, error) {
	key, err := w.keyFor(addr)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(data), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (w *Wallet) signTransaction(args entity.TransactionArgs) (*types.Transaction, error) {
	if args.From == nil {
		return nil, &entity.ProviderRPCError{Code: entity.CodeInvalidParams, Message: "from is required"}
	}
	key, err := w.keyFor(*args.From)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	chainID := new(big.Int).SetUint64(w.chainID)
	if args.Nonce == nil {
		n := hexutil.Uint64(w.nonce)
		args.Nonce = &n
	}
	w.nonce++
	w.mu.Unlock()

	if args.ChainID != nil && args.ChainID.ToInt().Cmp(chainID) != 0 {
		return nil, &entity.ProviderRPCError{Code: entity.CodeInvalidParams, Message: fmt.Sprintf("chainId %s does not match active chain %s", args.ChainID.ToInt(), chainID)}
	}
	if args.Gas == nil {
		gas := hexutil.Uint64(21000)
		if args.Data != nil && len(*args.Data) > 0 {
			gas = 300000
		}
		args.Gas = &gas
	}

	tx, err := args.ToTransaction(chainID)
	if err != nil {
		return nil, &entity.ProviderRPCError{Code: entity.CodeInvalidParams, Message: err.Error()}
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

// SubscribeEvents implements port.WalletTransport.
func (w *Wallet) SubscribeEvents(_ context.Context, sink chan<- entity.ProviderEvent) (event.Subscription, error) {
	inner := w.feed.Subscribe(sink)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer inner.Unsubscribe()
		select {
		case <-quit:
			return nil
		case <-w.dropCh:
			w.mu.Lock()
			err := w.dropErr
			w.mu.Unlock()
			return err
		}
	}), nil
}

func (w *Wallet) emit(_ context.Context, ev entity.ProviderEvent) {
	w.feed.Send(ev)
}

// SetAccounts replaces the exposed accounts and emits accountsChanged.
// Unknown addresses are exposed but can't sign.
func (w *Wallet) SetAccounts(addrs ...common.Address) {
	w.mu.Lock()
	w.accounts = append([]common.Address(nil), addrs...)
	w.mu.Unlock()
	w.emit(context.Background(), entity.ProviderEvent{Type: entity.ProviderAccountsChanged, Accounts: addrs})
}

// AddKey makes key's account signable and returns its address without exposing it.
func (w *Wallet) AddKey(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	w.mu.Lock()
	w.keys[addr] = key
	w.mu.Unlock()
	return addr
}

// SetChain moves the wallet to chainID as if the user switched manually and emits chainChanged.
func (w *Wallet) SetChain(chainID uint64) {
	w.mu.Lock()
	w.chainID = chainID
	w.known[chainID] = entity.AddEthereumChainParameter{ChainID: hexutil.EncodeUint64(chainID)}
	w.mu.Unlock()
	w.emit(context.Background(), entity.ProviderEvent{Type: entity.ProviderChainChanged, ChainID: chainID})
}

// SetBehavior replaces the failure knobs.
func (w *Wallet) SetBehavior(b Behavior) {
	w.mu.Lock()
	w.behavior = b
	w.mu.Unlock()
}

// HoldAccountRequests makes eth_requestAccounts block until the returned release is called.
func (w *Wallet) HoldAccountRequests() (release func()) {
	gate := make(chan struct{})
	w.mu.Lock()
	w.gate = gate
	w.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
			w.mu.Lock()
			if w.gate == gate {
				w.gate = nil
			}
			w.mu.Unlock()
		})
	}
}

// Drop ends every event subscription with err, simulating a lost connection.
func (w *Wallet) Drop(err error) {
	if err == nil {
		err = ErrDropped
	}
	w.dropOnce.Do(func() {
		w.mu.Lock()
		w.dropErr = err
		w.mu.Unlock()
		close(w.dropCh)
	})
}

// Accounts returns the exposed accounts.
func (w *Wallet) Accounts() []common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]common.Address(nil), w.accounts...)
}

// ChainID returns the active chain.
func (w *Wallet) ChainID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID
}

// KnowsChain reports whether chainID was registered or built in.
func (w *Wallet) KnowsChain(chainID uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.known[chainID]
	return ok
}

// Calls returns the methods requested so far, in order.
func (w *Wallet) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

// CallCount counts requests of method.
func (w *Wallet) CallCount(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		if c == method {
			n++
		}
	}
	return n
}

// ResetCalls forgets the request log.
func (w *Wallet) ResetCalls() {
	w.mu.Lock()
	w.calls = nil
	w.mu.Unlock()
}

// Sent returns transactions accepted through eth_sendTransaction.
func (w *Wallet) Sent() []*types.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*types.Transaction(nil), w.sent...)
}

// CloseCount returns how many times a session closed its handle.
func (w *Wallet) CloseCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closes
}

func decodeParam(params []any, idx int, out any) error {
	if idx >= len(params) {
		return &entity.ProviderRPCError{Code: entity.CodeInvalidParams, Message: fmt.Sprintf("missing parameter %d", idx)}
	}
	raw, err := json.Marshal(params[idx])
	if err != nil {
		return &entity.ProviderRPCError{Code: entity.CodeInvalidParams, Message: err.Error()}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &entity.ProviderRPCError{Code: entity.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}
