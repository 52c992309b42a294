package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultPollInterval = 2 * time.Second
	eventsNamespace     = "wallet"
	eventsSubscription  = "events"
)

// RPCTransport reaches a wallet through a JSON-RPC endpoint (injected bridge or dedicated extension host).
type RPCTransport struct {
	kind         entity.TransportKind
	endpoint     string
	client       *rpc.Client
	canSwitch    bool
	pollInterval time.Duration
	logger       port.Logger
}

// RPCOptions tune an RPCTransport.
type RPCOptions struct {
	NoChainSwitch bool
	PollInterval  time.Duration
}

// NewRPCTransport wraps an already dialed client.
func NewRPCTransport(kind entity.TransportKind, endpoint string, client *rpc.Client, opts RPCOptions, logger port.Logger) *RPCTransport {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &RPCTransport{
		kind:         kind,
		endpoint:     endpoint,
		client:       client,
		canSwitch:    !opts.NoChainSwitch,
		pollInterval: opts.PollInterval,
		logger:       logger,
	}
}

// DialRPCTransport dials endpoint and probes it with eth_chainId.
// Anything that does not answer the probe counts as no provider.
func DialRPCTransport(ctx context.Context, kind entity.TransportKind, endpoint string, opts RPCOptions, logger port.Logger) (*RPCTransport, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, entity.NewSessionError(entity.KindNoProviderDetected, fmt.Sprintf("%s wallet at %s is unreachable", kind, endpoint), err)
	}
	t := NewRPCTransport(kind, endpoint, client, opts, logger)
	var id entity.WalletChainID
	if err := t.Request(ctx, &id, "eth_chainId"); err != nil {
		client.Close()
		return nil, entity.NewSessionError(entity.KindNoProviderDetected, fmt.Sprintf("%s wallet at %s did not answer", kind, endpoint), err)
	}
	logger.Debug("Wallet endpoint answered", "kind", kind, "endpoint", endpoint, "chain_id", uint64(id))
	return t, nil
}

func (t *RPCTransport) Kind() entity.TransportKind { return t.kind }

func (t *RPCTransport) SupportsChainSwitch() bool { return t.canSwitch }

// Request sends one call. A nil result discards the answer.
func (t *RPCTransport) Request(ctx context.Context, result any, method string, params ...any) error {
	if result == nil {
		result = new(json.RawMessage)
	}
	return t.client.CallContext(ctx, result, method, params...)
}

// SubscribeEvents uses wallet_subscribe when the connection supports notifications and
// falls back to polling eth_accounts / eth_chainId otherwise.
func (t *RPCTransport) SubscribeEvents(ctx context.Context, sink chan<- entity.ProviderEvent) (event.Subscription, error) {
	sub, err := t.client.Subscribe(ctx, eventsNamespace, sink, eventsSubscription)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return nil, err
	}
	t.logger.Debug("Notifications unsupported, polling wallet state", "endpoint", t.endpoint, "interval", t.pollInterval)
	return t.poll(ctx, sink)
}

func (t *RPCTransport) poll(ctx context.Context, sink chan<- entity.ProviderEvent) (event.Subscription, error) {
	accounts, chainID, err := t.readState(ctx)
	if err != nil {
		return nil, err
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := time.NewTicker(t.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}

			reqCtx, cancel := context.WithTimeout(context.Background(), t.pollInterval)
			nextAccounts, nextChain, err := t.readState(reqCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("poll %s: %w", t.endpoint, err)
			}

			var events []entity.ProviderEvent
			if !sameAccounts(accounts, nextAccounts) {
				events = append(events, entity.ProviderEvent{Type: entity.ProviderAccountsChanged, Accounts: nextAccounts})
			}
			if nextChain != chainID {
				events = append(events, entity.ProviderEvent{Type: entity.ProviderChainChanged, ChainID: nextChain})
			}
			accounts, chainID = nextAccounts, nextChain

			for _, ev := range events {
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (t *RPCTransport) readState(ctx context.Context) ([]common.Address, uint64, error) {
	var accounts []common.Address
	if err := t.Request(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, 0, err
	}
	var id entity.WalletChainID
	if err := t.Request(ctx, &id, "eth_chainId"); err != nil {
		return nil, 0, err
	}
	return accounts, uint64(id), nil
}

// Close drops the local connection only.
func (t *RPCTransport) Close() error {
	t.client.Close()
	return nil
}

func sameAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ port.WalletTransport = (*RPCTransport)(nil)
