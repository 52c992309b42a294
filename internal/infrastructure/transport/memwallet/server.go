package memwallet

import (
	"context"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// EventsSubscription is the wallet_subscribe name under which provider events are pushed.
const EventsSubscription = "events"

// NewRPCServer exposes w over JSON-RPC so that rpc transports can reach it over HTTP, WS or in-process.
// Wallet errors keep their EIP-1193 codes on the wire.
func NewRPCServer(w *Wallet) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("eth", &ethAPI{w: w}); err != nil {
		return nil, err
	}
	if err := server.RegisterName("wallet", &walletAPI{w: w}); err != nil {
		return nil, err
	}
	if err := server.RegisterName("personal", &personalAPI{w: w}); err != nil {
		return nil, err
	}
	return server, nil
}

type ethAPI struct{ w *Wallet }

func (api *ethAPI) ChainId(ctx context.Context) (hexutil.Uint64, error) {
	var id hexutil.Uint64
	err := api.w.Request(ctx, &id, "eth_chainId")
	return id, err
}

func (api *ethAPI) Accounts(ctx context.Context) ([]common.Address, error) {
	var accs []common.Address
	err := api.w.Request(ctx, &accs, "eth_accounts")
	return accs, err
}

func (api *ethAPI) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accs []common.Address
	err := api.w.Request(ctx, &accs, "eth_requestAccounts")
	return accs, err
}

func (api *ethAPI) SignTransaction(ctx context.Context, args entity.TransactionArgs) (hexutil.Bytes, error) {
	var raw hexutil.Bytes
	err := api.w.Request(ctx, &raw, "eth_signTransaction", args)
	return raw, err
}

func (api *ethAPI) SendTransaction(ctx context.Context, args entity.TransactionArgs) (common.Hash, error) {
	var hash common.Hash
	err := api.w.Request(ctx, &hash, "eth_sendTransaction", args)
	return hash, err
}

type walletAPI struct{ w *Wallet }

func (api *walletAPI) SwitchEthereumChain(ctx context.Context, p entity.SwitchEthereumChainParameter) error {
	return api.w.Request(ctx, nil, "wallet_switchEthereumChain", p)
}

func (api *walletAPI) AddEthereumChain(ctx context.Context, p entity.AddEthereumChainParameter) error {
	return api.w.Request(ctx, nil, "wallet_addEthereumChain", p)
}

// Events streams accountsChanged and chainChanged until the client unsubscribes or the wallet drops.
func (api *walletAPI) Events(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()

	ch := make(chan entity.ProviderEvent, 16)
	walletSub, err := api.w.SubscribeEvents(ctx, ch)
	if err != nil {
		return nil, err
	}
	go func() {
		defer walletSub.Unsubscribe()
		for {
			select {
			case ev := <-ch:
				_ = notifier.Notify(rpcSub.ID, ev)
			case <-rpcSub.Err():
				return
			case <-walletSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

type personalAPI struct{ w *Wallet }

func (api *personalAPI) Sign(ctx context.Context, data hexutil.Bytes, addr common.Address) (hexutil.Bytes, error) {
	var sig hexutil.Bytes
	err := api.w.Request(ctx, &sig, "personal_sign", data, addr)
	return sig, err
}
