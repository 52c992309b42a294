package memwallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ecdsaKey struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func (k *ecdsaKey) list() []*ecdsa.PrivateKey { return []*ecdsa.PrivateKey{k.key} }

func testKey(t *testing.T) *ecdsaKey {
	t.Helper()
	key, err := crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)
	return &ecdsaKey{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func TestRequestAccountsAuthorizes(t *testing.T) {
	ctx := context.Background()
	w := MustNew(Options{ChainID: 1043})

	var before []common.Address
	require.NoError(t, w.Request(ctx, &before, "eth_accounts"))
	assert.Empty(t, before)

	var accs []common.Address
	require.NoError(t, w.Request(ctx, &accs, "eth_requestAccounts"))
	require.Len(t, accs, 1)

	var after []common.Address
	require.NoError(t, w.Request(ctx, &after, "eth_accounts"))
	assert.Equal(t, accs, after)

	var chain hexutil.Uint64
	require.NoError(t, w.Request(ctx, &chain, "eth_chainId"))
	assert.Equal(t, hexutil.Uint64(1043), chain)
}

func TestBehaviorKnobs(t *testing.T) {
	ctx := context.Background()
	w := MustNew(Options{})

	w.SetBehavior(Behavior{RejectAccounts: true})
	err := w.Request(ctx, nil, "eth_requestAccounts")
	assert.True(t, entity.IsUserRejection(err))

	w.SetBehavior(Behavior{ReturnNoAccounts: true})
	var accs []common.Address
	require.NoError(t, w.Request(ctx, &accs, "eth_requestAccounts"))
	assert.Empty(t, accs)
}

func TestSwitchUnknownChainThenAdd(t *testing.T) {
	ctx := context.Background()
	w := MustNew(Options{ChainID: 1})
	target := entity.NetworkDescriptor{
		Identifier:     "bdag",
		ChainID:        1043,
		ChainIDHex:     "0x413",
		RPCURLs:        []string{"https://rpc.example"},
		NativeCurrency: entity.NativeCurrency{Name: "BlockDAG", Symbol: "BDAG", Decimals: 18},
	}

	err := w.Request(ctx, nil, "wallet_switchEthereumChain", target.SwitchParams())
	code, ok := entity.ProviderErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, entity.CodeUnrecognizedChain, code)

	require.NoError(t, w.Request(ctx, nil, "wallet_addEthereumChain", target.AddParams()))
	assert.True(t, w.KnowsChain(1043))

	require.NoError(t, w.Request(ctx, nil, "wallet_switchEthereumChain", target.SwitchParams()))
	assert.Equal(t, uint64(1043), w.ChainID())
	assert.Equal(t, []string{"wallet_switchEthereumChain", "wallet_addEthereumChain", "wallet_switchEthereumChain"}, w.Calls())
}

func TestAddRejectsWrongDecimals(t *testing.T) {
	w := MustNew(Options{})
	p := entity.AddEthereumChainParameter{
		ChainID:        "0x413",
		ChainName:      "bdag",
		RPCURLs:        []string{"https://rpc.example"},
		NativeCurrency: entity.NativeCurrency{Symbol: "BDAG", Decimals: 9},
	}
	err := w.Request(context.Background(), nil, "wallet_addEthereumChain", p)
	code, _ := entity.ProviderErrorCode(err)
	assert.Equal(t, entity.CodeInvalidParams, code)
}

func TestSwitchUnsupported(t *testing.T) {
	w := MustNew(Options{NoSwitch: true})
	assert.False(t, w.SupportsChainSwitch())
	err := w.Request(context.Background(), nil, "wallet_switchEthereumChain", entity.SwitchEthereumChainParameter{ChainID: "0x1"})
	code, _ := entity.ProviderErrorCode(err)
	assert.Equal(t, entity.CodeUnsupportedMethod, code)
}

func TestUnknownMethod(t *testing.T) {
	w := MustNew(Options{})
	err := w.Request(context.Background(), nil, "eth_foo")
	code, _ := entity.ProviderErrorCode(err)
	assert.Equal(t, entity.CodeMethodNotSupported, code)
}

func TestPersonalSignRecoversAddress(t *testing.T) {
	ctx := context.Background()
	k := testKey(t)
	w := MustNew(Options{Keys: k.list()})
	require.NoError(t, w.Request(ctx, nil, "eth_requestAccounts"))

	msg := []byte("hello")
	var sig hexutil.Bytes
	require.NoError(t, w.Request(ctx, &sig, "personal_sign", hexutil.Bytes(msg), k.addr))
	require.Len(t, sig, crypto.SignatureLength)

	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, k.addr, crypto.PubkeyToAddress(*pub))
}

func TestSignTransactionRequiresAuthorization(t *testing.T) {
	ctx := context.Background()
	k := testKey(t)
	w := MustNew(Options{Keys: k.list(), ChainID: 1043})
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	args := entity.ArgsFromRequest(k.addr, entity.TxRequest{To: &to, Value: big.NewInt(1)})

	err := w.Request(ctx, nil, "eth_signTransaction", args)
	code, _ := entity.ProviderErrorCode(err)
	assert.Equal(t, entity.CodeUnauthorized, code)

	require.NoError(t, w.Request(ctx, nil, "eth_requestAccounts"))
	var raw hexutil.Bytes
	require.NoError(t, w.Request(ctx, &raw, "eth_signTransaction", args))

	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1043)), tx)
	require.NoError(t, err)
	assert.Equal(t, k.addr, from)
	assert.Equal(t, to, *tx.To())
}

func TestSendTransactionRecordsTx(t *testing.T) {
	ctx := context.Background()
	k := testKey(t)
	w := MustNew(Options{Keys: k.list(), ChainID: 1043})
	require.NoError(t, w.Request(ctx, nil, "eth_requestAccounts"))

	var hash common.Hash
	require.NoError(t, w.Request(ctx, &hash, "eth_sendTransaction", entity.ArgsFromRequest(k.addr, entity.TxRequest{Data: []byte{1, 2}})))
	sent := w.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Hash(), hash)
	assert.Equal(t, uint64(300000), sent[0].Gas())
}

func TestEventsAndDrop(t *testing.T) {
	w := MustNew(Options{ChainID: 1})
	sink := make(chan entity.ProviderEvent, 4)
	sub, err := w.SubscribeEvents(context.Background(), sink)
	require.NoError(t, err)

	w.SetChain(1043)
	ev := <-sink
	assert.Equal(t, entity.ProviderChainChanged, ev.Type)
	assert.Equal(t, uint64(1043), ev.ChainID)

	w.SetAccounts()
	ev = <-sink
	assert.Equal(t, entity.ProviderAccountsChanged, ev.Type)
	assert.Empty(t, ev.Accounts)

	boom := errors.New("socket closed")
	w.Drop(boom)
	select {
	case err := <-sub.Err():
		assert.Equal(t, boom, err)
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
}

func TestHoldAccountRequests(t *testing.T) {
	w := MustNew(Options{})
	release := w.HoldAccountRequests()

	done := make(chan error, 1)
	go func() { done <- w.Request(context.Background(), nil, "eth_requestAccounts") }()

	select {
	case <-done:
		t.Fatal("request returned while held")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	require.NoError(t, <-done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w.HoldAccountRequests()
	assert.ErrorIs(t, w.Request(ctx, nil, "eth_requestAccounts"), context.DeadlineExceeded)
}
