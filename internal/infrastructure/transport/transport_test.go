package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"wallet_session/internal/domain/entity"
	"wallet_session/internal/infrastructure/transport/memwallet"
	"wallet_session/internal/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serveWallet(t *testing.T, w *memwallet.Wallet) *rpc.Server {
	t.Helper()
	server, err := memwallet.NewRPCServer(w)
	require.NoError(t, err)
	t.Cleanup(server.Stop)
	return server
}

func nextEvent(t *testing.T, sink <-chan entity.ProviderEvent) entity.ProviderEvent {
	t.Helper()
	select {
	case ev := <-sink:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no provider event")
		return entity.ProviderEvent{}
	}
}

func TestRPCTransportOverHTTP(t *testing.T) {
	w := memwallet.MustNew(memwallet.Options{ChainID: 1})
	srv := httptest.NewServer(serveWallet(t, w))
	defer srv.Close()
	ctx := context.Background()

	tr, err := DialRPCTransport(ctx, entity.TransportInjected, srv.URL, RPCOptions{PollInterval: 20 * time.Millisecond}, logger.NewNop())
	require.NoError(t, err)
	defer tr.Close()

	var accs []common.Address
	require.NoError(t, tr.Request(ctx, &accs, "eth_requestAccounts"))
	require.Len(t, accs, 1)

	err = tr.Request(ctx, nil, "wallet_switchEthereumChain", entity.SwitchEthereumChainParameter{ChainID: "0x413"})
	code, ok := entity.ProviderErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, entity.CodeUnrecognizedChain, code)
	assert.True(t, entity.IsUnrecognizedChain(err))

	// HTTP has no notifications, so the transport polls.
	sink := make(chan entity.ProviderEvent, 4)
	sub, err := tr.SubscribeEvents(ctx, sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	w.SetChain(1043)
	ev := nextEvent(t, sink)
	assert.Equal(t, entity.ProviderChainChanged, ev.Type)
	assert.Equal(t, uint64(1043), ev.ChainID)

	w.SetAccounts()
	ev = nextEvent(t, sink)
	assert.Equal(t, entity.ProviderAccountsChanged, ev.Type)
	assert.Empty(t, ev.Accounts)
}

func TestRPCTransportPollingFailsWhenEndpointGoesAway(t *testing.T) {
	w := memwallet.MustNew(memwallet.Options{})
	srv := httptest.NewServer(serveWallet(t, w))
	ctx := context.Background()

	tr, err := DialRPCTransport(ctx, entity.TransportDedicated, srv.URL, RPCOptions{PollInterval: 20 * time.Millisecond}, logger.NewNop())
	require.NoError(t, err)
	defer tr.Close()

	sub, err := tr.SubscribeEvents(ctx, make(chan entity.ProviderEvent, 1))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	srv.Close()
	select {
	case err := <-sub.Err():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not report the lost endpoint")
	}
}

func TestRPCTransportSubscription(t *testing.T) {
	w := memwallet.MustNew(memwallet.Options{ChainID: 1})
	client := rpc.DialInProc(serveWallet(t, w))
	tr := NewRPCTransport(entity.TransportInjected, "inproc", client, RPCOptions{}, logger.NewNop())
	defer tr.Close()
	ctx := context.Background()

	sink := make(chan entity.ProviderEvent, 4)
	sub, err := tr.SubscribeEvents(ctx, sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	var id hexutil.Uint64
	require.NoError(t, tr.Request(ctx, &id, "eth_chainId"))
	assert.Equal(t, hexutil.Uint64(1), id)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	w.SetAccounts(addr)
	ev := nextEvent(t, sink)
	assert.Equal(t, entity.ProviderAccountsChanged, ev.Type)
	assert.Equal(t, []common.Address{addr}, ev.Accounts)
}

func TestRPCTransportNoSwitch(t *testing.T) {
	w := memwallet.MustNew(memwallet.Options{})
	tr := NewRPCTransport(entity.TransportDedicated, "inproc", rpc.DialInProc(serveWallet(t, w)), RPCOptions{NoChainSwitch: true}, logger.NewNop())
	defer tr.Close()
	assert.False(t, tr.SupportsChainSwitch())
	assert.Equal(t, entity.TransportDedicated, tr.Kind())
}

func TestDetectorNoProvider(t *testing.T) {
	d := NewDetector(DetectorConfig{
		Dedicated:    Endpoint{URL: "http://127.0.0.1:1"},
		ProbeTimeout: 500 * time.Millisecond,
	}, nil, zap.NewNop())
	ctx := context.Background()

	for _, kind := range entity.AllTransportKinds {
		_, err := d.Detect(ctx, kind)
		assert.ErrorIs(t, err, entity.ErrNoProviderDetected, "kind %s", kind)
	}
	_, err := d.Detect(ctx, entity.TransportKind("carrier-pigeon"))
	assert.ErrorIs(t, err, entity.ErrNoProviderDetected)
}

func TestDetectorMemoryWallet(t *testing.T) {
	d := NewDetector(DetectorConfig{
		Injected:  Endpoint{URL: "memory://dev?chain=0x413"},
		Dedicated: Endpoint{URL: "memory://ext?switch=false"},
	}, nil, zap.NewNop())
	ctx := context.Background()

	first, err := d.Detect(ctx, entity.TransportInjected)
	require.NoError(t, err)
	second, err := d.Detect(ctx, entity.TransportInjected)
	require.NoError(t, err)
	assert.Same(t, first, second)

	w, ok := d.MemoryWallet(entity.TransportInjected)
	require.True(t, ok)
	assert.Equal(t, uint64(1043), w.ChainID())

	ext, err := d.Detect(ctx, entity.TransportDedicated)
	require.NoError(t, err)
	assert.False(t, ext.SupportsChainSwitch())
	assert.Equal(t, entity.TransportDedicated, ext.Kind())
}

func TestDetectorDialsHTTPWallet(t *testing.T) {
	w := memwallet.MustNew(memwallet.Options{})
	srv := httptest.NewServer(serveWallet(t, w))
	defer srv.Close()

	d := NewDetector(DetectorConfig{Injected: Endpoint{URL: srv.URL}}, nil, zap.NewNop())
	tr, err := d.Detect(context.Background(), entity.TransportInjected)
	require.NoError(t, err)
	defer tr.Close()
	assert.IsType(t, &RPCTransport{}, tr)
}
