package contract

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"
	"wallet_session/internal/domain/schema"
	"wallet_session/internal/infrastructure/network/client"
	networkdefinition "wallet_session/internal/infrastructure/network/definition"
	"wallet_session/internal/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const circlesAddress = "0x00000000000000000000000000000000000000c1"

type callArgs struct {
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

func (a callArgs) payload() []byte {
	if a.Input != nil {
		return *a.Input
	}
	if a.Data != nil {
		return *a.Data
	}
	return nil
}

// fakeNode serves the reads of a savings circle contract and accepts raw transactions.
type fakeNode struct {
	abi abi.ABI

	mu   sync.Mutex
	sent []*types.Transaction
}

func (f *fakeNode) ChainId() hexutil.Uint64 { return 1043 }

func (f *fakeNode) Call(args callArgs, block string) (hexutil.Bytes, error) {
	data := args.payload()
	method, err := f.abi.MethodById(data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "circleCount":
		return method.Outputs.Pack(big.NewInt(3))
	case "getCircle":
		in, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(
			in[0].(*big.Int), "circle", common.HexToAddress("0x01"), big.NewInt(1e18),
			big.NewInt(60), big.NewInt(5), big.NewInt(1), big.NewInt(0), big.NewInt(1700000000), true,
		)
	}
	return nil, errors.New("execution reverted")
}

func (f *fakeNode) GetCode(addr common.Address, block string) hexutil.Bytes {
	return hexutil.Bytes{0x60, 0x80}
}

func (f *fakeNode) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(1_000_000_000))
}

func (f *fakeNode) EstimateGas(args callArgs, block *string) hexutil.Uint64 {
	return 90000
}

func (f *fakeNode) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return hexutil.Uint64(len(f.sent))
}

func (f *fakeNode) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	return tx.Hash(), nil
}

func (f *fakeNode) transactions() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

// circlesABI extends the generated read surface with a write method.
func circlesABI(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := schema.ABIJSON(schema.SavingsCircle)
	require.NoError(t, err)
	var doc []map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc = append(doc, map[string]any{
		"type":            "function",
		"name":            "joinCircle",
		"stateMutability": "nonpayable",
		"inputs":          []map[string]string{{"name": "id", "type": "uint256"}},
		"outputs":         []map[string]string{},
	})
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return out
}

type countingReaders struct {
	port.ChainReaderProvider
	calls atomic.Int32
}

func (c *countingReaders) GetReader(ctx context.Context, network entity.NetworkDescriptor) (port.ChainReader, error) {
	c.calls.Add(1)
	return c.ChainReaderProvider.GetReader(ctx, network)
}

type keyedSigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

func (s keyedSigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }
func (s keyedSigner) ChainID() *big.Int { return s.chainID }
func (s keyedSigner) SignTransaction(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
}
func (s keyedSigner) SendTransaction(context.Context, entity.TxRequest) (common.Hash, error) {
	return common.Hash{}, errors.New("not supported")
}
func (s keyedSigner) SignMessage(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("not supported")
}
func (s keyedSigner) TransactOpts(ctx context.Context) *bind.TransactOpts {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		panic(err)
	}
	opts.Context = ctx
	return opts
}

type fixture struct {
	node     *fakeNode
	networks *networkdefinition.NetworkDescriptorProvider
	readers  *countingReaders
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	parsed, err := abi.JSON(bytes.NewReader(circlesABI(t)))
	require.NoError(t, err)
	node := &fakeNode{abi: parsed}

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", node))
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		server.Stop()
	})

	local := networkdefinition.BlockDAGPrimordial
	local.RPCURLs = []string{ts.URL}
	offline := entity.NetworkDescriptor{
		Identifier:     "offline",
		ChainID:        31337,
		RPCURLs:        []string{"http://127.0.0.1:1"},
		NativeCurrency: entity.NativeCurrency{Symbol: "ETH", Decimals: 18},
	}
	networks, err := networkdefinition.NewNetworkDescriptorProvider(logger.NewNop(), "", []entity.NetworkDescriptor{local, offline})
	require.NoError(t, err)

	readers := &countingReaders{ChainReaderProvider: client.NewEVMClientProvider(logger.NewNop(), time.Second, time.Second)}
	t.Cleanup(readers.Close)
	return fixture{node: node, networks: networks, readers: readers}
}

func (f fixture) registry(t *testing.T, deployments ...entity.ContractDeployment) *Registry {
	t.Helper()
	r, err := NewRegistry(deployments, f.networks, f.readers, logger.NewNop())
	require.NoError(t, err)
	return r
}

func circles() entity.ContractDeployment {
	return entity.ContractDeployment{Name: "circles", Address: circlesAddress, Schema: "savings_circle"}
}

func TestNewRegistryRejectsInvalidDeployments(t *testing.T) {
	f := newFixture(t)
	foreignABI := json.RawMessage(`[{"type":"function","name":"other","inputs":[],"outputs":[]}]`)

	tests := []struct {
		name        string
		deployments []entity.ContractDeployment
	}{
		{"duplicate name", []entity.ContractDeployment{circles(), circles()}},
		{"unknown schema", []entity.ContractDeployment{{Name: "x", Address: circlesAddress, Schema: "lottery"}}},
		{"bad address", []entity.ContractDeployment{{Name: "x", Address: "0xzz", Schema: "grant"}}},
		{"unknown network", []entity.ContractDeployment{{Name: "x", Address: circlesAddress, Schema: "grant", Network: "moon"}}},
		{"network and chain disagree", []entity.ContractDeployment{{Name: "x", Address: circlesAddress, Schema: "grant", Network: "ethereum", ChainID: 1043}}},
		{"abi without record methods", []entity.ContractDeployment{{Name: "x", Address: circlesAddress, Schema: "grant", ABI: foreignABI}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.deployments, f.networks, f.readers, logger.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestBindIsLazyAndCached(t *testing.T) {
	f := newFixture(t)
	r := f.registry(t, circles(), entity.ContractDeployment{Name: "grants", Address: circlesAddress, Schema: "grant", ChainID: 1043})

	assert.Equal(t, int32(0), f.readers.calls.Load())
	names := []string{}
	for _, d := range r.Deployments() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"circles", "grants"}, names)

	first, err := r.Bind(context.Background(), "circles")
	require.NoError(t, err)
	second, err := r.Bind(context.Background(), "circles")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.readers.calls.Load())

	assert.Equal(t, common.HexToAddress(circlesAddress), first.Address())
	assert.Equal(t, "savings_circle", first.Schema().Name)
	assert.Equal(t, uint64(1043), first.Reader().Descriptor().ChainID)
}

func TestBindUnknownContract(t *testing.T) {
	f := newFixture(t)
	r := f.registry(t, circles())

	_, err := r.Bind(context.Background(), "nope")
	assert.ErrorIs(t, err, entity.ErrUnknownContract)
	assert.Equal(t, int32(0), f.readers.calls.Load())
}

func TestBindUnreachableNetworkIsTransportError(t *testing.T) {
	f := newFixture(t)
	r := f.registry(t, entity.ContractDeployment{Name: "offline", Address: circlesAddress, Schema: "grant", Network: "offline"})

	_, err := r.Bind(context.Background(), "offline")
	require.Error(t, err)
	assert.Equal(t, entity.KindTransportError, entity.KindOf(err))
}

// gatedReaders holds GetReader for one network until gate is closed.
type gatedReaders struct {
	port.ChainReaderProvider
	network string
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedReaders) GetReader(ctx context.Context, network entity.NetworkDescriptor) (port.ChainReader, error) {
	if network.Identifier == g.network {
		g.entered <- struct{}{}
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.ChainReaderProvider.GetReader(ctx, network)
}

func TestBindSlowNetworkDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	readers := &gatedReaders{ChainReaderProvider: f.readers, network: "offline", entered: make(chan struct{}, 1), gate: make(chan struct{})}
	r, err := NewRegistry([]entity.ContractDeployment{
		circles(),
		{Name: "offline", Address: circlesAddress, Schema: "grant", Network: "offline"},
	}, f.networks, readers, logger.NewNop())
	require.NoError(t, err)

	slow := make(chan error, 1)
	go func() {
		_, err := r.Bind(context.Background(), "offline")
		slow <- err
	}()
	<-readers.entered

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	c, err := r.Bind(ctx, "circles")
	require.NoError(t, err)
	assert.Equal(t, "savings_circle", c.Schema().Name)

	close(readers.gate)
	err = <-slow
	require.Error(t, err)
	assert.Equal(t, entity.KindTransportError, entity.KindOf(err))
}

func TestConcurrentBindDialsOnce(t *testing.T) {
	f := newFixture(t)
	r := f.registry(t, circles())

	var wg sync.WaitGroup
	bound := make([]port.BoundContract, 8)
	for i := range bound {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Bind(context.Background(), "circles")
			assert.NoError(t, err)
			bound[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range bound[1:] {
		assert.Same(t, bound[0], c)
	}
	assert.Equal(t, int32(1), f.readers.calls.Load())
}

func TestCallAndUnpack(t *testing.T) {
	f := newFixture(t)
	r := f.registry(t, circles())

	c, err := r.Bind(context.Background(), "circles")
	require.NoError(t, err)

	out, err := c.Call(context.Background(), "circleCount")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(3), out[0].(*big.Int).Int64())

	data, err := c.Pack("getCircle", big.NewInt(2))
	require.NoError(t, err)
	raw, err := c.Reader().CallContract(context.Background(), entity.CallRequest{ID: 2, To: c.Address(), Data: data})
	require.NoError(t, err)
	values, err := c.Unpack("getCircle", raw)
	require.NoError(t, err)
	assert.Equal(t, "circle", values[1])
}

func TestTransactUsesLegacyGasPriceAndSigner(t *testing.T) {
	f := newFixture(t)
	r := f.registry(t, entity.ContractDeployment{Name: "circles", Address: circlesAddress, Schema: "savings_circle", ABI: circlesABI(t)})

	c, err := r.Bind(context.Background(), "circles")
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := keyedSigner{key: key, chainID: big.NewInt(1043)}

	tx, err := c.Transact(context.Background(), signer, "joinCircle", big.NewInt(1))
	require.NoError(t, err)

	sent := f.node.transactions()
	require.Len(t, sent, 1)
	assert.Equal(t, tx.Hash(), sent[0].Hash())
	assert.Equal(t, uint8(types.LegacyTxType), sent[0].Type())
	assert.Equal(t, big.NewInt(1_000_000_000), sent[0].GasPrice())
	assert.Equal(t, uint64(90000), sent[0].Gas())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1043)), sent[0])
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
}

func TestTransactWithoutSigner(t *testing.T) {
	f := newFixture(t)
	r := f.registry(t, circles())
	c, err := r.Bind(context.Background(), "circles")
	require.NoError(t, err)

	_, err = c.Transact(context.Background(), nil, "circleCount")
	assert.Equal(t, entity.KindTransportError, entity.KindOf(err))
}
