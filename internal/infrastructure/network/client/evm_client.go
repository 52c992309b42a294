package client

import (
	"context"
	"fmt"
	"time"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EVMClient implements port.ChainReader for EVM-compatible chains.
type EVMClient struct {
	ethClient      *ethclient.Client
	netDef         entity.NetworkDescriptor
	rpcURL         string
	rpcCallTimeout time.Duration
}

// NewEVMClient dials the descriptor's RPC URLs in order and returns a client for the first one
// that answers with the expected chain id.
func NewEVMClient(ctx context.Context, netDef entity.NetworkDescriptor, connectionTimeout time.Duration, rpcCallTimeout time.Duration) (*EVMClient, error) {
	if len(netDef.RPCURLs) == 0 {
		return nil, fmt.Errorf("network %s has no rpc urls", netDef.Identifier)
	}
	var lastErr error

	for _, rpcURL := range netDef.RPCURLs {
		dialCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
		client, err := ethclient.DialContext(dialCtx, rpcURL)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
			continue
		}

		currentChainID, chainErr := client.ChainID(dialCtx)
		cancel()
		if chainErr != nil {
			client.Close()
			lastErr = fmt.Errorf("failed to verify chainID for %s: %w", rpcURL, chainErr)
			continue
		}
		if currentChainID.Uint64() != netDef.ChainID {
			client.Close()
			lastErr = fmt.Errorf("chainID mismatch for %s: expected %d, got %d", rpcURL, netDef.ChainID, currentChainID.Uint64())
			continue
		}
		return &EVMClient{ethClient: client, netDef: netDef, rpcURL: rpcURL, rpcCallTimeout: rpcCallTimeout}, nil
	}

	return nil, fmt.Errorf("all RPC connection attempts failed for network %s: %w", netDef.Identifier, lastErr)
}

// ChainID returns the chain id reported by the node.
func (c *EVMClient) ChainID(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.rpcCallTimeout)
	defer cancel()
	id, err := c.ethClient.ChainID(callCtx)
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

// CallContract executes a single eth_call against the latest block.
func (c *EVMClient) CallContract(ctx context.Context, req entity.CallRequest) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.rpcCallTimeout)
	defer cancel()
	to := req.To
	return c.ethClient.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: req.Data}, nil)
}

// BatchCallContract sends all calls as one JSON-RPC batch.
func (c *EVMClient) BatchCallContract(ctx context.Context, reqs []entity.CallRequest) ([]entity.CallResult, error) {
	if len(reqs) == 0 {
		return []entity.CallResult{}, nil
	}

	batchElems := make([]rpc.BatchElem, len(reqs))
	results := make([]entity.CallResult, len(reqs))

	for i, req := range reqs {
		results[i] = entity.CallResult{ID: req.ID}
		callArgs := map[string]interface{}{
			"to":   req.To,
			"data": hexutil.Bytes(req.Data),
		}
		batchElems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callArgs, "latest"},
			Result: new(hexutil.Bytes),
		}
	}

	rawRPCClient := c.ethClient.Client()

	rpcCallCtx, cancel := context.WithTimeout(ctx, c.rpcCallTimeout)
	defer cancel()

	if err := rawRPCClient.BatchCallContext(rpcCallCtx, batchElems); err != nil {
		return results, fmt.Errorf("RPC batch call failed: %w", err)
	}

	for i, elem := range batchElems {
		if elem.Error != nil {
			results[i].Error = fmt.Errorf("eth_call for id %d failed: %w", reqs[i].ID, elem.Error)
			continue
		}
		out, ok := elem.Result.(*hexutil.Bytes)
		if !ok || out == nil {
			results[i].Error = fmt.Errorf("eth_call for id %d: unexpected result type %T", reqs[i].ID, elem.Result)
			continue
		}
		results[i].Output = *out
	}
	return results, nil
}

// Backend exposes the underlying ethclient for bound contracts.
func (c *EVMClient) Backend() bind.ContractBackend {
	return c.ethClient
}

// Descriptor returns the network descriptor for this client.
func (c *EVMClient) Descriptor() entity.NetworkDescriptor {
	return c.netDef
}

// RPCURL returns the endpoint the client is connected to.
func (c *EVMClient) RPCURL() string {
	return c.rpcURL
}

// Close closes the underlying connection.
func (c *EVMClient) Close() {
	c.ethClient.Close()
}

var _ port.ChainReader = (*EVMClient)(nil)
