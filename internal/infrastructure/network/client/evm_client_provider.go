package client

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"

	"golang.org/x/sync/singleflight"
)

const (
	defaultProviderConnectionTimeout = 10 * time.Second
	defaultRPCCallTimeout            = 15 * time.Second
)

// evmClientProvider implements port.ChainReaderProvider.
type evmClientProvider struct {
	clients           map[uint64]*EVMClient
	mu                sync.Mutex
	dialing           singleflight.Group // one dial per chain id; mu is never held while dialing
	logger            port.Logger
	connectionTimeout time.Duration
	rpcCallTimeout    time.Duration
}

// NewEVMClientProvider creates a provider that caches one client per chain id.
func NewEVMClientProvider(logger port.Logger, connectionTimeout, rpcCallTimeout time.Duration) port.ChainReaderProvider {
	if connectionTimeout <= 0 {
		connectionTimeout = defaultProviderConnectionTimeout
	}
	if rpcCallTimeout <= 0 {
		rpcCallTimeout = defaultRPCCallTimeout
	}
	return &evmClientProvider{
		clients:           make(map[uint64]*EVMClient),
		logger:            logger,
		connectionTimeout: connectionTimeout,
		rpcCallTimeout:    rpcCallTimeout,
	}
}

// GetReader retrieves a chain reader for the given network.
// It caches clients to avoid reconnecting repeatedly. Concurrent callers for the same chain
// share one dial; other chains are not held up by it.
func (p *evmClientProvider) GetReader(ctx context.Context, netDef entity.NetworkDescriptor) (port.ChainReader, error) {
	if client, exists := p.cached(netDef.ChainID); exists {
		p.logger.Debug("Returning cached EVM client", "network", netDef.Identifier)
		return client, nil
	}

	v, err, _ := p.dialing.Do(strconv.FormatUint(netDef.ChainID, 10), func() (any, error) {
		if client, exists := p.cached(netDef.ChainID); exists {
			return client, nil
		}

		p.logger.Info("Creating new EVM client", "network", netDef.Identifier, "rpc_primary", netDef.PrimaryRPCURL())
		newClient, err := NewEVMClient(ctx, netDef, p.connectionTimeout, p.rpcCallTimeout)
		if err != nil {
			p.logger.Error("Failed to create EVM client", "network", netDef.Identifier, "error", err)
			return nil, fmt.Errorf("failed to create EVM client for %s: %w", netDef.Identifier, err)
		}

		p.mu.Lock()
		p.clients[netDef.ChainID] = newClient
		p.mu.Unlock()
		p.logger.Info("Successfully created and cached new EVM client", "network", netDef.Identifier, "rpc", newClient.RPCURL())
		return newClient, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*EVMClient), nil
}

func (p *evmClientProvider) cached(chainID uint64) (*EVMClient, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[chainID]
	return c, ok
}

// Close closes every cached client.
func (p *evmClientProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.clients {
		c.Close()
		delete(p.clients, id)
	}
}
