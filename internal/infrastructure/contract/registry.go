// Package contract binds address book entries to go-ethereum bound contracts on first use.
package contract

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"
	"wallet_session/internal/domain/schema"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"
)

// Registry implements port.ContractRegistry.
// Nothing is dialed until a contract is first bound; bound contracts are cached by name.
type Registry struct {
	deployments map[string]entity.ContractDeployment
	order       []string
	networks    port.NetworkDescriptorProvider
	readers     port.ChainReaderProvider
	logger      port.Logger

	mu      sync.Mutex
	bound   map[string]*Contract
	binding singleflight.Group // keyed by contract name; dials run outside mu
}

// NewRegistry validates the deployments. Duplicate names, unknown schemas and networks,
// malformed addresses and ABIs missing the record methods are rejected.
func NewRegistry(deployments []entity.ContractDeployment, networks port.NetworkDescriptorProvider, readers port.ChainReaderProvider, logger port.Logger) (*Registry, error) {
	r := &Registry{
		deployments: make(map[string]entity.ContractDeployment, len(deployments)),
		networks:    networks,
		readers:     readers,
		logger:      logger,
		bound:       make(map[string]*Contract),
	}
	for _, d := range deployments {
		if d.Name == "" {
			return nil, fmt.Errorf("contract at %s has no name", d.Address)
		}
		if _, dup := r.deployments[d.Name]; dup {
			return nil, fmt.Errorf("contract %s is declared twice", d.Name)
		}
		if _, err := d.ContractAddress(); err != nil {
			return nil, err
		}
		s, ok := schema.Lookup(d.Schema)
		if !ok {
			return nil, fmt.Errorf("contract %s: unknown schema %q", d.Name, d.Schema)
		}
		if _, err := contractABI(d, s); err != nil {
			return nil, err
		}
		if _, ok := r.resolveNetwork(d); !ok {
			return nil, fmt.Errorf("contract %s: unknown network %q (chain %d)", d.Name, d.Network, d.ChainID)
		}
		r.deployments[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	sort.Strings(r.order)
	return r, nil
}

// Deployments lists the address book sorted by name.
func (r *Registry) Deployments() []entity.ContractDeployment {
	out := make([]entity.ContractDeployment, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.deployments[name])
	}
	return out
}

// Bind returns the bound contract for name, dialing its network on first use.
func (r *Registry) Bind(ctx context.Context, name string) (port.BoundContract, error) {
	d, ok := r.deployments[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownContract, name)
	}

	if c, ok := r.cached(name); ok {
		return c, nil
	}

	v, err, _ := r.binding.Do(name, func() (any, error) {
		if c, ok := r.cached(name); ok {
			return c, nil
		}
		network, _ := r.resolveNetwork(d)
		reader, err := r.readers.GetReader(ctx, network)
		if err != nil {
			return nil, entity.NewSessionError(entity.KindTransportError, fmt.Sprintf("no reader for network %s", network.Identifier), err)
		}
		c, err := newContract(d, reader)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.bound[name] = c
		r.mu.Unlock()
		r.logger.Info("Contract bound", "contract", name, "network", network.Identifier, "address", d.Address)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Contract), nil
}

func (r *Registry) cached(name string) (*Contract, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.bound[name]
	return c, ok
}

func (r *Registry) resolveNetwork(d entity.ContractDeployment) (entity.NetworkDescriptor, bool) {
	if d.Network != "" {
		n, ok := r.networks.ByIdentifier(d.Network)
		if ok && (d.ChainID == 0 || n.ChainID == d.ChainID) {
			return n, true
		}
		return entity.NetworkDescriptor{}, false
	}
	if d.ChainID != 0 {
		return r.networks.ByChainID(d.ChainID)
	}
	// Без сети в записи контракт живёт в целевой сети.
	return r.networks.Target(), true
}

func contractABI(d entity.ContractDeployment, s entity.RecordSchema) (abi.ABI, error) {
	if len(d.ABI) == 0 {
		return schema.ABI(s)
	}
	parsed, err := abi.JSON(bytes.NewReader(d.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("contract %s: invalid abi: %w", d.Name, err)
	}
	for _, m := range []string{s.CountMethod, s.GetterMethod} {
		if _, ok := parsed.Methods[m]; !ok {
			return abi.ABI{}, fmt.Errorf("contract %s: abi has no %s method", d.Name, m)
		}
	}
	return parsed, nil
}

// Contract implements port.BoundContract on top of bind.BoundContract.
type Contract struct {
	deployment entity.ContractDeployment
	address    common.Address
	abi        abi.ABI
	schema     entity.RecordSchema
	reader     port.ChainReader
	bound      *bind.BoundContract
}

func newContract(d entity.ContractDeployment, reader port.ChainReader) (*Contract, error) {
	s, ok := schema.Lookup(d.Schema)
	if !ok {
		return nil, fmt.Errorf("contract %s: unknown schema %q", d.Name, d.Schema)
	}
	parsed, err := contractABI(d, s)
	if err != nil {
		return nil, err
	}
	addr, err := d.ContractAddress()
	if err != nil {
		return nil, err
	}
	backend := reader.Backend()
	return &Contract{
		deployment: d,
		address:    addr,
		abi:        parsed,
		schema:     s,
		reader:     reader,
		bound:      bind.NewBoundContract(addr, parsed, backend, backend, backend),
	}, nil
}

func (c *Contract) Name() string { return c.deployment.Name }
func (c *Contract) Address() common.Address { return c.address }
func (c *Contract) ABI() abi.ABI { return c.abi }
func (c *Contract) Schema() entity.RecordSchema { return c.schema }
func (c *Contract) Deployment() entity.ContractDeployment { return c.deployment }
func (c *Contract) Reader() port.ChainReader { return c.reader }

// Pack encodes a call to method.
func (c *Contract) Pack(method string, args ...any) ([]byte, error) {
	return c.abi.Pack(method, args...)
}

// Unpack decodes the return data of method.
func (c *Contract) Unpack(method string, data []byte) ([]any, error) {
	return c.abi.Unpack(method, data)
}

// Call runs a read-only method against the latest block.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s.%s: %w", c.deployment.Name, method, err)
	}
	return out, nil
}

// Transact sends a state-changing call signed by the wallet.
// A legacy gas price is fetched up front when the signer leaves fees open.
func (c *Contract) Transact(ctx context.Context, signer port.Signer, method string, args ...any) (*types.Transaction, error) {
	if signer == nil {
		return nil, entity.NewSessionError(entity.KindTransportError, "no connected wallet to sign with", nil)
	}
	opts := signer.TransactOpts(ctx)
	if opts.GasPrice == nil && opts.GasFeeCap == nil {
		price, err := c.reader.Backend().SuggestGasPrice(ctx)
		if err != nil {
			return nil, entity.NewSessionError(entity.KindTransportError, "could not fetch gas price", err)
		}
		opts.GasPrice = price
	}
	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", c.deployment.Name, method, err)
	}
	return tx, nil
}

var (
	_ port.ContractRegistry = (*Registry)(nil)
	_ port.BoundContract    = (*Contract)(nil)
)
