package networkdefinition

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"

	"gopkg.in/yaml.v3"
)

// DefaultTargetIdentifier is the network the dashboard contracts live on.
const DefaultTargetIdentifier = "blockdag-primordial"

// NetworkDescriptorProvider provides network descriptors.
type NetworkDescriptorProvider struct {
	logger      port.Logger
	descriptors map[string]entity.NetworkDescriptor
	byChainID   map[uint64]string
	target      entity.NetworkDescriptor
}

// Predefined network descriptors
var ( //nolint:gochecknoglobals // Global for definitions
	BlockDAGPrimordial = entity.NetworkDescriptor{
		Identifier:   DefaultTargetIdentifier,
		DisplayName:  "BlockDAG Primordial Testnet",
		ChainID:      1043,
		ChainIDHex:   "0x413",
		RPCURLs:      []string{"https://rpc.primordial.bdagscan.com"},
		ExplorerURLs: []string{"https://primordial.bdagscan.com"},
		NativeCurrency: entity.NativeCurrency{
			Name:     "BlockDAG",
			Symbol:   "BDAG",
			Decimals: 18,
		},
	}
	Ethereum = entity.NetworkDescriptor{
		Identifier:     "ethereum",
		DisplayName:    "Ethereum Mainnet",
		ChainID:        1,
		RPCURLs:        []string{"https://ethereum-rpc.publicnode.com", "https://rpc.ankr.com/eth", "https://ethereum.publicnode.com"},
		ExplorerURLs:   []string{"https://etherscan.io"},
		NativeCurrency: entity.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
	}
	Sepolia = entity.NetworkDescriptor{
		Identifier:     "sepolia",
		DisplayName:    "Sepolia Testnet",
		ChainID:        11155111,
		RPCURLs:        []string{"https://ethereum-sepolia-rpc.publicnode.com", "https://rpc.sepolia.org"},
		ExplorerURLs:   []string{"https://sepolia.etherscan.io"},
		NativeCurrency: entity.NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
	}
	BSC = entity.NetworkDescriptor{
		Identifier:     "bsc",
		DisplayName:    "BNB Smart Chain",
		ChainID:        56,
		RPCURLs:        []string{"https://1rpc.io/bnb", "https://bsc-dataseed2.binance.org/", "https://bsc.publicnode.com"},
		ExplorerURLs:   []string{"https://bscscan.com"},
		NativeCurrency: entity.NativeCurrency{Name: "BNB", Symbol: "BNB", Decimals: 18},
	}
	Polygon = entity.NetworkDescriptor{
		Identifier:     "polygon",
		DisplayName:    "Polygon PoS",
		ChainID:        137,
		RPCURLs:        []string{"https://polygon-rpc.com/", "https://rpc.ankr.com/polygon", "https://polygon.publicnode.com"},
		ExplorerURLs:   []string{"https://polygonscan.com"},
		NativeCurrency: entity.NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18},
	}
	Arbitrum = entity.NetworkDescriptor{
		Identifier:     "arbitrum",
		DisplayName:    "Arbitrum One",
		ChainID:        42161,
		RPCURLs:        []string{"https://arb1.arbitrum.io/rpc", "https://arbitrum.llamarpc.com", "https://arbitrum.publicnode.com"},
		ExplorerURLs:   []string{"https://arbiscan.io"},
		NativeCurrency: entity.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
	}
	Base = entity.NetworkDescriptor{
		Identifier:     "base",
		DisplayName:    "Base Mainnet",
		ChainID:        8453,
		RPCURLs:        []string{"https://1rpc.io/base", "https://base.publicnode.com", "https://base.llamarpc.com"},
		ExplorerURLs:   []string{"https://basescan.org"},
		NativeCurrency: entity.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
	}
	Optimism = entity.NetworkDescriptor{
		Identifier:     "optimism",
		DisplayName:    "OP Mainnet",
		ChainID:        10,
		RPCURLs:        []string{"https://op-pokt.nodies.app", "https://optimism.publicnode.com", "https://rpc.ankr.com/optimism"},
		ExplorerURLs:   []string{"https://optimistic.etherscan.io"},
		NativeCurrency: entity.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
	}
)

// allKnownDescriptors is a helper to quickly access all hardcoded descriptors.
func allKnownDescriptors() []entity.NetworkDescriptor {
	return []entity.NetworkDescriptor{
		BlockDAGPrimordial, Ethereum, Sepolia, BSC, Polygon, Arbitrum, Base, Optimism,
	}
}

// descriptorsFile is the layout of an extra networks YAML file.
type descriptorsFile struct {
	Networks []entity.NetworkDescriptor `yaml:"networks"`
}

// LoadDescriptorsFile reads extra network descriptors from a YAML file.
func LoadDescriptorsFile(path string) ([]entity.NetworkDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network definitions %s: %w", path, err)
	}
	var f descriptorsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal network definitions %s: %w", path, err)
	}
	return f.Networks, nil
}

// NewNetworkDescriptorProvider validates the built-in descriptors plus extra (which override
// built-ins with the same identifier) and selects the target network.
func NewNetworkDescriptorProvider(log port.Logger, targetIdentifier string, extra []entity.NetworkDescriptor) (*NetworkDescriptorProvider, error) {
	p := &NetworkDescriptorProvider{
		logger:      log,
		descriptors: make(map[string]entity.NetworkDescriptor),
		byChainID:   make(map[uint64]string),
	}

	for _, def := range append(allKnownDescriptors(), extra...) {
		def = cloneDescriptor(def)
		def.Identifier = strings.ToLower(strings.TrimSpace(def.Identifier))
		if def.Identifier == "" {
			return nil, fmt.Errorf("network descriptor without identifier (chainId %d)", def.ChainID)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if prev, exists := p.descriptors[def.Identifier]; exists {
			p.logger.Debug("Network descriptor overridden", "identifier", def.Identifier)
			delete(p.byChainID, prev.ChainID)
		}
		if owner, taken := p.byChainID[def.ChainID]; taken && owner != def.Identifier {
			return nil, fmt.Errorf("networks %q and %q share chain id %d", owner, def.Identifier, def.ChainID)
		}
		p.descriptors[def.Identifier] = def
		p.byChainID[def.ChainID] = def.Identifier
	}

	if targetIdentifier == "" {
		targetIdentifier = DefaultTargetIdentifier
	}
	target, ok := p.descriptors[strings.ToLower(targetIdentifier)]
	if !ok {
		return nil, fmt.Errorf("target network %q is not defined", targetIdentifier)
	}
	p.target = target

	p.logger.Info("NetworkDescriptorProvider initialized",
		"networks", len(p.descriptors),
		"target", target.Identifier,
		"target_chain_id", target.ChainIDHex)
	return p, nil
}

// All returns every descriptor sorted by identifier.
func (p *NetworkDescriptorProvider) All() []entity.NetworkDescriptor {
	if p == nil {
		return []entity.NetworkDescriptor{}
	}
	out := make([]entity.NetworkDescriptor, 0, len(p.descriptors))
	for _, def := range p.descriptors {
		out = append(out, cloneDescriptor(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// ByIdentifier returns a specific descriptor by its identifier.
func (p *NetworkDescriptorProvider) ByIdentifier(identifier string) (entity.NetworkDescriptor, bool) {
	if p == nil {
		return entity.NetworkDescriptor{}, false
	}
	def, ok := p.descriptors[strings.ToLower(strings.TrimSpace(identifier))]
	if !ok {
		return entity.NetworkDescriptor{}, false
	}
	return cloneDescriptor(def), true
}

// ByChainID returns a specific descriptor by its chain ID.
func (p *NetworkDescriptorProvider) ByChainID(chainID uint64) (entity.NetworkDescriptor, bool) {
	if p == nil {
		return entity.NetworkDescriptor{}, false
	}
	id, ok := p.byChainID[chainID]
	if !ok {
		return entity.NetworkDescriptor{}, false
	}
	return cloneDescriptor(p.descriptors[id]), true
}

// Target returns the network the session keeps the wallet on.
func (p *NetworkDescriptorProvider) Target() entity.NetworkDescriptor {
	return cloneDescriptor(p.target)
}

// cloneDescriptor copies the slices so callers can't mutate shared definitions.
func cloneDescriptor(d entity.NetworkDescriptor) entity.NetworkDescriptor {
	d.RPCURLs = append([]string(nil), d.RPCURLs...)
	if d.ExplorerURLs != nil {
		d.ExplorerURLs = append([]string(nil), d.ExplorerURLs...)
	}
	return d
}

var _ port.NetworkDescriptorProvider = (*NetworkDescriptorProvider)(nil)
