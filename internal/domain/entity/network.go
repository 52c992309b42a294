package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NativeCurrencyDecimals is the only decimals value wallets accept when a chain is registered.
const NativeCurrencyDecimals uint8 = 18

// NativeCurrency describes the gas token of a network.
type NativeCurrency struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
}

// NetworkDescriptor holds everything needed to ask a wallet to switch to, or register, a network.
// Descriptors are immutable once loaded.
type NetworkDescriptor struct {
	Identifier     string         `json:"identifier" yaml:"identifier"` // Короткий идентификатор сети (например, "blockdag-primordial")
	DisplayName    string         `json:"displayName" yaml:"displayName"`
	ChainID        uint64         `json:"chainId" yaml:"chainId"`
	ChainIDHex     string         `json:"chainIdHex" yaml:"chainIdHex"`
	RPCURLs        []string       `json:"rpcUrls" yaml:"rpcUrls"` // ordered, first is primary
	ExplorerURLs   []string       `json:"explorerUrls,omitempty" yaml:"explorerUrls,omitempty"`
	NativeCurrency NativeCurrency `json:"nativeCurrency" yaml:"nativeCurrency"`
}

// Validate checks the descriptor and fills ChainIDHex when only the decimal id is given.
func (d *NetworkDescriptor) Validate() error {
	if d.ChainID == 0 && d.ChainIDHex == "" {
		return fmt.Errorf("network %q: chain id is required", d.Identifier)
	}
	if d.ChainIDHex == "" {
		d.ChainIDHex = hexutil.EncodeUint64(d.ChainID)
	} else {
		parsed, err := ParseChainID(d.ChainIDHex)
		if err != nil {
			return fmt.Errorf("network %q: %w", d.Identifier, err)
		}
		if d.ChainID == 0 {
			d.ChainID = parsed
		} else if parsed != d.ChainID {
			return fmt.Errorf("network %q: chainIdHex %s does not match chainId %d", d.Identifier, d.ChainIDHex, d.ChainID)
		}
		d.ChainIDHex = hexutil.EncodeUint64(parsed)
	}
	if len(d.RPCURLs) == 0 {
		return fmt.Errorf("network %q: at least one rpc url is required", d.Identifier)
	}
	if d.NativeCurrency.Decimals == 0 {
		d.NativeCurrency.Decimals = NativeCurrencyDecimals
	}
	if d.NativeCurrency.Decimals != NativeCurrencyDecimals {
		return fmt.Errorf("network %q: native currency decimals must be %d, got %d", d.Identifier, NativeCurrencyDecimals, d.NativeCurrency.Decimals)
	}
	if d.NativeCurrency.Symbol == "" {
		return fmt.Errorf("network %q: native currency symbol is required", d.Identifier)
	}
	if d.DisplayName == "" {
		d.DisplayName = d.Identifier
	}
	return nil
}

// Matches reports whether chainID refers to this network.
func (d NetworkDescriptor) Matches(chainID uint64) bool {
	return d.ChainID == chainID
}

// PrimaryRPCURL returns the first configured RPC endpoint.
func (d NetworkDescriptor) PrimaryRPCURL() string {
	if len(d.RPCURLs) == 0 {
		return ""
	}
	return d.RPCURLs[0]
}

// SwitchEthereumChainParameter is the single parameter of wallet_switchEthereumChain.
type SwitchEthereumChainParameter struct {
	ChainID string `json:"chainId"`
}

// AddEthereumChainParameter is the single parameter of wallet_addEthereumChain.
type AddEthereumChainParameter struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
}

// SwitchParams builds the wallet_switchEthereumChain payload.
func (d NetworkDescriptor) SwitchParams() SwitchEthereumChainParameter {
	return SwitchEthereumChainParameter{ChainID: hexutil.EncodeUint64(d.ChainID)}
}

// AddParams builds the wallet_addEthereumChain payload.
func (d NetworkDescriptor) AddParams() AddEthereumChainParameter {
	rpcURLs := make([]string, len(d.RPCURLs))
	copy(rpcURLs, d.RPCURLs)
	var explorers []string
	if len(d.ExplorerURLs) > 0 {
		explorers = make([]string, len(d.ExplorerURLs))
		copy(explorers, d.ExplorerURLs)
	}
	return AddEthereumChainParameter{
		ChainID:           hexutil.EncodeUint64(d.ChainID),
		ChainName:         d.DisplayName,
		RPCURLs:           rpcURLs,
		BlockExplorerURLs: explorers,
		NativeCurrency: NativeCurrency{
			Name:     d.NativeCurrency.Name,
			Symbol:   d.NativeCurrency.Symbol,
			Decimals: NativeCurrencyDecimals,
		},
	}
}

// ParseChainID accepts "0x"-prefixed hex (any case) or a plain decimal string.
func ParseChainID(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty chain id")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		// hexutil rejects leading zeros and upper-case prefixes, wallets don't always comply
		digits := strings.TrimLeft(strings.ToLower(s[2:]), "0")
		if digits == "" {
			return 0, fmt.Errorf("chain id %q is zero", raw)
		}
		v, err := hexutil.DecodeUint64("0x" + digits)
		if err != nil {
			return 0, fmt.Errorf("invalid hex chain id %q: %w", raw, err)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", raw, err)
	}
	return v, nil
}

// WalletChainID is an eth_chainId answer. It accepts everything ParseChainID does,
// including zero-padded hex and bare JSON numbers.
type WalletChainID uint64

func (c *WalletChainID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var n uint64
		if json.Unmarshal(data, &n) != nil {
			return fmt.Errorf("invalid chain id %s", data)
		}
		raw = strconv.FormatUint(n, 10)
	}
	id, err := ParseChainID(raw)
	if err != nil {
		return err
	}
	*c = WalletChainID(id)
	return nil
}
