package chain

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// Network identifies an EVM chain by its logical name.
type Network struct {
	Name          string
	ChainID       uint64
	ChainSelector uint64
	Testnet       bool
}

var networks = map[string]Network{
	"ethereum-testnet-sepolia":            {ChainID: 11155111, ChainSelector: 16015286601757825753, Testnet: true},
	"ethereum-testnet-sepolia-base-1":     {ChainID: 84532, ChainSelector: 10344971235874465080, Testnet: true},
	"ethereum-testnet-sepolia-arbitrum-1": {ChainID: 421614, ChainSelector: 3478487238524512106, Testnet: true},
	"polygon-testnet-amoy":                {ChainID: 80002, ChainSelector: 16281711391670634445, Testnet: true},
	"avalanche-testnet-fuji":              {ChainID: 43113, ChainSelector: 14767482510784806043, Testnet: true},
	"ethereum-mainnet":                    {ChainID: 1, ChainSelector: 5009297550715157269},
	"polygon-mainnet":                     {ChainID: 137, ChainSelector: 4051577828743386545},
}

// LookupNetwork resolves a logical chain name. Mainnets are only returned
// when allowMainnet is set.
func LookupNetwork(name string, allowMainnet bool) (Network, error) {
	n, ok := networks[name]
	if !ok {
		return Network{}, fmt.Errorf("chain: %w: %q", domain.ErrUnknownChain, name)
	}
	if !n.Testnet && !allowMainnet {
		return Network{}, fmt.Errorf("chain: %w: %q is a mainnet and mainnets are disabled", domain.ErrUnknownChain, name)
	}
	n.Name = name
	return n, nil
}

// NetworkNames lists the known chain names in sorted order.
func NetworkNames() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
