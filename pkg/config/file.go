package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChainsFile is the layout of the optional CHAINS_CONFIG_FILE
type ChainsFile struct {
	Chains []ChainFileEntry `yaml:"chains"`
}

// ChainFileEntry configures one chain in the chains file
type ChainFileEntry struct {
	ChainID       uint64  `yaml:"chain_id"`
	Name          string  `yaml:"name"`
	RPCURL        string  `yaml:"rpc_url"`
	IntentAddress string  `yaml:"intent_address"`
	MinFee        string  `yaml:"min_fee"`
	GasMultiplier float64 `yaml:"gas_multiplier"`
}

// LoadChainsFile reads chain configurations from a YAML file
func LoadChainsFile(path string) (map[uint64]ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chains file %s: %w", path, err)
	}

	var file ChainsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse chains file %s: %w", path, err)
	}

	chains := make(map[uint64]ChainConfig, len(file.Chains))
	for _, entry := range file.Chains {
		if entry.ChainID == 0 {
			return nil, fmt.Errorf("chains file %s: chain_id is required", path)
		}
		if entry.RPCURL == "" {
			return nil, fmt.Errorf("chains file %s: rpc_url is required for chain %d", path, entry.ChainID)
		}
		multiplier := entry.GasMultiplier
		if multiplier <= 0 {
			multiplier = DefaultGasMultiplier
		}
		name := entry.Name
		if name == "" {
			name = GetChainName(entry.ChainID)
		}
		chains[entry.ChainID] = ChainConfig{
			ChainID:       entry.ChainID,
			Name:          name,
			RPCURL:        entry.RPCURL,
			IntentAddress: entry.IntentAddress,
			MinFee:        entry.MinFee,
			GasMultiplier: multiplier,
		}
	}
	return chains, nil
}
