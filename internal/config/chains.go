package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"honeysnare/internal/model"
)

// ChainConfig is one entry of the chains list.
type ChainConfig struct {
	Chain   string `mapstructure:"chain"`
	RPCEnv  string `mapstructure:"rpc-env"`
	Address string `mapstructure:"address"`
	Enabled bool   `mapstructure:"enabled"`
}

// DefaultChains is the deployment list used when no chains are configured.
func DefaultChains() []ChainConfig {
	return []ChainConfig{
		{Chain: "arbitrum", RPCEnv: "ARB_RPC_URL", Address: "0xf693DAC3dF95a731FA169C3aFAE6e0C3c416AF47", Enabled: true},
		{Chain: "optimism", RPCEnv: "OP_RPC_URL"},
		{Chain: "base", RPCEnv: "BASE_RPC_URL"},
		{Chain: "blast", RPCEnv: "BLAST_RPC_URL"},
		{Chain: "solana", RPCEnv: "SOL_RPC_URL"},
	}
}

func loadChains(v *viper.Viper) ([]ChainConfig, error) {
	if !v.IsSet("chains") {
		return DefaultChains(), nil
	}
	var chains []ChainConfig
	if err := v.UnmarshalKey("chains", &chains); err != nil {
		return nil, fmt.Errorf("parse chains: %w", err)
	}
	return chains, nil
}

// ResolveTargets turns chain entries into targets, reading each enabled
// chain's endpoint through lookup. Every missing variable and malformed
// entry is reported in one *model.ConfigError.
func ResolveTargets(chains []ChainConfig, lookup func(string) (string, bool)) ([]model.ChainTarget, error) {
	targets := make([]model.ChainTarget, 0, len(chains))
	var missing []model.MissingEndpoint
	var errs error
	seen := make(map[string]struct{}, len(chains))

	for i, c := range chains {
		name := strings.TrimSpace(c.Chain)
		if name == "" {
			errs = multierr.Append(errs, fmt.Errorf("chain %d has no name", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("chain %s listed twice", name))
			continue
		}
		seen[name] = struct{}{}

		address := strings.TrimSpace(c.Address)
		if address != "" && !common.IsHexAddress(address) {
			errs = multierr.Append(errs, fmt.Errorf("invalid address for %s: %s", name, address))
		}

		target := model.ChainTarget{
			Chain:       name,
			EndpointEnv: strings.TrimSpace(c.RPCEnv),
			Address:     address,
			Enabled:     c.Enabled,
		}
		if target.Enabled {
			if target.EndpointEnv == "" {
				errs = multierr.Append(errs, fmt.Errorf("chain %s has no rpc-env", name))
			} else if endpoint, ok := lookup(target.EndpointEnv); ok && strings.TrimSpace(endpoint) != "" {
				target.Endpoint = strings.TrimSpace(endpoint)
			} else {
				missing = append(missing, model.MissingEndpoint{Chain: name, Env: target.EndpointEnv})
			}
		}
		targets = append(targets, target)
	}

	if len(missing) > 0 || errs != nil {
		return nil, &model.ConfigError{Missing: missing, Err: errs}
	}
	return targets, nil
}
