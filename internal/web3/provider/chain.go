// Package provider selects and dials the chain the agent operates on.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"

	"OnchainAgent/internal/config"
	"OnchainAgent/internal/web3"
	"OnchainAgent/internal/web3/ethereum"
	"OnchainAgent/pkg/logger"
)

// fallbackChain names the chain built from web3.rpc_url when no YAML
// definitions are configured.
const fallbackChain = "default"

// Chain is the selected network together with its metadata.
type Chain struct {
	Name string
	// ID is the configured chain id, nil when the definition omits it.
	ID       *big.Int
	Explorer string
	Client   web3.Client
}

// Close releases the underlying client.
func (c *Chain) Close() {
	if c != nil && c.Client != nil {
		c.Client.Close()
	}
}

// Dialer opens a client for one chain definition.
type Dialer func(ctx context.Context, cfg ethereum.Config) (web3.Client, error)

func dialEthereum(ctx context.Context, cfg ethereum.Config) (web3.Client, error) {
	client, err := ethereum.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Open loads the chain definitions, selects the configured chain and dials
// only that one.
func Open(ctx context.Context, cfg config.Web3Config) (*Chain, error) {
	return OpenWith(ctx, cfg, dialEthereum)
}

// OpenWith is Open with a custom dialer.
//
// When the definition carries a chain_id the node is asked for its own id.
// A mismatch is fatal; an unreachable node is only logged.
func OpenWith(ctx context.Context, cfg config.Web3Config, dial Dialer) (*Chain, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	name, def, err := Select(defs, cfg)
	if err != nil {
		return nil, err
	}
	if chainType := strings.ToLower(strings.TrimSpace(def.Type)); chainType != "" && chainType != "evm" {
		return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
	}

	client, err := dial(ctx, ethereum.Config{Name: name, RPCURL: def.RPCURL, Notes: def.Description})
	if err != nil {
		return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
	}
	chain := &Chain{Name: name, Explorer: def.Explorer, Client: client}
	if def.ChainID <= 0 {
		return chain, nil
	}
	chain.ID = big.NewInt(def.ChainID)

	actual, err := client.ChainID(ctx)
	switch {
	case err != nil:
		logger.Named("web3").Warn("无法校验链 ID",
			slog.String("chain", name),
			slog.Any("error", err))
	case actual.Cmp(chain.ID) != 0:
		client.Close()
		return nil, fmt.Errorf("链 %s 配置的 chain_id 为 %s，节点返回 %s", name, chain.ID, actual)
	}
	return chain, nil
}

// Select resolves which definition to use. An empty default_chain is only
// accepted when exactly one chain is defined.
func Select(defs web3.ChainDefinitions, cfg config.Web3Config) (string, web3.ChainDefinition, error) {
	if len(defs.Chains) == 0 {
		if strings.TrimSpace(cfg.RPCURL) == "" {
			return "", web3.ChainDefinition{}, errors.New("未配置任何链的 RPC 端点")
		}
		if cfg.DefaultChain != "" && cfg.DefaultChain != fallbackChain {
			return "", web3.ChainDefinition{}, fmt.Errorf("默认链 %s 未在配置中找到", cfg.DefaultChain)
		}
		return fallbackChain, web3.ChainDefinition{RPCURL: cfg.RPCURL}, nil
	}

	name := cfg.DefaultChain
	if name == "" {
		if len(defs.Chains) > 1 {
			names := make([]string, 0, len(defs.Chains))
			for n := range defs.Chains {
				names = append(names, n)
			}
			slices.Sort(names)
			return "", web3.ChainDefinition{}, fmt.Errorf("定义了多条链 (%s)，需要配置 default_chain", strings.Join(names, ", "))
		}
		for n := range defs.Chains {
			name = n
		}
	}
	def, ok := defs.Chains[name]
	if !ok {
		return "", web3.ChainDefinition{}, fmt.Errorf("默认链 %s 未在配置中找到", name)
	}
	if strings.TrimSpace(def.RPCURL) == "" {
		def.RPCURL = cfg.RPCURL
	}
	return name, def, nil
}
