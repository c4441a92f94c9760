package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"

	"OnchainAgent/internal/agent"
	"OnchainAgent/internal/agent/tools"
	"OnchainAgent/internal/config"
	"OnchainAgent/internal/llm"
	"OnchainAgent/internal/llm/anthropic"
	"OnchainAgent/internal/llm/openai"
	"OnchainAgent/internal/llm/pythonbridge"
	"OnchainAgent/internal/notify"
	natsnotify "OnchainAgent/internal/notify/nats"
	"OnchainAgent/internal/notify/rabbitmq"
	"OnchainAgent/internal/storage"
	"OnchainAgent/internal/storage/mysql"
	redisstore "OnchainAgent/internal/storage/redis"
	"OnchainAgent/internal/storage/sqlite"
	"OnchainAgent/internal/web3"
	"OnchainAgent/internal/web3/provider"
	"OnchainAgent/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
)

// contractStore 是登记表后端需要同时满足的接口。
type contractStore interface {
	storage.Store
	storage.Pinger
}

// resources 收集需要在退出时释放的连接，按打开的逆序关闭。
type resources struct {
	closers []func()
	redis   *goredis.Client
}

func (r *resources) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *resources) closeWith(name string, c io.Closer) {
	r.onClose(func() {
		if err := c.Close(); err != nil {
			logger.L().Warn("关闭资源失败", slog.String("resource", name), slog.Any("error", err))
		}
	})
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *resources) redisClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	if r.redis != nil {
		return r.redis, nil
	}
	client, err := redisstore.NewClient(ctx, redisstore.Config{
		Address:   cfg.Address,
		Password:  cfg.ResolvePassword(),
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	r.redis = client
	r.closeWith("redis", client)
	return client, nil
}

func (r *resources) openStore(ctx context.Context, cfg *config.Config) (contractStore, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, err
		}
		r.closeWith("sqlite", store)
		return store, nil
	case "mysql":
		mc := cfg.Storage.MySQL
		store, err := mysql.NewContractStore(ctx, mysql.Config{
			DSN:             mc.ResolveDSN(),
			MaxOpenConns:    mc.MaxOpenConns,
			MaxIdleConns:    mc.MaxIdleConns,
			ConnMaxLifetime: mc.ConnMaxLifetime(),
			ConnMaxIdleTime: mc.ConnMaxIdleTime(),
			AutoMigrate:     mc.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		r.closeWith("mysql", store)
		return store, nil
	case "redis":
		client, err := r.redisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		return redisstore.NewContractStore(client, cfg.Storage.Redis.KeyPrefix, false), nil
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func (r *resources) openPublisher(cfg *config.Config) (notify.Publisher, error) {
	var (
		pub notify.Publisher
		err error
	)
	switch cfg.Notify.Driver {
	case "none":
		return notify.Noop{}, nil
	case "rabbitmq":
		pub, err = rabbitmq.NewPublisher(rabbitmq.Config{
			URL:        cfg.Notify.RabbitMQ.ResolveURL(),
			Exchange:   cfg.Notify.RabbitMQ.Exchange,
			RoutingKey: cfg.Notify.RabbitMQ.RoutingKey,
		})
	case "nats":
		pub, err = natsnotify.NewPublisher(natsnotify.Config{
			URL:     cfg.Notify.NATS.URL,
			Subject: cfg.Notify.NATS.Subject,
			Name:    cfg.Notify.NATS.Name,
		})
	default:
		return nil, fmt.Errorf("未知的通知驱动: %s", cfg.Notify.Driver)
	}
	if err != nil {
		return nil, err
	}
	r.closeWith("notify", pub)
	return pub, nil
}

// buildEngine 组装链客户端、工具、大模型与会话记忆。
func (r *resources) buildEngine(ctx context.Context, cfg *config.Config) (agent.Engine, error) {
	model, err := createChatModel(cfg)
	if err != nil {
		return nil, err
	}

	chain, err := provider.Open(ctx, cfg.Web3)
	if err != nil {
		return nil, err
	}
	r.onClose(chain.Close)
	logger.Named("agentd").Info("已连接区块链",
		slog.String("chain", chain.Name),
		slog.Any("chain_id", chain.ID),
		slog.String("explorer", chain.Explorer))

	toolbox, err := buildToolbox(cfg.Web3, chain)
	if err != nil {
		return nil, err
	}

	opts := []agent.Option{
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithLLMTimeout(cfg.Agent.LLMTimeout()),
		agent.WithToolTimeout(cfg.Agent.ToolTimeout()),
	}
	if cfg.Agent.MemoryBackend == "redis" {
		rc, err := r.redisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithMemory(redisstore.NewHistory(rc, cfg.Storage.Redis.KeyPrefix, cfg.Agent.MemoryDepth, 0)))
	}

	return agent.NewExecutor(model, toolbox, opts...), nil
}

func buildToolbox(cfg config.Web3Config, chain *provider.Chain) (*tools.Registry, error) {
	log := logger.Named("agentd")
	client := chain.Client
	registered := []tools.Tool{tools.GetBalance(client), tools.GetLatestBlock(client)}

	key := cfg.ResolvePrivateKey()
	if key == "" {
		log.Warn("未配置部署私钥，部署工具不可用", slog.String("env", cfg.PrivateKeyEnv))
		return tools.NewRegistry(registered...)
	}
	deployOpts := []web3.DeployerOption{web3.WithChainID(chain.ID)}
	if cfg.GasLimit > 0 {
		deployOpts = append(deployOpts, web3.WithGasLimit(cfg.GasLimit))
	}
	deployer, err := web3.NewDeployer(client, key, deployOpts...)
	if err != nil {
		return nil, err
	}
	log.Info("部署账户已加载", slog.String("from", deployer.From().Hex()))

	if cfg.TokenArtifact != "" {
		artifact, err := web3.LoadArtifact(cfg.TokenArtifact)
		if err != nil {
			return nil, err
		}
		supply, ok := new(big.Int).SetString(strings.TrimSpace(cfg.DefaultTokenSupply), 10)
		if !ok {
			return nil, fmt.Errorf("default_token_supply 不是合法整数: %s", cfg.DefaultTokenSupply)
		}
		registered = append(registered, tools.DeployToken(deployer, artifact, supply))
	}
	if cfg.NFTArtifact != "" {
		artifact, err := web3.LoadArtifact(cfg.NFTArtifact)
		if err != nil {
			return nil, err
		}
		registered = append(registered, tools.DeployNFT(deployer, artifact))
	}
	return tools.NewRegistry(registered...)
}

func createChatModel(cfg *config.Config) (llm.ChatModel, error) {
	switch cfg.LLM.Provider {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "openai":
		oc := cfg.LLM.OpenAI
		apiKey := oc.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     oc.BaseURL,
			Model:       oc.Model,
			Temperature: oc.Temperature,
			Timeout:     oc.Timeout(),
			MaxRetries:  oc.MaxRetries,
		})
	case "anthropic":
		ac := cfg.LLM.Anthropic
		apiKey := ac.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("Anthropic provider 需要配置 api_key 或 api_key_env")
		}
		return anthropic.NewClient(anthropic.Config{
			APIKey:      apiKey,
			BaseURL:     ac.BaseURL,
			Model:       ac.Model,
			Temperature: ac.Temperature,
			MaxTokens:   ac.MaxTokens,
			Timeout:     ac.Timeout(),
			MaxRetries:  ac.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
