package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"OnchainAgent/internal/agent"
	"OnchainAgent/internal/api"
	"OnchainAgent/internal/config"
	"OnchainAgent/internal/observability/metrics"
	"OnchainAgent/internal/registry"
	"OnchainAgent/internal/stream"
	"OnchainAgent/pkg/logger"
)

// main 是 agentd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agent.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	appLog := logger.Named("agentd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	res := &resources{}
	defer res.Close()

	store, err := res.openStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, err := res.openPublisher(cfg)
	if err != nil {
		return err
	}

	contracts := registry.New(store, registry.WithPublisher(publisher))

	// 引擎初始化失败不阻止服务启动：/health 报告原因，/api/chat 返回 503。
	handle := agent.NewHandle()
	if err := handle.Init(func() (agent.Engine, error) { return res.buildEngine(ctx, cfg) }); err != nil {
		appLog.Error("智能体初始化失败", slog.Any("error", err))
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	mux := stream.NewMultiplexer(contracts, stream.WithRecordTimeout(cfg.Storage.RecordTimeout()))
	var token string
	if cfg.Auth.Enabled {
		token = cfg.Auth.ResolveToken()
		if token == "" {
			return errors.New("已开启鉴权但未配置 token")
		}
	}

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Streams:   stream.NewController(handle, mux),
		Contracts: contracts,
		Engine:    handle,
		Database:  store,
	},
		api.WithAuthToken(token),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		api.WithMetrics(cfg.Metrics.Enabled && cfg.Metrics.Address == ""),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout()),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
