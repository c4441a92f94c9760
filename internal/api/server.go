package api

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"time"

	"OnchainAgent/internal/agent"
	"OnchainAgent/internal/observability/metrics"
	"OnchainAgent/internal/registry"
	"OnchainAgent/internal/storage"
	"OnchainAgent/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Streamer 为一次对话打开 SSE 报文流，stream.Controller 实现了该接口。
type Streamer interface {
	OpenStream(ctx context.Context, input, sessionKey string) (iter.Seq[string], error)
}

// ContractLister 列出已登记的合约地址，registry.Registry 实现了该接口。
type ContractLister interface {
	List(ctx context.Context, kind registry.Kind) ([]string, error)
}

// EngineStatus 报告引擎的初始化状态，agent.Handle 实现了该接口。
type EngineStatus interface {
	Status() (agent.State, string)
}

// Dependencies 汇总 HTTP 层依赖的组件。
type Dependencies struct {
	Streams   Streamer
	Contracts ContractLister
	Engine    EngineStatus
	Database  storage.Pinger
}

// Server 负责暴露 REST 与 SSE 接口。
type Server struct {
	addr            string
	deps            Dependencies
	token           string
	allowedOrigins  []string
	exposeMetrics   bool
	shutdownTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithAuthToken 为受保护的路由启用 Bearer Token 认证，空字符串表示关闭认证。
func WithAuthToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithAllowedOrigins 设置 CORS 允许的来源。
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// WithMetrics 在主监听地址上暴露 /metrics。
func WithMetrics(enabled bool) Option {
	return func(s *Server) {
		s.exposeMetrics = enabled
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		deps:            deps,
		allowedOrigins:  []string{"*"},
		shutdownTimeout: 5 * time.Second,
		logger:          logger.Named("api"),
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由，包含 CORS 与中间件。
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(withRequestID, s.instrument)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.exposeMetrics {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	protected := router.NewRoute().Subrouter()
	protected.Use(s.authenticate)
	protected.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)
	protected.HandleFunc("/tokens", s.handleContracts(registry.KindToken, "tokens")).Methods(http.MethodGet)
	protected.HandleFunc("/nfts", s.handleContracts(registry.KindNFT, "nfts")).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	}).Handler(router)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	// SSE 连接时间不定，不设置 WriteTimeout。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("API 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
