package stream

import (
	"context"
	"iter"
	"log/slog"
	"net/http"

	"OnchainAgent/internal/agent"
	xerrors "OnchainAgent/internal/errors"
	"OnchainAgent/internal/observability/metrics"
	"OnchainAgent/pkg/logger"
)

// EngineSource 提供已就绪的引擎。agent.Handle 实现了该接口。
type EngineSource interface {
	Engine() (agent.Engine, error)
}

// Controller 为一次对话请求打开报文流。
type Controller struct {
	engines EngineSource
	mux     *Multiplexer
	logger  *slog.Logger
}

// NewController 创建 Controller。
func NewController(engines EngineSource, mux *Multiplexer) *Controller {
	if mux == nil {
		mux = NewMultiplexer(nil)
	}
	return &Controller{engines: engines, mux: mux, logger: logger.Named("stream")}
}

// OpenStream 解析引擎并返回线上报文序列。序列只能迭代一次。
func (c *Controller) OpenStream(ctx context.Context, input, sessionKey string) (iter.Seq[string], error) {
	if c.engines == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "智能体尚未初始化")
	}
	engine, err := c.engines.Engine()
	if err != nil {
		return nil, err
	}

	session := c.mux.Open(ctx, engine.RunStep(ctx, input, sessionKey))
	messages := session.Messages()
	return func(yield func(string) bool) {
		for msg := range messages {
			if !yield(msg.Encode()) {
				break
			}
		}
		c.logger.Debug("流式会话结束",
			slog.String("session", sessionKey),
			slog.String("state", session.State().String()))
	}, nil
}

// WriteSSE 设置 SSE 响应头，并逐块写入、刷新报文。
func WriteSSE(ctx context.Context, w http.ResponseWriter, chunks iter.Seq[string]) error {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	done := metrics.StreamOpened()
	defer done()

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	var writeErr error
	for chunk := range chunks {
		if err := ctx.Err(); err != nil {
			writeErr = err
			break
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			writeErr = err
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return writeErr
}
