package stream

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"OnchainAgent/internal/agent"
	xerrors "OnchainAgent/internal/errors"
	"OnchainAgent/internal/observability/metrics"
	"OnchainAgent/internal/registry"
	"OnchainAgent/pkg/logger"
)

const defaultRecordTimeout = 10 * time.Second

// Recorder 登记部署出的合约地址，失败只返回 false。
type Recorder interface {
	Record(ctx context.Context, kind registry.Kind, address string) bool
}

// State 描述一次流式会话所处的阶段。
type State int

const (
	StateStreaming State = iota
	StateDone
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return "streaming"
	}
}

// Multiplexer 把引擎步骤映射为格式化消息。
type Multiplexer struct {
	recorder      Recorder
	recordTimeout time.Duration
	logger        *slog.Logger
}

// Option 定义可选的 Multiplexer 配置。
type Option func(*Multiplexer)

// WithRecordTimeout 设置单次地址登记的超时时间。
func WithRecordTimeout(timeout time.Duration) Option {
	return func(m *Multiplexer) {
		if timeout > 0 {
			m.recordTimeout = timeout
		}
	}
}

// NewMultiplexer 创建 Multiplexer。recorder 为 nil 时不登记地址。
func NewMultiplexer(recorder Recorder, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		recorder:      recorder,
		recordTimeout: defaultRecordTimeout,
		logger:        logger.Named("stream"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Session 是一次流式会话，只能被迭代一次。
type Session struct {
	mux   *Multiplexer
	ctx   context.Context
	steps iter.Seq2[agent.StepEvent, error]

	once  sync.Once
	mu    sync.Mutex
	state State
}

// Open 创建会话但不开始拉取步骤。
func (m *Multiplexer) Open(ctx context.Context, steps iter.Seq2[agent.StepEvent, error]) *Session {
	return &Session{mux: m, ctx: ctx, steps: steps}
}

// Run 等价于 Open(ctx, steps).Messages()。
func (m *Multiplexer) Run(ctx context.Context, steps iter.Seq2[agent.StepEvent, error]) iter.Seq[Message] {
	return m.Open(ctx, steps).Messages()
}

// State 返回会话当前状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Messages 返回会话的消息序列。第二次迭代不产出任何消息。
func (s *Session) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		s.once.Do(func() {
			s.setState(s.run(yield))
		})
	}
}

func (s *Session) run(yield func(Message) bool) State {
	m := s.mux
	emit := func(msg Message) bool {
		// 非法 UTF-8 在编码时会被替换，提前替换使消息与线上内容一致。
		msg.Content = strings.ToValidUTF8(msg.Content, "\uFFFD")
		metrics.ObserveStreamMessage(string(msg.Event))
		return yield(msg)
	}

	for step, err := range s.steps {
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return StateCanceled
			}
			m.logger.Warn("智能体执行失败", slog.Any("error", err))
			emit(Message{Event: EventError, Content: "Error: " + xerrors.Detail(err)})
			return StateFailed
		}
		if step.Text == "" {
			continue
		}

		switch step.Kind {
		case agent.StepAssistant:
			if !emit(Message{Event: EventAgent, Content: step.Text}) {
				return StateCanceled
			}
		case agent.StepToolResult:
			ok := emit(Message{Event: EventTools, Content: step.Text, Functions: []string{step.ToolName}})
			// 链上部署已经发生，消费者即使在此处停止也要完成登记。
			m.record(s.ctx, step)
			if !ok {
				return StateCanceled
			}
		default:
			m.logger.Debug("忽略未知步骤", slog.String("kind", string(step.Kind)))
		}
	}
	if s.ctx.Err() != nil {
		return StateCanceled
	}
	return StateDone
}

func (m *Multiplexer) record(ctx context.Context, step agent.StepEvent) {
	if m.recorder == nil {
		return
	}
	kind, ok := agent.DeployKind(step.ToolName)
	if !ok {
		return
	}
	address, ok := agent.ExtractAddress(step.ToolName, step.Text)
	if !ok {
		m.logger.Warn("部署输出中没有合约地址", slog.String("tool", step.ToolName))
		return
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.recordTimeout)
	defer cancel()
	m.recorder.Record(recordCtx, kind, address)
}
