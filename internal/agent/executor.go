package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	xerrors "OnchainAgent/internal/errors"
	"OnchainAgent/internal/llm"
	"OnchainAgent/pkg/logger"

	"github.com/google/uuid"
)

// DefaultSystemPrompt 是未配置时使用的系统提示词。
const DefaultSystemPrompt = `You are a helpful AI assistant that performs blockchain operations on an EVM network.

You can:
1. Deploy ERC-20 tokens using deploy_token (requires name and symbol)
2. Deploy NFT collections using deploy_nft (requires name and symbol)
3. Check wallet balances using get_balance (requires address)
4. Inspect the latest block using get_latest_block (no arguments)

You cannot send or transfer ETH.

Always explain what you're doing before performing any action.
For questions about the latest block, call get_latest_block every time to receive fresh data.`

const (
	defaultMemoryDepth   = 20
	defaultMaxIterations = 8
)

// Toolbox 是执行器可调用的工具集合。
type Toolbox interface {
	Specs() []llm.ToolSpec
	Call(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Executor 通过"模型推理 -> 调用工具 -> 回填结果"的循环实现 Engine。
type Executor struct {
	model         llm.ChatModel
	tools         Toolbox
	memory        Memory
	systemPrompt  string
	memoryDepth   int
	maxIterations int
	llmTimeout    time.Duration
	toolTimeout   time.Duration
	logger        *slog.Logger
}

// Option 定义可选的 Executor 配置。
type Option func(*Executor)

// WithMemory 指定会话历史的存储位置。
func WithMemory(memory Memory) Option {
	return func(e *Executor) {
		e.memory = memory
	}
}

// WithMemoryDepth 设置进程内会话历史保留的消息数量。
func WithMemoryDepth(depth int) Option {
	return func(e *Executor) {
		e.memoryDepth = depth
	}
}

// WithMaxIterations 设置单次请求中模型推理的最大轮数。
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		e.maxIterations = n
	}
}

// WithSystemPrompt 替换默认系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(e *Executor) {
		if strings.TrimSpace(prompt) != "" {
			e.systemPrompt = prompt
		}
	}
}

// WithLLMTimeout 设置单次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout <= 0 {
			e.llmTimeout = 0
			return
		}
		e.llmTimeout = timeout
	}
}

// WithToolTimeout 设置单次工具调用的超时时间。
func WithToolTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout <= 0 {
			e.toolTimeout = 0
			return
		}
		e.toolTimeout = timeout
	}
}

// NewExecutor 创建执行器。tools 可以为 nil，此时模型只能进行纯文本回复。
func NewExecutor(model llm.ChatModel, tools Toolbox, opts ...Option) *Executor {
	e := &Executor{
		model:         model,
		tools:         tools,
		systemPrompt:  DefaultSystemPrompt,
		memoryDepth:   defaultMemoryDepth,
		maxIterations: defaultMaxIterations,
		logger:        logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.maxIterations <= 0 {
		e.maxIterations = defaultMaxIterations
	}
	if e.memory == nil {
		e.memory = NewInMemoryHistory(e.memoryDepth)
	}
	return e
}

// RunStep 实现 Engine。
func (e *Executor) RunStep(ctx context.Context, input, sessionKey string) iter.Seq2[StepEvent, error] {
	return func(yield func(StepEvent, error) bool) {
		if e.model == nil {
			yield(StepEvent{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端"))
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			yield(StepEvent{}, xerrors.New(xerrors.CodeInvalidArgument, "输入不能为空"))
			return
		}

		history, err := e.memory.Load(ctx, sessionKey)
		if err != nil {
			e.logger.Warn("加载会话历史失败", slog.String("session", sessionKey), slog.Any("error", err))
			history = nil
		}

		// 只持久化完整的轮次，未执行完的工具调用不会写入历史。
		turn := []llm.Message{{Role: llm.RoleUser, Content: input}}
		committed := len(turn)
		defer func() {
			if err := e.memory.Append(context.WithoutCancel(ctx), sessionKey, turn[:committed]...); err != nil {
				e.logger.Warn("保存会话历史失败", slog.String("session", sessionKey), slog.Any("error", err))
			}
		}()

		var specs []llm.ToolSpec
		if e.tools != nil {
			specs = e.tools.Specs()
		}

		for i := 0; i < e.maxIterations; i++ {
			if err := ctx.Err(); err != nil {
				yield(StepEvent{}, err)
				return
			}

			messages := make([]llm.Message, 0, len(history)+len(turn))
			messages = append(messages, history...)
			messages = append(messages, turn...)

			resp, err := e.chat(ctx, llm.ChatRequest{System: e.systemPrompt, Messages: messages, Tools: specs})
			if err != nil {
				yield(StepEvent{}, err)
				return
			}

			calls := assignCallIDs(resp.ToolCalls)
			turn = append(turn, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: calls})
			if len(calls) == 0 {
				committed = len(turn)
			}

			if resp.Text != "" {
				if !yield(StepEvent{Kind: StepAssistant, Text: resp.Text}, nil) {
					return
				}
			}
			if len(calls) == 0 {
				return
			}

			for _, call := range calls {
				output := e.runTool(ctx, call)
				turn = append(turn, llm.Message{Role: llm.RoleTool, Content: output, ToolCallID: call.ID, Name: call.Name})
				if !yield(StepEvent{Kind: StepToolResult, ToolName: call.Name, Text: output}, nil) {
					return
				}
			}
			committed = len(turn)
		}

		yield(StepEvent{}, xerrors.New(xerrors.CodeEngineFailure,
			fmt.Sprintf("agent stopped after %d iterations without a final answer", e.maxIterations)))
	}
}

func (e *Executor) chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	llmCtx := ctx
	if e.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, e.llmTimeout)
		defer cancel()
	}

	resp, err := e.model.Chat(llmCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeEngineFailure, err, "大模型推理失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeEngineFailure, "大模型返回空响应")
	}
	return resp, nil
}

// runTool 执行工具调用。工具错误以文本形式回填给模型，不中断推理。
func (e *Executor) runTool(ctx context.Context, call llm.ToolCall) string {
	if e.tools == nil {
		return "Error: unknown tool " + call.Name
	}

	toolCtx := ctx
	if e.toolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, e.toolTimeout)
		defer cancel()
	}

	started := time.Now()
	output, err := e.tools.Call(toolCtx, call.Name, call.ArgumentsOrEmpty())
	if err != nil {
		e.logger.Warn("工具调用失败",
			slog.String("tool", call.Name),
			slog.Duration("elapsed", time.Since(started)),
			slog.Any("error", err))
		return "Error: " + err.Error()
	}
	e.logger.Debug("工具调用完成", slog.String("tool", call.Name), slog.Duration("elapsed", time.Since(started)))
	return output
}

func assignCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = "call_" + uuid.NewString()
		}
	}
	return out
}
