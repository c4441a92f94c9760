package agent

import (
	"context"
	"iter"
)

// StepKind 区分引擎产出的步骤类型。
type StepKind string

const (
	// StepAssistant 是大模型的自然语言回复。
	StepAssistant StepKind = "assistant"
	// StepToolResult 是一次工具调用的输出。
	StepToolResult StepKind = "tool_result"
)

// StepEvent 是引擎执行过程中的一个离散步骤。
type StepEvent struct {
	Kind     StepKind
	ToolName string
	Text     string
}

// Engine 根据用户输入与会话标识产出有序的步骤序列。
//
// 序列是惰性的：调用方停止迭代后引擎不再继续推理。出错时序列以一个
// 非 nil 的 error 结束。
type Engine interface {
	RunStep(ctx context.Context, input, sessionKey string) iter.Seq2[StepEvent, error]
}

// EngineFunc 允许用普通函数实现 Engine。
type EngineFunc func(ctx context.Context, input, sessionKey string) iter.Seq2[StepEvent, error]

// RunStep 实现 Engine。
func (f EngineFunc) RunStep(ctx context.Context, input, sessionKey string) iter.Seq2[StepEvent, error] {
	return f(ctx, input, sessionKey)
}
