package llm

import (
	"context"
	"encoding/json"
)

// Role 标识会话消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是与具体厂商无关的会话消息。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall 描述模型请求执行的一次工具调用。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolSpec 向模型声明一个可调用的工具，Parameters 为 JSON Schema。
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest 描述一次带工具的对话补全请求。
type ChatRequest struct {
	System   string     `json:"system,omitempty"`
	Messages []Message  `json:"messages"`
	Tools    []ToolSpec `json:"tools,omitempty"`
}

// ChatResponse 是模型的一轮输出：自然语言回复与待执行的工具调用。
type ChatResponse struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChatModel 定义了调用大模型的统一接口。
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatModelFunc 允许用普通函数实现 ChatModel。
type ChatModelFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

// Chat 实现 ChatModel。
func (f ChatModelFunc) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}

// ArgumentsOrEmpty 返回工具参数，空参数时返回 "{}"。
func (c ToolCall) ArgumentsOrEmpty() json.RawMessage {
	if len(c.Arguments) == 0 {
		return json.RawMessage("{}")
	}
	return c.Arguments
}
