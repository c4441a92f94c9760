package agent

import (
	"context"
	"sync"

	"OnchainAgent/internal/llm"
)

// Memory 按会话保存对话历史。
type Memory interface {
	Load(ctx context.Context, sessionKey string) ([]llm.Message, error)
	Append(ctx context.Context, sessionKey string, msgs ...llm.Message) error
}

// InMemoryHistory 是进程内的会话历史，每个会话最多保留 limit 条消息。
type InMemoryHistory struct {
	mu       sync.Mutex
	limit    int
	sessions map[string][]llm.Message
}

// NewInMemoryHistory 创建进程内会话历史。limit<=0 时不截断。
func NewInMemoryHistory(limit int) *InMemoryHistory {
	return &InMemoryHistory{limit: limit, sessions: make(map[string][]llm.Message)}
}

// Load 返回会话历史的副本。
func (m *InMemoryHistory) Load(_ context.Context, sessionKey string) ([]llm.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.sessions[sessionKey]
	out := make([]llm.Message, len(history))
	copy(out, history)
	return out, nil
}

// Append 追加消息并按上限截断。
func (m *InMemoryHistory) Append(_ context.Context, sessionKey string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey] = TrimHistory(append(m.sessions[sessionKey], msgs...), m.limit)
	return nil
}

// TrimHistory 保留最近的 limit 条消息，并保证结果以用户消息开头，
// 避免截断后留下没有对应调用的工具结果。
func TrimHistory(history []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	trimmed := history[len(history)-limit:]
	for len(trimmed) > 0 && trimmed[0].Role != llm.RoleUser {
		trimmed = trimmed[1:]
	}
	out := make([]llm.Message, len(trimmed))
	copy(out, trimmed)
	return out
}
