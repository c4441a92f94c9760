package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"OnchainAgent/internal/llm"

	"github.com/redis/go-redis/v9"
)

// History 把会话消息以 JSON 追加到 Redis List，实现 agent.Memory。
type History struct {
	client *redis.Client
	prefix string
	limit  int
	ttl    time.Duration
}

// NewHistory 创建会话历史。limit 为每个会话保留的消息数，ttl<=0 表示不过期。
func NewHistory(client *redis.Client, prefix string, limit int, ttl time.Duration) *History {
	return &History{client: client, prefix: keyPrefix(prefix), limit: limit, ttl: ttl}
}

func (h *History) key(sessionKey string) string {
	return h.prefix + ":history:" + sessionKey
}

// Load 读取会话历史，丢弃截断后开头残留的非用户消息。
func (h *History) Load(ctx context.Context, sessionKey string) ([]llm.Message, error) {
	raw, err := h.client.LRange(ctx, h.key(sessionKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取会话历史失败: %w", err)
	}
	msgs := make([]llm.Message, 0, len(raw))
	for _, item := range raw {
		var msg llm.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("解析会话历史失败: %w", err)
		}
		msgs = append(msgs, msg)
	}
	for len(msgs) > 0 && msgs[0].Role != llm.RoleUser {
		msgs = msgs[1:]
	}
	return msgs, nil
}

// Append 追加消息，并在同一个事务中截断与续期。
func (h *History) Append(ctx context.Context, sessionKey string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("序列化会话消息失败: %w", err)
		}
		values = append(values, encoded)
	}

	key := h.key(sessionKey)
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if h.limit > 0 {
			pipe.LTrim(ctx, key, int64(-h.limit), -1)
		}
		if h.ttl > 0 {
			pipe.Expire(ctx, key, h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("保存会话历史失败: %w", err)
	}
	return nil
}
