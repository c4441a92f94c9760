// Package notify 在合约登记成功后向外部消息系统推送事件。
package notify

import (
	"context"
	"encoding/json"
	"time"
)

// Event 描述一次成功的合约登记。
type Event struct {
	Kind       string    `json:"kind"`
	Address    string    `json:"address"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Encode 返回事件的 JSON 编码。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher 推送登记事件。实现必须可以被并发调用。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop 丢弃所有事件。
type Noop struct{}

// Publish 实现 Publisher。
func (Noop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Noop) Close() error { return nil }
