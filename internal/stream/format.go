package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventKind 是 SSE 报文中 event 行的取值。
type EventKind string

const (
	EventAgent     EventKind = "agent"
	EventTools     EventKind = "tools"
	EventError     EventKind = "error"
	EventCompleted EventKind = "completed"
)

// Valid 判断事件类型是否为协议支持的取值。
func (k EventKind) Valid() bool {
	switch k {
	case EventAgent, EventTools, EventError, EventCompleted:
		return true
	default:
		return false
	}
}

// Message 表示一条即将写入响应流的格式化消息。
type Message struct {
	Event     EventKind
	Content   string
	Functions []string
}

type payload struct {
	Content   string   `json:"content"`
	Functions []string `json:"functions,omitempty"`
}

// Format 将内容编码为一个完整的 SSE 块：event 行、data 行以及结尾空行。
// content 中的非法 UTF-8 字节会被替换为 U+FFFD。
func Format(content string, kind EventKind, functions ...string) string {
	var data bytes.Buffer
	enc := json.NewEncoder(&data)
	enc.SetEscapeHTML(false)
	// string 与 []string 的编码不会失败。
	_ = enc.Encode(payload{Content: content, Functions: functions})

	var b strings.Builder
	b.Grow(data.Len() + len(kind) + 16)
	b.WriteString("event: ")
	b.WriteString(string(kind))
	b.WriteString("\ndata: ")
	b.Write(bytes.TrimRight(data.Bytes(), "\n"))
	b.WriteString("\n\n")
	return b.String()
}

// Encode 返回消息的线上格式。
func (m Message) Encode() string {
	return Format(m.Content, m.Event, m.Functions...)
}

// Decode 解析单个 SSE 块，是 Format 的逆操作。
func Decode(chunk string) (Message, error) {
	var (
		msg     Message
		sawData bool
	)
	for _, line := range strings.Split(strings.TrimRight(chunk, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			msg.Event = EventKind(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			var p payload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &p); err != nil {
				return Message{}, fmt.Errorf("解析 data 行失败: %w", err)
			}
			msg.Content = p.Content
			msg.Functions = p.Functions
			sawData = true
		case line == "":
		default:
			return Message{}, fmt.Errorf("无法识别的 SSE 行: %q", line)
		}
	}
	if !msg.Event.Valid() {
		return Message{}, fmt.Errorf("未知的事件类型: %q", msg.Event)
	}
	if !sawData {
		return Message{}, errors.New("SSE 块缺少 data 行")
	}
	return msg, nil
}
