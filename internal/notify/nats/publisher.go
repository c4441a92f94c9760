// Package nats 将合约登记事件发布到 NATS 主题。
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"OnchainAgent/internal/notify"
	"OnchainAgent/pkg/logger"

	"github.com/nats-io/nats.go"
)

// Config 描述 NATS 连接参数。
type Config struct {
	URL     string
	Subject string
	Name    string
}

// Publisher 发布到 <subject>.<kind>。
type Publisher struct {
	conn    *nats.Conn
	subject string
}

var _ notify.Publisher = (*Publisher)(nil)

// NewPublisher 连接 NATS，断线后无限重连。
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL 不能为空")
	}
	if cfg.Subject == "" {
		return nil, errors.New("NATS subject 不能为空")
	}
	log := logger.Named("notify.nats")
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS 连接断开", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS 已重连", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	return &Publisher{conn: conn, subject: cfg.Subject}, nil
}

// Subject 返回事件发布的主题。
func Subject(base, kind string) string {
	return base + "." + kind
}

// Publish 实现 notify.Publisher，并等待服务端确认已收到。
func (p *Publisher) Publish(ctx context.Context, event notify.Event) error {
	body, err := event.Encode()
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := p.conn.Publish(Subject(p.subject, event.Kind), body); err != nil {
		return fmt.Errorf("发布 NATS 消息失败: %w", err)
	}
	return p.conn.FlushWithContext(ctx)
}

// Close 排空并关闭连接。
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
