// Package rabbitmq 将合约登记事件发布到 RabbitMQ topic 交换机。
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"OnchainAgent/internal/notify"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config 描述 RabbitMQ 的连接参数。
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Publisher 使用单个 channel 发布事件，amqp channel 不支持并发使用，因此加锁。
type Publisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

var _ notify.Publisher = (*Publisher)(nil)

// NewPublisher 连接 RabbitMQ 并声明持久化的 topic 交换机。
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("RabbitMQ exchange 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: cfg.Exchange, routingKey: cfg.RoutingKey}, nil
}

// RoutingKey 返回事件使用的路由键：<routing_key>.<kind>。
func RoutingKey(base, kind string) string {
	if base == "" {
		return kind
	}
	return base + "." + kind
}

// Publish 实现 notify.Publisher。
func (p *Publisher) Publish(ctx context.Context, event notify.Event) error {
	body, err := event.Encode()
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return errors.New("RabbitMQ 发布器已关闭")
	}
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(p.routingKey, event.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.RecordedAt,
		Body:         body,
	})
}

// Close 关闭 RabbitMQ 连接。
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
