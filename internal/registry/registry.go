// Package registry 记录智能体部署过的合约地址，并按类别列出。
package registry

import (
	"context"
	"log/slog"
	"time"

	xerrors "OnchainAgent/internal/errors"
	"OnchainAgent/internal/notify"
	"OnchainAgent/internal/observability/metrics"
	"OnchainAgent/internal/storage"
	"OnchainAgent/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Kind 是合约类别。
type Kind string

const (
	KindToken Kind = "token"
	KindNFT   Kind = "nft"
)

// Table 返回类别对应的存储表。
func (k Kind) Table() (string, bool) {
	switch k {
	case KindToken:
		return storage.TableTokens, true
	case KindNFT:
		return storage.TableNFTs, true
	default:
		return "", false
	}
}

// Registry 把地址写入类别对应的表。写入依赖存储层的原子 upsert，本身不加锁。
type Registry struct {
	store     storage.Store
	publisher notify.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option 定义可选的 Registry 配置。
type Option func(*Registry)

// WithPublisher 在登记成功后推送事件。
func WithPublisher(p notify.Publisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.publisher = p
		}
	}
}

// New 创建 Registry。
func New(store storage.Store, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		publisher: notify.Noop{},
		logger:    logger.Named("registry"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Record 幂等地登记一个地址，返回是否写入成功。
//
// 存储错误只记录日志，不向上返回：调用方是流式响应，登记失败不应打断它。
func (r *Registry) Record(ctx context.Context, kind Kind, address string) bool {
	table, ok := kind.Table()
	if !ok {
		r.logger.Error("未知的合约类别", slog.String("kind", string(kind)), slog.String("address", address))
		metrics.ObserveRecording(string(kind), metrics.ResultSkipped)
		return false
	}
	if !common.IsHexAddress(address) {
		r.logger.Error("合约地址格式不正确", slog.String("kind", string(kind)), slog.String("address", address))
		metrics.ObserveRecording(string(kind), metrics.ResultSkipped)
		return false
	}

	if err := r.store.Upsert(ctx, table, address); err != nil {
		err = xerrors.Wrap(xerrors.CodeStorageFailure, err, "登记合约地址失败")
		r.logger.Error("登记合约地址失败",
			slog.String("kind", string(kind)),
			slog.String("address", address),
			slog.Any("error", err))
		metrics.ObserveRecording(string(kind), metrics.ResultFailed)
		return false
	}

	metrics.ObserveRecording(string(kind), metrics.ResultRecorded)
	logger.Audit().Info("合约地址已登记", slog.String("kind", string(kind)), slog.String("address", address))

	event := notify.Event{Kind: string(kind), Address: address, RecordedAt: r.now().UTC()}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("推送登记事件失败",
			slog.String("address", address),
			slog.Any("error", xerrors.Wrap(xerrors.CodeNotifyFailure, err, "推送登记事件失败")))
	}
	return true
}

// List 返回某一类别的全部地址，顺序不保证。
func (r *Registry) List(ctx context.Context, kind Kind) ([]string, error) {
	table, ok := kind.Table()
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的合约类别: "+string(kind))
	}
	keys, err := r.store.SelectAll(ctx, table)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询合约地址失败")
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}
