package redis

import (
	"context"
	"fmt"

	"OnchainAgent/internal/storage"

	"github.com/redis/go-redis/v9"
)

// ContractStore 用 Redis Set 保存合约地址，SADD 天然幂等。
type ContractStore struct {
	client *redis.Client
	prefix string
	owned  bool
}

var _ storage.Store = (*ContractStore)(nil)

// NewContractStore 基于已有客户端创建登记表后端。owned 为 true 时 Close 会关闭客户端。
func NewContractStore(client *redis.Client, prefix string, owned bool) *ContractStore {
	return &ContractStore{client: client, prefix: keyPrefix(prefix), owned: owned}
}

func (s *ContractStore) key(table string) string {
	return s.prefix + ":contracts:" + table
}

// Upsert 实现 storage.Store。
func (s *ContractStore) Upsert(ctx context.Context, table, key string) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, s.key(table), key).Err(); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", table, err)
	}
	return nil
}

// SelectAll 实现 storage.Store。
func (s *ContractStore) SelectAll(ctx context.Context, table string) ([]string, error) {
	if err := storage.ValidateTable(table); err != nil {
		return nil, err
	}
	keys, err := s.client.SMembers(ctx, s.key(table)).Result()
	if err != nil {
		return nil, fmt.Errorf("查询 %s 失败: %w", table, err)
	}
	return keys, nil
}

// Ping 实现 storage.Pinger。
func (s *ContractStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 实现 storage.Store。
func (s *ContractStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
