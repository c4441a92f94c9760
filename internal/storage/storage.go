// Package storage 定义合约登记表的存储契约，以及供开发和测试使用的内存实现。
//
// 每张表只保存一列主键（合约地址）。具体后端位于 sqlite、mysql、redis 子包。
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const (
	// TableTokens 保存 ERC-20 代币合约地址。
	TableTokens = "tokens"
	// TableNFTs 保存 ERC-721 合约地址。
	TableNFTs = "nfts"
)

// Tables 是允许访问的全部表名。
var Tables = []string{TableTokens, TableNFTs}

// ErrUnknownTable 表示表名不在白名单中。
var ErrUnknownTable = errors.New("unknown table")

// ValidateTable 校验表名。SQL 后端会把表名拼接进语句，必须先经过校验。
func ValidateTable(table string) error {
	for _, t := range Tables {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// Store 是合约登记表的存储后端。
//
// Upsert 必须是原子的：同一个 key 并发写入多次，最终只保留一行。
type Store interface {
	Upsert(ctx context.Context, table, key string) error
	SelectAll(ctx context.Context, table string) ([]string, error)
	Close() error
}

// Pinger 由能够检查连通性的后端实现，用于健康检查。
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryStore 是进程内实现，重启后数据丢失。
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]struct{}
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	tables := make(map[string]map[string]struct{}, len(Tables))
	for _, t := range Tables {
		tables[t] = make(map[string]struct{})
	}
	return &MemoryStore{tables: tables}
}

// Upsert 实现 Store。
func (m *MemoryStore) Upsert(_ context.Context, table, key string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table][key] = struct{}{}
	return nil
}

// SelectAll 实现 Store。
func (m *MemoryStore) SelectAll(_ context.Context, table string) ([]string, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.tables[table]))
	for k := range m.tables[table] {
		keys = append(keys, k)
	}
	return keys, nil
}

// Ping 实现 Pinger。
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close 实现 Store。
func (m *MemoryStore) Close() error {
	return nil
}
