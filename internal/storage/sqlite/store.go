// Package sqlite 提供基于 SQLite 单文件数据库的合约登记表后端。
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"OnchainAgent/internal/storage"

	_ "modernc.org/sqlite"
)

const schemaTable = `CREATE TABLE IF NOT EXISTS %s (
	address TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
)`

// Store 使用 SQLite 保存已部署的合约地址。
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open 打开（必要时创建）数据库文件并初始化表结构。
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	// SQLite 只允许单写者，写入经由同一连接串行化。
	db.SetMaxOpenConns(1)

	for _, table := range storage.Tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(schemaTable, table)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("初始化表 %s 失败: %w", table, err)
		}
	}
	return &Store{db: db}, nil
}

// Upsert 实现 storage.Store。
func (s *Store) Upsert(ctx context.Context, table, key string) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (address, created_at) VALUES (?, ?)", table)
	if _, err := s.db.ExecContext(ctx, query, key, time.Now().Unix()); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", table, err)
	}
	return nil
}

// SelectAll 实现 storage.Store。
func (s *Store) SelectAll(ctx context.Context, table string) ([]string, error) {
	if err := storage.ValidateTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT address FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("查询 %s 失败: %w", table, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Ping 实现 storage.Pinger。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库。
func (s *Store) Close() error {
	return s.db.Close()
}
