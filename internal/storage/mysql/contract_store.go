package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"OnchainAgent/internal/storage"
)

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("不支持的存储驱动")

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

// ContractStore 使用 MySQL 保存已部署的合约地址。
type ContractStore struct {
	db *sql.DB
}

var _ storage.Store = (*ContractStore)(nil)

// NewContractStore 建立连接，并在开启 AutoMigrate 时执行内置迁移。
func NewContractStore(ctx context.Context, cfg Config) (*ContractStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &ContractStore{db: db}
	if cfg.AutoMigrate {
		if err := store.runMigrations(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return store, nil
}

// Upsert 写入地址；主键冲突时保持单行。
func (s *ContractStore) Upsert(ctx context.Context, table, key string) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (address, created_at) VALUES (?, ?) ON DUPLICATE KEY UPDATE address = address", table)
	if _, err := s.db.ExecContext(ctx, query, key, time.Now().Unix()); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", table, err)
	}
	return nil
}

// SelectAll 返回表中全部地址。
func (s *ContractStore) SelectAll(ctx context.Context, table string) ([]string, error) {
	if err := storage.ValidateTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT address FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("查询 %s 失败: %w", table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("解析 %s 失败: %w", table, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 %s 失败: %w", table, err)
	}
	return keys, nil
}

// Ping 检查数据库连通性。
func (s *ContractStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭连接池。
func (s *ContractStore) Close() error {
	return s.db.Close()
}
