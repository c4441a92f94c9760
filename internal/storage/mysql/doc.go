// Package mysql 提供基于 MySQL 的合约登记表后端，包含连接池初始化与
// deploy/migrations 中内置 SQL 的迁移执行。
package mysql
