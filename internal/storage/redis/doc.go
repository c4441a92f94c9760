// Package redis 提供基于 Redis 的合约登记表后端（Set）与会话历史（List）。
package redis
