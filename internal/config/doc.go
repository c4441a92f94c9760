// Package config 负责加载 agentd 的 JSON 配置文件，补齐默认值，并从环境变量
// 读取密钥类配置。
package config
