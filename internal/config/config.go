package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 agentd 在启动阶段需要加载的全部配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
	LLM     LLMConfig     `json:"llm"`
	Agent   AgentConfig   `json:"agent"`
	Web3    Web3Config    `json:"web3"`
	Notify  NotifyConfig  `json:"notify"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string   `json:"address"`
	ShutdownTimeoutSeconds int      `json:"shutdown_timeout_seconds"`
	AllowedOrigins         []string `json:"allowed_origins"`
}

// ShutdownTimeout 返回优雅退出的等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return seconds(s.ShutdownTimeoutSeconds)
}

// AuthConfig 配置 API 的 Bearer Token 鉴权。
type AuthConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	TokenEnv string `json:"token_env"`
}

// ResolveToken 优先读取配置文件中的 token，其次读取环境变量。
func (a AuthConfig) ResolveToken() string {
	return resolveSecret(a.Token, a.TokenEnv)
}

// StorageConfig 描述合约登记表所使用的后端。
type StorageConfig struct {
	Driver              string       `json:"driver"`
	RecordTimeoutSecond int          `json:"record_timeout_seconds"`
	SQLite              SQLiteConfig `json:"sqlite"`
	MySQL               MySQLConfig  `json:"mysql"`
	Redis               RedisConfig  `json:"redis"`
}

// RecordTimeout 返回单次登记写入的超时时间。
func (s StorageConfig) RecordTimeout() time.Duration {
	return seconds(s.RecordTimeoutSecond)
}

// SQLiteConfig 描述 SQLite 数据库文件位置。
type SQLiteConfig struct {
	Path string `json:"path"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	DSNEnv                 string `json:"dsn_env"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	AutoMigrate            bool   `json:"auto_migrate"`
}

// ConnMaxLifetime 返回连接最长存活时间。
func (m MySQLConfig) ConnMaxLifetime() time.Duration {
	return seconds(m.ConnMaxLifetimeSeconds)
}

// ConnMaxIdleTime 返回连接最长空闲时间。
func (m MySQLConfig) ConnMaxIdleTime() time.Duration {
	return seconds(m.ConnMaxIdleTimeSeconds)
}

// ResolveDSN 返回实际使用的 DSN。
func (m MySQLConfig) ResolveDSN() string {
	return resolveSecret(m.DSN, m.DSNEnv)
}

// RedisConfig 描述 Redis 连接信息，同时用于登记表与会话记忆。
type RedisConfig struct {
	Address     string `json:"address"`
	Password    string `json:"password"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	KeyPrefix   string `json:"key_prefix"`
}

// ResolvePassword 返回实际使用的密码。
func (r RedisConfig) ResolvePassword() string {
	return resolveSecret(r.Password, r.PasswordEnv)
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider  string             `json:"provider"`
	OpenAI    OpenAIConfig       `json:"openai"`
	Anthropic AnthropicConfig    `json:"anthropic"`
	Python    PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的连接信息。
type OpenAIConfig struct {
	APIKey         string  `json:"api_key"`
	APIKeyEnv      string  `json:"api_key_env"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MaxRetries     int     `json:"max_retries"`
}

// Timeout 返回请求超时时间。
func (o OpenAIConfig) Timeout() time.Duration {
	return seconds(o.TimeoutSeconds)
}

// ResolveAPIKey 返回实际使用的 API Key。
func (o OpenAIConfig) ResolveAPIKey() string {
	return resolveSecret(o.APIKey, o.APIKeyEnv)
}

// AnthropicConfig 描述 Anthropic Messages API 的连接信息。
type AnthropicConfig struct {
	APIKey         string  `json:"api_key"`
	APIKeyEnv      string  `json:"api_key_env"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int64   `json:"max_tokens"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MaxRetries     int     `json:"max_retries"`
}

// Timeout 返回请求超时时间。
func (a AnthropicConfig) Timeout() time.Duration {
	return seconds(a.TimeoutSeconds)
}

// ResolveAPIKey 返回实际使用的 API Key。
func (a AnthropicConfig) ResolveAPIKey() string {
	return resolveSecret(a.APIKey, a.APIKeyEnv)
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// AgentConfig 控制推理循环。
type AgentConfig struct {
	SystemPrompt       string `json:"system_prompt"`
	MemoryBackend      string `json:"memory_backend"`
	MemoryDepth        int    `json:"memory_depth"`
	MaxIterations      int    `json:"max_iterations"`
	LLMTimeoutSeconds  int    `json:"llm_timeout_seconds"`
	ToolTimeoutSeconds int    `json:"tool_timeout_seconds"`
}

// LLMTimeout 返回单次模型调用超时。
func (a AgentConfig) LLMTimeout() time.Duration {
	return seconds(a.LLMTimeoutSeconds)
}

// ToolTimeout 返回单次工具调用超时。
func (a AgentConfig) ToolTimeout() time.Duration {
	return seconds(a.ToolTimeoutSeconds)
}

// Web3Config 包含访问区块链节点与部署合约所需的信息。
type Web3Config struct {
	ChainConfig        string `json:"chain_config"`
	RPCURL             string `json:"rpc_url"`
	DefaultChain       string `json:"default_chain"`
	PrivateKeyEnv      string `json:"private_key_env"`
	GasLimit           uint64 `json:"gas_limit"`
	TokenArtifact      string `json:"token_artifact"`
	NFTArtifact        string `json:"nft_artifact"`
	DefaultTokenSupply string `json:"default_token_supply"`
}

// ResolvePrivateKey 从环境变量读取部署私钥，私钥不允许写入配置文件。
func (w Web3Config) ResolvePrivateKey() string {
	return resolveSecret("", w.PrivateKeyEnv)
}

// NotifyConfig 控制合约登记事件的推送。
type NotifyConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	NATS     NATSConfig     `json:"nats"`
}

// RabbitMQConfig 描述 RabbitMQ 交换机参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	URLEnv     string `json:"url_env"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// ResolveURL 返回实际使用的连接串。
func (r RabbitMQConfig) ResolveURL() string {
	return resolveSecret(r.URL, r.URLEnv)
}

// NATSConfig 描述 NATS 连接与主题。
type NATSConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
	Name    string `json:"name"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的输出与滚动。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MetricsConfig 控制 Prometheus 指标的暴露方式。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查驱动等枚举字段的取值。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "mysql", "redis":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "python_bridge":
	default:
		return fmt.Errorf("未知的大模型 provider: %s", c.LLM.Provider)
	}
	switch c.Agent.MemoryBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("未知的会话记忆后端: %s", c.Agent.MemoryBackend)
	}
	switch c.Notify.Driver {
	case "none", "rabbitmq", "nats":
	default:
		return fmt.Errorf("未知的通知驱动: %s", c.Notify.Driver)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":5000"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Auth.TokenEnv == "" {
		c.Auth.TokenEnv = "AGENT_API_TOKEN"
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, "data")

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.RecordTimeoutSecond <= 0 {
		c.Storage.RecordTimeoutSecond = 5
	}
	c.Storage.SQLite.Path = resolvePath(c.Runtime.DataDir, c.Storage.SQLite.Path, "agent.db")
	if c.Storage.MySQL.DSNEnv == "" {
		c.Storage.MySQL.DSNEnv = "AGENT_MYSQL_DSN"
	}
	if c.Storage.Redis.Address == "" {
		c.Storage.Redis.Address = "127.0.0.1:6379"
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "onchain-agent"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.Anthropic.TimeoutSeconds <= 0 {
		c.LLM.Anthropic.TimeoutSeconds = 60
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir, "")

	if c.Agent.MemoryBackend == "" {
		c.Agent.MemoryBackend = "memory"
	}
	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 20
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 8
	}
	if c.Agent.ToolTimeoutSeconds <= 0 {
		c.Agent.ToolTimeoutSeconds = 120
	}

	if c.Web3.ChainConfig != "" {
		c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig, "")
	}
	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "DEPLOYER_PRIVATE_KEY"
	}
	if c.Web3.TokenArtifact != "" {
		c.Web3.TokenArtifact = resolvePath(baseDir, c.Web3.TokenArtifact, "")
	}
	if c.Web3.NFTArtifact != "" {
		c.Web3.NFTArtifact = resolvePath(baseDir, c.Web3.NFTArtifact, "")
	}
	if c.Web3.DefaultTokenSupply == "" {
		c.Web3.DefaultTokenSupply = "1000000"
	}

	if c.Notify.Driver == "" {
		c.Notify.Driver = "none"
	}
	if c.Notify.RabbitMQ.Exchange == "" {
		c.Notify.RabbitMQ.Exchange = "onchain-agent.contracts"
	}
	if c.Notify.RabbitMQ.RoutingKey == "" {
		c.Notify.RabbitMQ.RoutingKey = "contract.recorded"
	}
	if c.Notify.NATS.URL == "" {
		c.Notify.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.Notify.NATS.Subject == "" {
		c.Notify.NATS.Subject = "onchain-agent.contracts"
	}
	if c.Notify.NATS.Name == "" {
		c.Notify.NATS.Name = "agentd"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolvePath(c.Runtime.DataDir, c.Logging.Audit.Path, "audit.log")
	}
}

func resolvePath(baseDir, value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		if fallback == "" {
			return baseDir
		}
		value = fallback
	}
	if filepath.IsAbs(value) || baseDir == "" {
		return value
	}
	return filepath.Join(baseDir, value)
}

func resolveSecret(value, env string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
