package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 FansDFS 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Runtime RuntimeConfig `json:"runtime"`
	Logging LoggingConfig `json:"logging"`
	Session SessionConfig `json:"session"`
	Records RecordsConfig `json:"records"`
	Events  EventsConfig  `json:"events"`
	LLM     LLMConfig     `json:"llm"`
	Intent  IntentConfig  `json:"intent"`
	Ledger  LedgerConfig  `json:"ledger"`
	Pinning PinningConfig `json:"pinning"`
	Agents  AgentsConfig  `json:"agents"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// LoggingConfig 控制结构化日志与系统日志轨迹的输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	SystemLog   string   `json:"system_log"`
}

// SessionConfig 描述会话存储后端。
type SessionConfig struct {
	Driver string             `json:"driver"`
	Redis  RedisSessionConfig `json:"redis"`
}

// RedisSessionConfig 描述 Redis 会话存储的连接参数。
type RedisSessionConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// RecordsConfig 描述回合记录的落库方式。
type RecordsConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// EventsConfig 描述回合事件的对外广播方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 事件发布的连接参数。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// LLMConfig 用于配置大模型补全的调用方式。
type LLMConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回大模型调用的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IntentConfig 配置语义意图检索。
type IntentConfig struct {
	CorpusPath     string  `json:"corpus_path"`
	EmbeddingModel string  `json:"embedding_model"`
	Threshold      float64 `json:"threshold"`
	TopK           int     `json:"top_k"`
}

// LedgerConfig 包含访问账本网关所需的参数。
type LedgerConfig struct {
	RPCURL            string `json:"rpc_url"`
	ContractID        string `json:"contract_id"`
	TokenContractID   string `json:"token_contract_id"`
	AccountSuffix     string `json:"account_suffix"`
	AdminAccountID    string `json:"admin_account_id"`
	AdminKeyEnv       string `json:"admin_key_env"`
	ViewRetries       int    `json:"view_retries"`
	CallTimeoutSecond int    `json:"call_timeout_seconds"`
}

// CallTimeout 返回账本调用的超时时间。
func (c LedgerConfig) CallTimeout() time.Duration {
	if c.CallTimeoutSecond <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CallTimeoutSecond) * time.Second
}

// PinningConfig 描述内容寻址存储服务的接入方式。
type PinningConfig struct {
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	APISecret      string `json:"api_secret"`
	APISecretEnv   string `json:"api_secret_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回固定上传调用的超时时间。
func (c PinningConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentsConfig 汇总各个智能体的行为参数。
type AgentsConfig struct {
	GroupID           string   `json:"group_id"`
	GroupKeyEnv       string   `json:"group_key_env"`
	AllowedExtensions []string `json:"allowed_extensions"`
	FallbackDir       string   `json:"fallback_dir"`
	HandOffDepth      int      `json:"hand_off_depth"`
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

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.Redis.KeyPrefix == "" {
		c.Session.Redis.KeyPrefix = "fansdfs:session:"
	}

	if c.Records.Driver == "" {
		c.Records.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "fansdfs:turns"
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}

	if c.Intent.CorpusPath != "" && !filepath.IsAbs(c.Intent.CorpusPath) {
		c.Intent.CorpusPath = filepath.Join(baseDir, c.Intent.CorpusPath)
	}
	if c.Intent.EmbeddingModel == "" {
		c.Intent.EmbeddingModel = "text-embedding-3-small"
	}
	if c.Intent.Threshold <= 0 {
		c.Intent.Threshold = 0.35
	}
	if c.Intent.TopK <= 0 {
		c.Intent.TopK = 3
	}

	if c.Ledger.TokenContractID == "" {
		c.Ledger.TokenContractID = "1000fans.testnet"
	}
	if c.Ledger.ContractID == "" {
		c.Ledger.ContractID = c.Ledger.TokenContractID
	}
	if c.Ledger.AccountSuffix == "" {
		c.Ledger.AccountSuffix = "1000fans.testnet"
	}
	if c.Ledger.ViewRetries <= 0 {
		c.Ledger.ViewRetries = 3
	}

	if c.Agents.GroupID == "" {
		c.Agents.GroupID = "theosis"
	}
	if len(c.Agents.AllowedExtensions) == 0 {
		c.Agents.AllowedExtensions = []string{".mp3"}
	}
	if c.Agents.HandOffDepth <= 0 {
		c.Agents.HandOffDepth = 5
	}
}
