package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"FansDFS/internal/agents"
	"FansDFS/internal/api"
	"FansDFS/internal/config"
	"FansDFS/internal/events"
	"FansDFS/internal/intent"
	"FansDFS/internal/ledger/gateway"
	"FansDFS/internal/llm"
	"FansDFS/internal/llm/openai"
	"FansDFS/internal/orchestrator"
	"FansDFS/internal/pinning"
	"FansDFS/internal/pinning/pinata"
	"FansDFS/internal/records"
	"FansDFS/internal/router"
	"FansDFS/internal/session"
	"FansDFS/pkg/logger"
)

// main 是 FansDFS 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("fansdfsd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在不算错误，生产环境直接用进程环境变量。
	_ = godotenv.Load()

	configPath := os.Getenv("FANSDFS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "fansdfs.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		System: logger.SystemLogConfig{
			Enabled: cfg.Logging.SystemLog != "",
			Path:    cfg.Logging.SystemLog,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	sessionStore, err := createSessionStore(cfg, dataDir)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	turnRepo, err := createRecordsRepository(cfg, dataDir)
	if err != nil {
		return err
	}
	defer turnRepo.Close()

	publisher, err := createPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	ledgerClient, err := gateway.NewClient(ctx, gateway.Config{
		RPCURL:      cfg.Ledger.RPCURL,
		CallTimeout: cfg.Ledger.CallTimeout(),
		ViewRetries: cfg.Ledger.ViewRetries,
	})
	if err != nil {
		return err
	}
	defer ledgerClient.Close()

	pinner, err := createPinner(cfg)
	if err != nil {
		return err
	}

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	groupKey, err := loadGroupKey(cfg.Agents.GroupKeyEnv)
	if err != nil {
		return err
	}

	agentList := []agents.Agent{
		agents.NewAuthAgent(ledgerClient, agents.AuthConfig{
			TokenContractID: cfg.Ledger.TokenContractID,
			AccountSuffix:   cfg.Ledger.AccountSuffix,
		}),
		agents.NewNFTAgent(ledgerClient, agents.NFTConfig{
			TokenContractID:  cfg.Ledger.TokenContractID,
			CustodyAccountID: cfg.Ledger.AdminAccountID,
		}),
		agents.NewUploadAgent(agents.UploadConfig{
			AllowedExtensions: cfg.Agents.AllowedExtensions,
			FallbackDir:       cfg.Agents.FallbackDir,
		}),
		agents.NewStorageAgent(pinner, ledgerClient, agents.StorageConfig{
			ContractID:        cfg.Ledger.ContractID,
			GroupID:           cfg.Agents.GroupID,
			DefaultUserID:     cfg.Ledger.AdminAccountID,
			GroupKey:          groupKey,
			AllowedExtensions: cfg.Agents.AllowedExtensions,
		}),
		agents.NewManagerAgent(llmClient),
	}

	intentIndex, err := createIntentIndex(cfg)
	if err != nil {
		return err
	}
	turnRouter := router.New(intentIndex, router.Config{
		Threshold: cfg.Intent.Threshold,
		TopK:      cfg.Intent.TopK,
	})

	orch, err := orchestrator.New(sessionStore, turnRouter, agentList,
		orchestrator.Config{HandOffDepth: cfg.Agents.HandOffDepth},
		orchestrator.WithRecords(turnRepo),
		orchestrator.WithPublisher(publisher),
	)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, orch, turnRepo)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createSessionStore(cfg *config.Config, dataDir string) (session.Store, error) {
	switch cfg.Session.Driver {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "file":
		store, err := session.NewFileStore(dataDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		store, err := session.NewRedisStore(session.RedisStoreConfig{
			Address:   cfg.Session.Redis.Address,
			Password:  cfg.Session.Redis.Password,
			DB:        cfg.Session.Redis.DB,
			KeyPrefix: cfg.Session.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Session.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Session.Driver)
	}
}

func createRecordsRepository(cfg *config.Config, dataDir string) (records.Repository, error) {
	switch cfg.Records.Driver {
	case "", "memory":
		return records.NewMemoryRepository(), nil
	case "mysql", "sqlite":
		repo, err := records.NewSQLRepository(records.SQLConfig{
			Driver:          cfg.Records.Driver,
			DSN:             recordsDSN(cfg.Records.Driver, cfg.Records.DSN, dataDir),
			MaxOpenConns:    cfg.Records.MaxOpenConns,
			MaxIdleConns:    cfg.Records.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Records.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("未知的记录存储驱动: %s", cfg.Records.Driver)
	}
}

// recordsDSN 在 sqlite 驱动下补出默认的库文件位置。
func recordsDSN(driver, dsn, dataDir string) string {
	if dsn == "" && driver == "sqlite" {
		return filepath.Join(dataDir, "fansdfs.db")
	}
	return dsn
}

func createPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "", "none":
		return events.NoopPublisher{}, nil
	case "rabbitmq":
		publisher, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQ.URL,
			Queue:   cfg.Events.RabbitMQ.Queue,
			Durable: cfg.Events.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return publisher, nil
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}
}

// createPinner 构造内容固定客户端。凭证缺失时返回 nil，
// 存储智能体会在处理文件时报告固定服务未配置。
func createPinner(cfg *config.Config) (pinning.Client, error) {
	apiKey := secret(cfg.Pinning.APIKey, cfg.Pinning.APIKeyEnv)
	apiSecret := secret(cfg.Pinning.APISecret, cfg.Pinning.APISecretEnv)
	if apiKey == "" || apiSecret == "" {
		return nil, nil
	}
	client, err := pinata.NewClient(pinata.Config{
		Endpoint:  cfg.Pinning.Endpoint,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Timeout:   cfg.Pinning.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// createLLMClient 构造管理智能体的兜底补全客户端。
// 没有配置 API key 时返回 nil，管理智能体退化为纯静态回复。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	apiKey := secret(cfg.LLM.APIKey, cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		return nil, nil
	}
	client, err := openai.NewClient(openai.Config{
		APIKey:  apiKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// createIntentIndex 加载语料并构造语义检索索引。
// 语料或 API key 缺失时返回 nil，路由器只用关键词表。
func createIntentIndex(cfg *config.Config) (intent.Index, error) {
	if cfg.Intent.CorpusPath == "" {
		return nil, nil
	}
	apiKey := secret(cfg.LLM.APIKey, cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		return nil, nil
	}
	corpus, err := intent.LoadCorpus(cfg.Intent.CorpusPath)
	if err != nil {
		return nil, err
	}
	embedder, err := intent.NewOpenAIEmbedder(intent.OpenAIEmbedderConfig{
		APIKey:  apiKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.Intent.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}
	index, err := intent.NewEmbeddingIndex(embedder, corpus)
	if err != nil {
		return nil, err
	}
	return index, nil
}

// loadGroupKey 从环境变量读取群组加密密钥。未配置时返回 nil（明文上传）。
func loadGroupKey(envName string) ([]byte, error) {
	if envName == "" {
		return nil, nil
	}
	raw := strings.TrimSpace(os.Getenv(envName))
	if raw == "" {
		return nil, nil
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("群组密钥必须是 32 字节，实际 %d 字节", len(raw))
	}
	return []byte(raw), nil
}

// secret 先取内联值，再退回环境变量。
func secret(inline, envName string) string {
	if v := strings.TrimSpace(inline); v != "" {
		return v
	}
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}
