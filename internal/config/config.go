package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Replicate ReplicateConfig
	Printify  PrintifyConfig
	Shopify   ShopifyConfig
	Executor  ExecutorConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Usage     UsageConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{Server: server}
	sections := []any{
		&cfg.AI,
		&cfg.Replicate,
		&cfg.Printify,
		&cfg.Shopify,
		&cfg.Executor,
		&cfg.Worker,
		&cfg.Storage,
		&cfg.Usage,
		&cfg.Telemetry,
		&cfg.Log,
	}
	for _, section := range sections {
		if err := env.Parse(section); err != nil {
			return nil, fmt.Errorf("parse env: %w", err)
		}
	}

	cfg.Executor.Workers = compact(cfg.Executor.Workers)
	if err := cfg.Executor.validate(); err != nil {
		return nil, err
	}
	if cfg.AI.ReviewHistoryLimit < 1 {
		cfg.AI.ReviewHistoryLimit = 1
	}

	return cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return ServerConfig{Addr: port}, nil
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述文案生成所用的大模型配置。
type AIConfig struct {
	APIKey      string   `env:"ARK_API_KEY"`
	AccessKey   string   `env:"ARK_ACCESS_KEY"`
	SecretKey   string   `env:"ARK_SECRET_KEY"`
	Model       string   `env:"ARK_MODEL"`
	BaseURL     string   `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region      string   `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature *float64 `env:"ARK_TEMPERATURE"`
	TopP        *float64 `env:"ARK_TOP_P"`
	MaxTokens   *int     `env:"ARK_MAX_TOKENS"`

	ReviewLLMEnabled   bool `env:"AI_REVIEW_LLM_ENABLED" envDefault:"false"`
	ReviewHistoryLimit int  `env:"AI_REVIEW_HISTORY_LIMIT" envDefault:"6"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// ReplicateConfig 描述 Replicate 模型托管平台配置。
type ReplicateConfig struct {
	APIToken     string        `env:"REPLICATE_API_TOKEN"`
	BaseURL      string        `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com/v1"`
	ImageModel   string        `env:"REPLICATE_IMAGE_MODEL" envDefault:"prunaai/flux-fast"`
	TextModel    string        `env:"REPLICATE_TEXT_MODEL" envDefault:"meta/meta-llama-3-70b-instruct"`
	PremiumModel string        `env:"REPLICATE_PREMIUM_TEXT_MODEL" envDefault:"anthropic/claude-4.5-sonnet"`
	VideoModel   string        `env:"REPLICATE_VIDEO_MODEL" envDefault:"kwaivgi/kling-v2.5-turbo-pro"`
	SpeechModel  string        `env:"REPLICATE_SPEECH_MODEL" envDefault:"minimax/speech-02-hd"`
	RatePerMin   int           `env:"REPLICATE_RATE_PER_MINUTE" envDefault:"6"`
	PollInterval time.Duration `env:"REPLICATE_POLL_INTERVAL" envDefault:"2s"`
	PollTimeout  time.Duration `env:"REPLICATE_POLL_TIMEOUT" envDefault:"15m"`
	RetryBase    time.Duration `env:"REPLICATE_RETRY_BASE" envDefault:"12s"`
	MaxRetries   int           `env:"REPLICATE_MAX_RETRIES" envDefault:"3"`

	// AnthropicAPIKey 仅用于判断是否启用高级文案模型，请求仍经由 Replicate 发出。
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
}

// Enabled 表示是否配置了 Replicate 凭证。
func (c ReplicateConfig) Enabled() bool {
	return strings.TrimSpace(c.APIToken) != ""
}

// PrintifyConfig 描述 Printify 配置。
type PrintifyConfig struct {
	APIToken string `env:"PRINTIFY_API_TOKEN"`
	ShopID   string `env:"PRINTIFY_SHOP_ID"`
	BaseURL  string `env:"PRINTIFY_BASE_URL" envDefault:"https://api.printify.com/v1"`
}

// Enabled 表示是否配置了 Printify 凭证。
func (c PrintifyConfig) Enabled() bool {
	return strings.TrimSpace(c.APIToken) != ""
}

// ShopifyConfig 描述 Shopify Admin API 配置。
type ShopifyConfig struct {
	ShopURL     string `env:"SHOPIFY_SHOP_URL"`
	AccessToken string `env:"SHOPIFY_ACCESS_TOKEN"`
	APIVersion  string `env:"SHOPIFY_API_VERSION" envDefault:"2024-01"`
}

// Enabled 表示是否配置了 Shopify 凭证。
func (c ShopifyConfig) Enabled() bool {
	return strings.TrimSpace(c.ShopURL) != "" && strings.TrimSpace(c.AccessToken) != ""
}

// ExecutorConfig 描述批量执行器的选择。
type ExecutorConfig struct {
	DistributedEnabled bool          `env:"EXECUTOR_DISTRIBUTED_ENABLED" envDefault:"false"`
	Workers            []string      `env:"EXECUTOR_WORKERS" envSeparator:","`
	LocalWorkers       int           `env:"EXECUTOR_LOCAL_WORKERS" envDefault:"4"`
	MaxConcurrent      int           `env:"EXECUTOR_MAX_CONCURRENT" envDefault:"4"`
	MaxConcurrentJobs  int           `env:"JOBS_MAX_CONCURRENT" envDefault:"10"`
	ItemTimeout        time.Duration `env:"EXECUTOR_ITEM_TIMEOUT" envDefault:"15m"`
	DialTimeout        time.Duration `env:"EXECUTOR_DIAL_TIMEOUT" envDefault:"5s"`
	SharedSecret       string        `env:"WORKER_SHARED_SECRET"`
}

func (c ExecutorConfig) validate() error {
	if c.LocalWorkers < 1 {
		return fmt.Errorf("invalid EXECUTOR_LOCAL_WORKERS value %d: must be >= 1", c.LocalWorkers)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("invalid EXECUTOR_MAX_CONCURRENT value %d: must be >= 1", c.MaxConcurrent)
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("invalid JOBS_MAX_CONCURRENT value %d: must be >= 1", c.MaxConcurrentJobs)
	}
	if c.DistributedEnabled && len(c.Workers) == 0 {
		return fmt.Errorf("EXECUTOR_DISTRIBUTED_ENABLED requires EXECUTOR_WORKERS")
	}
	return nil
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// WorkerConfig 描述分布式工作节点配置。
type WorkerConfig struct {
	Addr         string  `env:"WORKER_ADDR" envDefault:":8265"`
	CPUs         float64 `env:"WORKER_CPUS" envDefault:"4"`
	SharedSecret string  `env:"WORKER_SHARED_SECRET"`
	Name         string  `env:"WORKER_NAME"`
}

// StorageConfig 描述本地持久化目录。
type StorageConfig struct {
	DatabasePath   string `env:"ABP_DB_PATH" envDefault:"data/abp.db"`
	LibraryDir     string `env:"ABP_FILE_LIBRARY" envDefault:"file_library"`
	CampaignsDir   string `env:"ABP_CAMPAIGNS_DIR" envDefault:"campaigns"`
	BrandTemplates string `env:"ABP_BRAND_TEMPLATES_DIR" envDefault:"data/brand_templates"`
}

// UsageConfig 描述 API 费用预算。
type UsageConfig struct {
	DailyBudget    float64 `env:"API_DAILY_BUDGET" envDefault:"10.0"`
	MonthlyBudget  float64 `env:"API_MONTHLY_BUDGET" envDefault:"100.0"`
	AlertThreshold float64 `env:"API_BUDGET_ALERT_THRESHOLD" envDefault:"0.8"`
}

// TelemetryConfig 描述链路追踪导出配置。
type TelemetryConfig struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"abp-backend"`
	Insecure     bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}
