package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Primary   ProviderConfig  `mapstructure:"primary"`
	Critic    ProviderConfig  `mapstructure:"critic"`
	Title     TitleConfig     `mapstructure:"title"`
	Search    SearchConfig    `mapstructure:"search"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ProviderConfig 描述一个 OpenAI 兼容的 chat/completions 上游
type ProviderConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DebugRequest bool          `mapstructure:"debug_request"`
}

// TitleConfig 会话标题生成模型，provider 为 ark 或 qwen，留空则直接截断用户消息
type TitleConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	TopP        float32       `mapstructure:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	SearchDepth string        `mapstructure:"search_depth"`
	MaxResults  int           `mapstructure:"max_results"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	ThinkingBudget      int           `mapstructure:"thinking_budget"`
	UpstreamIdleTimeout time.Duration `mapstructure:"upstream_idle_timeout"`
	ChunkSize           int           `mapstructure:"chunk_size"`
	PersistTimeout      time.Duration `mapstructure:"persist_timeout"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	DataDir   string `mapstructure:"data_dir"`
	CacheSize int    `mapstructure:"cache_size"`
	UserID    string `mapstructure:"user_id"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	// 流式响应不设写超时
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("primary.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("primary.model", "doubao-seed-1-6-lite-251015")
	v.SetDefault("primary.timeout", 0)
	v.SetDefault("critic.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("critic.model", "doubao-seed-1-6-flash-250828")

	v.SetDefault("title.max_tokens", 64)
	v.SetDefault("title.temperature", 0.3)
	v.SetDefault("title.top_p", 0.9)
	v.SetDefault("title.timeout", 15*time.Second)

	v.SetDefault("search.base_url", "https://api.tavily.com/search")
	v.SetDefault("search.search_depth", "basic")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.timeout", 10*time.Second)

	v.SetDefault("pipeline.thinking_budget", 1024)
	v.SetDefault("pipeline.upstream_idle_timeout", 60*time.Second)
	v.SetDefault("pipeline.chunk_size", 4096)
	v.SetDefault("pipeline.persist_timeout", 30*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.exposed_headers", []string{"X-Conversation-Id"})
	v.SetDefault("cors.max_age", 43200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)
	v.SetDefault("storage.user_id", "user-1")

	v.SetDefault("metrics.path", "/metrics")
}

// Load 读取配置文件；configPath 为空时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// 配置文件优先，如果配置文件中没有设置，则使用环境变量
	if cfg.Primary.APIKey == "" {
		cfg.Primary.APIKey = firstEnv("DOUBAO_API_KEY", "ARK_API_KEY")
	}
	if cfg.Critic.APIKey == "" {
		cfg.Critic.APIKey = firstEnv("CRITIC_API_KEY")
	}
	if cfg.Critic.APIKey == "" {
		cfg.Critic.APIKey = cfg.Primary.APIKey
	}
	if cfg.Title.APIKey == "" {
		cfg.Title.APIKey = cfg.Primary.APIKey
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = firstEnv("TAVILY_API_KEY")
	}

	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}
