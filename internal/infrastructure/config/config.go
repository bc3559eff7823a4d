package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App         AppConfig        `mapstructure:"app"`
	Server      ServerConfig     `mapstructure:"server"`
	Scraper     ScraperConfig    `mapstructure:"scraper"`
	OpenRouter  OpenRouterConfig `mapstructure:"openrouter"`
	Caption     CaptionConfig    `mapstructure:"caption"`
	Video       VideoConfig      `mapstructure:"video"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Usage       UsageConfig      `mapstructure:"usage"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Scoring     ScoringConfig    `mapstructure:"scoring"`
	Queue       QueueConfig      `mapstructure:"queue"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Image       ImageConfig      `mapstructure:"image"`
	DedupWindow time.Duration    `mapstructure:"dedup_window"`
	LogLevel    string           `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// ScraperConfig 爬取工作服務設定
type ScraperConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	PostActor      string        `mapstructure:"post_actor"`
	VideoActor     string        `mapstructure:"video_actor"`
	TikTokActor    string        `mapstructure:"tiktok_actor"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SubmitRate     float64       `mapstructure:"submit_rate"`
	SubmitBurst    int           `mapstructure:"submit_burst"`
}

// OpenRouterConfig 影片模型（主要與付費備援）設定
type OpenRouterConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	FallbackAPIKey   string        `mapstructure:"fallback_api_key"`
	FallbackModel    string        `mapstructure:"fallback_model"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerFailures  uint32        `mapstructure:"breaker_failures"`
	BreakerOpenDelay time.Duration `mapstructure:"breaker_open_delay"`
}

// CaptionConfig 說明文字模型設定
type CaptionConfig struct {
	Provider  string        `mapstructure:"provider"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MinLength int           `mapstructure:"min_length"`
}

// VideoConfig 影片處理設定
type VideoConfig struct {
	MaxBytes        int64         `mapstructure:"max_bytes"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	SynthTimeout    time.Duration `mapstructure:"synthesis_timeout"`
	DefaultLinkTTL  time.Duration `mapstructure:"default_link_ttl"`
	TempDir         string        `mapstructure:"temp_dir"`
}

// CacheConfig 緩存配置
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	MaxSize         int           `mapstructure:"max_size"`
	EvidenceTTL     time.Duration `mapstructure:"evidence_ttl"`
	ResultTTL       time.Duration `mapstructure:"result_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
}

// DatabaseConfig Postgres 設定
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// UsageConfig 每月額度設定
type UsageConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Driver       string `mapstructure:"driver"`
	MonthlyLimit int    `mapstructure:"monthly_limit"`
}

// StorageConfig 物件儲存設定
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Key     string `mapstructure:"key"`
	Bucket  string `mapstructure:"bucket"`
}

// ScoringConfig 信心分數權重
type ScoringConfig struct {
	Base            float64 `mapstructure:"base"`
	PerSource       float64 `mapstructure:"per_source"`
	RichIngredients float64 `mapstructure:"rich_ingredients"`
	RichSteps       float64 `mapstructure:"rich_steps"`
	PerConflict     float64 `mapstructure:"per_conflict"`
	UntitledPenalty float64 `mapstructure:"untitled_penalty"`
	PrimaryVideoCap float64 `mapstructure:"primary_video_cap"`
	FallbackFloor   float64 `mapstructure:"fallback_floor"`
	MinAccept       float64 `mapstructure:"min_accept"`
	PaidFallback    float64 `mapstructure:"paid_fallback"`
}

// QueueConfig 非同步擷取工作設定
type QueueConfig struct {
	Workers   int           `mapstructure:"workers"`
	MaxSize   int           `mapstructure:"max_size"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// ImageConfig 圖片配置
type ImageConfig struct {
	MaxSizeBytes   int64    `mapstructure:"max_size_bytes"`
	AllowedHosts   []string `mapstructure:"allowed_hosts"`
	PlaceholderURL string   `mapstructure:"placeholder_url"`
}

// LoadConfig 載入設定；.env 不存在時僅使用環境變數與預設值
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"scraper.token":               "SCRAPER_TOKEN",
		"scraper.base_url":            "SCRAPER_BASE_URL",
		"openrouter.api_key":          "OPENROUTER_API_KEY",
		"openrouter.model":            "OPENROUTER_MODEL",
		"openrouter.fallback_api_key": "OPENROUTER_FALLBACK_API_KEY",
		"openrouter.fallback_model":   "OPENROUTER_FALLBACK_MODEL",
		"openrouter.max_tokens":       "MODEL_MAX_TOKENS",
		"caption.provider":            "CAPTION_PROVIDER",
		"caption.api_key":             "CAPTION_API_KEY",
		"caption.model":               "CAPTION_MODEL",
		"cache.enabled":               "CACHE_ENABLED",
		"cache.driver":                "CACHE_DRIVER",
		"cache.redis_addr":            "REDIS_ADDR",
		"database.url":                "DATABASE_URL",
		"usage.monthly_limit":         "USAGE_MONTHLY_LIMIT",
		"storage.url":                 "SUPABASE_URL",
		"storage.key":                 "SUPABASE_KEY",
		"rate_limit.enabled":          "RATE_LIMIT_ENABLED",
		"rate_limit.requests":         "RATE_LIMIT_REQUESTS",
		"rate_limit.window":           "RATE_LIMIT_WINDOW",
		"dedup_window":                "DEDUP_WINDOW",
		"log_level":                   "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// MaskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// setDefaults 設定預設值
func setDefaults(v *viper.Viper) {
	// 應用程式設定
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", true)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.name", "recipe-extractor")
	v.SetDefault("log_level", "info")

	// 伺服器設定
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "180s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "170s")
	v.SetDefault("server.max_body_bytes", 10<<20)

	// 爬取服務
	v.SetDefault("scraper.base_url", "https://api.apify.com")
	v.SetDefault("scraper.post_actor", "apify~instagram-post-scraper")
	v.SetDefault("scraper.video_actor", "apify~instagram-reel-scraper")
	v.SetDefault("scraper.tiktok_actor", "clockworks~tiktok-scraper")
	v.SetDefault("scraper.poll_interval", "2s")
	v.SetDefault("scraper.max_attempts", 30)
	v.SetDefault("scraper.request_timeout", "15s")
	v.SetDefault("scraper.submit_rate", 2.0)
	v.SetDefault("scraper.submit_burst", 4)

	// 影片模型
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "google/gemini-2.5-flash:free")
	v.SetDefault("openrouter.fallback_model", "google/gemini-2.5-flash")
	v.SetDefault("openrouter.max_tokens", 4096)
	v.SetDefault("openrouter.timeout", "120s")
	v.SetDefault("openrouter.breaker_failures", 5)
	v.SetDefault("openrouter.breaker_open_delay", "60s")

	// 說明文字模型
	v.SetDefault("caption.provider", "openai")
	v.SetDefault("caption.model", "gpt-4o-mini")
	v.SetDefault("caption.max_tokens", 2048)
	v.SetDefault("caption.timeout", "45s")
	v.SetDefault("caption.min_length", 40)

	// 影片處理
	v.SetDefault("video.max_bytes", int64(1)<<30)
	v.SetDefault("video.download_timeout", "90s")
	v.SetDefault("video.synthesis_timeout", "150s")
	v.SetDefault("video.default_link_ttl", "6h")

	// 快取設定
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.evidence_ttl", "24h")
	v.SetDefault("cache.result_ttl", "168h")
	v.SetDefault("cache.cleanup_interval", "10m")
	v.SetDefault("cache.redis_addr", "localhost:6379")

	// 資料庫
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)

	// 使用額度
	v.SetDefault("usage.enabled", true)
	v.SetDefault("usage.driver", "memory")
	v.SetDefault("usage.monthly_limit", 30)

	// 物件儲存
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "recipe-images")

	// 信心分數
	v.SetDefault("scoring.base", 0.5)
	v.SetDefault("scoring.per_source", 0.2)
	v.SetDefault("scoring.rich_ingredients", 0.05)
	v.SetDefault("scoring.rich_steps", 0.05)
	v.SetDefault("scoring.per_conflict", 0.05)
	v.SetDefault("scoring.untitled_penalty", 0.1)
	v.SetDefault("scoring.primary_video_cap", 0.95)
	v.SetDefault("scoring.fallback_floor", 0.1)
	v.SetDefault("scoring.min_accept", 0.4)
	v.SetDefault("scoring.paid_fallback", 0.95)

	// 隊列設定
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_size", 100)
	v.SetDefault("queue.result_ttl", "1h")

	// 限流設定
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", "1m")

	// 圖片設定
	v.SetDefault("image.max_size_bytes", 10*1024*1024)
	v.SetDefault("image.allowed_hosts", []string{"cdninstagram.com", "fbcdn.net", "tiktokcdn.com", "tiktokcdn-us.com", "ytimg.com"})
	v.SetDefault("image.placeholder_url", "https://static.recipe-extractor.app/placeholder.jpg")

	v.SetDefault("dedup_window", "1s")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	if config.Scraper.PollInterval <= 0 || config.Scraper.MaxAttempts <= 0 {
		return fmt.Errorf("invalid scraper poll settings")
	}

	if config.Cache.Enabled {
		switch config.Cache.Driver {
		case "memory", "redis", "postgres":
		default:
			return fmt.Errorf("unknown cache driver %q", config.Cache.Driver)
		}
		if config.Cache.MaxSize <= 0 {
			return fmt.Errorf("invalid cache max size")
		}
		if config.Cache.EvidenceTTL <= 0 || config.Cache.ResultTTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
		if config.Cache.CleanupInterval <= 0 {
			return fmt.Errorf("invalid cache cleanup interval")
		}
		if config.Cache.Driver == "postgres" && config.Database.URL == "" {
			return fmt.Errorf("postgres cache requires database url")
		}
	}

	if config.Usage.Enabled && config.Usage.Driver == "postgres" && config.Database.URL == "" {
		return fmt.Errorf("postgres usage gate requires database url")
	}

	switch config.Caption.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown caption provider %q", config.Caption.Provider)
	}

	if config.Video.MaxBytes <= 0 {
		return fmt.Errorf("invalid video max bytes")
	}

	if config.Storage.Enabled && (config.Storage.URL == "" || config.Storage.Key == "") {
		return fmt.Errorf("storage requires url and key")
	}

	if config.Queue.Workers <= 0 {
		return fmt.Errorf("invalid queue workers")
	}
	if config.Queue.MaxSize <= 0 {
		return fmt.Errorf("invalid queue max size")
	}

	return nil
}
