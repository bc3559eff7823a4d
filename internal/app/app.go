package app

import (
	"context"

	"recipe-extractor/internal/api"
	"recipe-extractor/internal/api/handlers/health"
	"recipe-extractor/internal/core/ai/anthropic"
	"recipe-extractor/internal/core/ai/openaicompat"
	"recipe-extractor/internal/core/ai/openrouter"
	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/core/cache"
	"recipe-extractor/internal/core/evidence"
	"recipe-extractor/internal/core/extractor"
	"recipe-extractor/internal/core/image"
	"recipe-extractor/internal/core/pipeline"
	"recipe-extractor/internal/core/queue"
	"recipe-extractor/internal/core/recipe"
	"recipe-extractor/internal/core/usage"
	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/infrastructure/database"
	"recipe-extractor/internal/infrastructure/storage"
	"recipe-extractor/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// App 組裝完成的服務
type App struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Jobs     *queue.Manager
	Images   *image.Service

	pool   *pgxpool.Pool
	store  cache.Store
	probes []health.Probe
}

// New 依設定組裝所有元件；資料庫只在有設定 URL 時連線
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.Database.URL != "" {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.probes = append(a.probes, health.Probe{Name: "database", Check: pool.Ping})
	}

	var resultCache *cache.ResultCache
	if cfg.Cache.Enabled {
		store, err := cache.NewStore(cfg, a.dbPool())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		resultCache = cache.NewResultCache(store, cfg.Cache.EvidenceTTL, cfg.Cache.ResultTTL)
	}

	gate, err := a.usageGate()
	if err != nil {
		a.Close()
		return nil, err
	}

	validator := evidence.NewImageValidator(cfg.Image.AllowedHosts)
	fetcher := evidence.NewFetcher(evidence.NewApifyClient(cfg.Scraper), validator, cfg)

	primary := provider.Instrument(
		provider.NewBreaker(openrouter.NewPrimary(cfg.OpenRouter), provider.BreakerSettings{
			ConsecutiveFailures: cfg.OpenRouter.BreakerFailures,
			OpenTimeout:         cfg.OpenRouter.BreakerOpenDelay,
		}),
		cfg.OpenRouter.Model,
	)
	var fallback provider.Provider
	if cfg.OpenRouter.FallbackModel != "" {
		fallback = provider.Instrument(openrouter.NewFallback(cfg.OpenRouter), cfg.OpenRouter.FallbackModel)
	}

	captionModel, err := captionProvider(cfg.Caption)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Evidence: fetcher,
		Cache:    resultCache,
		Gate:     gate,
		Caption:  extractor.NewCaptionExtractor(captionModel, cfg.Caption.MinLength, cfg.Caption.MaxTokens),
		Video: extractor.NewVideoSynthesizer(primary, fallback, extractor.NewDownloader(cfg.Video), extractor.VideoOptions{
			MaxTokens:      cfg.OpenRouter.MaxTokens,
			Timeout:        cfg.Video.SynthTimeout,
			PaidConfidence: cfg.Scoring.PaidFallback,
		}),
		Images:      extractor.NewImageExtractor(primary, 0, cfg.OpenRouter.MaxTokens),
		Validator:   validator,
		Weights:     recipe.WeightsFromConfig(cfg.Scoring),
		Placeholder: cfg.Image.PlaceholderURL,
	})

	var objects storage.ObjectStore
	if cfg.Storage.Enabled {
		s, err := storage.NewSupabaseStore(cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		objects = s
	}
	a.Images = image.NewService(objects, cfg.Image.MaxSizeBytes, validator.Allowed)
	a.Jobs = queue.NewManager(cfg.Queue, a.Pipeline)

	common.LogInfo("Services initialized",
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.Bool("usage_enabled", cfg.Usage.Enabled),
		zap.String("caption_provider", captionModel.Name()),
		zap.String("video_model", cfg.OpenRouter.Model),
		zap.Bool("paid_fallback", fallback != nil),
		zap.Bool("storage_enabled", objects != nil),
		zap.String("openrouter_api_key", config.MaskAPIKey(cfg.OpenRouter.APIKey)),
	)
	return a, nil
}

// dbPool 未連線時回傳 nil 介面，避免把 nil 指標包進介面
func (a *App) dbPool() database.Pool {
	if a.pool == nil {
		return nil
	}
	return a.pool
}

func (a *App) usageGate() (usage.Gate, error) {
	cfg := a.Config.Usage
	if !cfg.Enabled {
		return usage.Unlimited{}, nil
	}
	switch cfg.Driver {
	case "", "memory":
		return usage.NewFailOpen(usage.NewMemoryGate(cfg.MonthlyLimit)), nil
	case "postgres":
		if a.pool == nil {
			return nil, eris.New("usage: postgres driver requires database.url")
		}
		return usage.NewFailOpen(usage.NewPostgresGate(a.pool, cfg.MonthlyLimit)), nil
	default:
		return nil, eris.Errorf("usage: unknown driver %q", cfg.Driver)
	}
}

func captionProvider(cfg config.CaptionConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		c := openaicompat.NewClient(cfg)
		return provider.Instrument(c, c.Model()), nil
	case "anthropic":
		c := anthropic.NewClient(cfg)
		return provider.Instrument(c, c.Model()), nil
	default:
		return nil, eris.Errorf("caption: unknown provider %q", cfg.Provider)
	}
}

// Router 建立 HTTP 路由
func (a *App) Router() *gin.Engine {
	return api.SetupRouter(a.Config, api.Services{
		Extractor: a.Pipeline,
		Jobs:      a.Jobs,
		Images:    a.Images,
		Probes:    a.probes,
	})
}

// Close 釋放連線與背景工作
func (a *App) Close() {
	if a.Jobs != nil {
		a.Jobs.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			common.LogWarn("Failed to close cache store", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
