package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"recipe-extractor/internal/api/handlers/extract"
	"recipe-extractor/internal/api/handlers/health"
	"recipe-extractor/internal/api/handlers/recipe"
	"recipe-extractor/internal/api/middleware"
	"recipe-extractor/internal/core/queue"
	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultMaxBodySize = 10 << 20

// Services 路由使用的服務；Jobs、Images 可為 nil
type Services struct {
	Extractor extract.Extractor
	Jobs      *queue.Manager
	Images    recipe.ImageService
	Probes    []health.Probe
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(requestid.New())
	router.Use(middleware.Logger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", extract.UserHeader},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "Location"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	maxBody := cfg.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}
	router.Use(middleware.BodySizeLimit(maxBody))

	var jobs extract.JobQueue
	var queueStatus func() *queue.Status
	if svc.Jobs != nil {
		jobs = svc.Jobs
		queueStatus = svc.Jobs.GetQueueStatus
	}

	healthHandler := health.NewHandler(cfg.App.Version, queueStatus, svc.Probes...)
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(requestTimeout(cfg.Server.RequestTimeout))
	if cfg.RateLimit.Enabled {
		v1.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	v1.Use(middleware.Deduplication(cfg.DedupWindow))

	extractHandler := extract.NewHandler(svc.Extractor, jobs, cfg.App.Debug)
	extractGroup := v1.Group("/extract")
	{
		extractGroup.POST("", extractHandler.Extract)
		extractGroup.POST("/evidence", extractHandler.FromEvidence)
		extractGroup.POST("/jobs", extractHandler.SubmitJob)
		extractGroup.GET("/jobs/:id", extractHandler.GetJob)
	}

	if svc.Images != nil {
		recipeHandler := recipe.NewHandler(svc.Images, cfg.App.Debug)
		recipes := v1.Group("/recipes")
		{
			recipes.POST("/:id/image", recipeHandler.PersistImage)
			recipes.DELETE("/images", recipeHandler.DeleteImages)
		}
	}

	common.LogInfo("Router setup completed",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.Bool("jobs_enabled", svc.Jobs != nil),
		zap.Bool("images_enabled", svc.Images != nil),
		zap.Int64("max_body_size", maxBody),
	)
	return router
}

// requestTimeout 為請求加上期限，處理器未回應且已逾時則回傳 504
func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			common.LogError("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", requestid.Get(c)),
				zap.Duration("timeout", timeout),
			)
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, common.ErrGatewayTimeout.ToResponse(false))
		}
	}
}
