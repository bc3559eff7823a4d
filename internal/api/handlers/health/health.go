package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"recipe-extractor/internal/core/queue"
	"recipe-extractor/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const probeTimeout = 2 * time.Second

// Probe 就緒檢查項目
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Runtime   map[string]interface{} `json:"runtime"`
	Queue     *queue.Status          `json:"queue,omitempty"`
}

// Handler 健康檢查
type Handler struct {
	version string
	started time.Time
	queue   func() *queue.Status
	probes  []Probe
}

// NewHandler queueStatus 可為 nil
func NewHandler(version string, queueStatus func() *queue.Status, probes ...Probe) *Handler {
	return &Handler{version: version, started: time.Now(), queue: queueStatus, probes: probes}
}

// HealthCheck 健康檢查處理器
func (h *Handler) HealthCheck(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
	}
	if h.queue != nil {
		resp.Queue = h.queue()
	}
	c.JSON(http.StatusOK, resp)
}

// ReadinessCheck 依序執行相依服務檢查，任一失敗回傳 503
func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.probes))
	ready := true
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			ready = false
			checks[p.Name] = err.Error()
			common.LogWarn("Readiness probe failed", zap.String("probe", p.Name), zap.Error(err))
			continue
		}
		checks[p.Name] = "ok"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

// LivenessCheck 存活檢查處理器
func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
