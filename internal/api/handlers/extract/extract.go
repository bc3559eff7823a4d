package extract

import (
	"context"
	"net/http"
	"strings"

	"recipe-extractor/internal/api/handlers"
	"recipe-extractor/internal/core/queue"
	"recipe-extractor/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserHeader 呼叫端帶入使用者 ID 的標頭
const UserHeader = "X-User-ID"

// Extractor 擷取管線
type Extractor interface {
	Extract(ctx context.Context, sourceURL, userID string) (*common.ExtractionResult, error)
	ExtractFromEvidence(ctx context.Context, b *common.EvidenceBundle) (*common.ExtractionResult, error)
}

// JobQueue 非同步工作佇列
type JobQueue interface {
	Enqueue(sourceURL, userID string) (*queue.Job, error)
	Get(id string) (*queue.Job, bool)
}

// Request 擷取請求
type Request struct {
	URL    string `json:"url" binding:"required"`
	UserID string `json:"userId,omitempty"`
}

// Handler 擷取相關路由
type Handler struct {
	extractor Extractor
	jobs      JobQueue
	debug     bool
}

// NewHandler jobs 為 nil 時非同步路由回傳 503
func NewHandler(extractor Extractor, jobs JobQueue, debug bool) *Handler {
	return &Handler{extractor: extractor, jobs: jobs, debug: debug}
}

func (r *Request) user(c *gin.Context) string {
	if id := strings.TrimSpace(r.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader(UserHeader))
}

// Extract POST /api/v1/extract
func (h *Handler) Extract(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.BadRequest(c, err, h.debug)
		return
	}

	common.LogInfo("開始處理擷取請求",
		zap.String("url", req.URL),
		zap.String("request_id", requestid.Get(c)),
	)

	res, err := h.extractor.Extract(c.Request.Context(), req.URL, req.user(c))
	if err != nil {
		handlers.Error(c, err, http.StatusInternalServerError, h.debug)
		return
	}
	handlers.Result(c, res)
}

// FromEvidence POST /api/v1/extract/evidence
func (h *Handler) FromEvidence(c *gin.Context) {
	var bundle common.EvidenceBundle
	if err := c.ShouldBindJSON(&bundle); err != nil {
		handlers.BadRequest(c, err, h.debug)
		return
	}

	res, err := h.extractor.ExtractFromEvidence(c.Request.Context(), &bundle)
	if err != nil {
		handlers.Error(c, err, http.StatusInternalServerError, h.debug)
		return
	}
	handlers.Result(c, res)
}

// SubmitJob POST /api/v1/extract/jobs
func (h *Handler) SubmitJob(c *gin.Context) {
	if h.jobs == nil {
		handlers.Error(c, common.ErrServiceUnavailable, 0, h.debug)
		return
	}
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.BadRequest(c, err, h.debug)
		return
	}

	job, err := h.jobs.Enqueue(strings.TrimSpace(req.URL), req.user(c))
	if err != nil {
		handlers.Error(c, err, http.StatusServiceUnavailable, h.debug)
		return
	}
	c.Header("Location", "/api/v1/extract/jobs/"+job.ID)
	c.JSON(http.StatusAccepted, job)
}

// GetJob GET /api/v1/extract/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	if h.jobs == nil {
		handlers.Error(c, common.ErrServiceUnavailable, 0, h.debug)
		return
	}
	job, ok := h.jobs.Get(c.Param("id"))
	if !ok {
		handlers.Error(c, common.ErrNotFound, 0, h.debug)
		return
	}
	c.JSON(http.StatusOK, job)
}
