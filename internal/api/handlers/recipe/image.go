package recipe

import (
	"context"
	"net/http"

	"recipe-extractor/internal/api/handlers"
	"recipe-extractor/internal/core/image"
	"recipe-extractor/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const maxDeleteBatch = 50

// ImageService 縮圖保存
type ImageService interface {
	Persist(ctx context.Context, recipeID, imageURL string) (*image.Thumbnail, error)
	Remove(ctx context.Context, path string) error
}

// PersistRequest 保存食譜圖片
type PersistRequest struct {
	ImageURL string `json:"imageUrl" binding:"required"`
}

// DeleteRequest 批次刪除已保存的圖片
type DeleteRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

// Handler 食譜圖片路由
type Handler struct {
	images ImageService
	debug  bool
}

// NewHandler 創建新的食譜圖片處理程序
func NewHandler(images ImageService, debug bool) *Handler {
	return &Handler{images: images, debug: debug}
}

// PersistImage POST /api/v1/recipes/:id/image
func (h *Handler) PersistImage(c *gin.Context) {
	var req PersistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.BadRequest(c, err, h.debug)
		return
	}

	thumb, err := h.images.Persist(c.Request.Context(), c.Param("id"), req.ImageURL)
	if err != nil {
		handlers.Error(c, err, http.StatusBadGateway, h.debug)
		return
	}
	c.JSON(http.StatusCreated, thumb)
}

// DeleteImages DELETE /api/v1/recipes/images
func (h *Handler) DeleteImages(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.BadRequest(c, err, h.debug)
		return
	}
	if len(req.Paths) > maxDeleteBatch {
		handlers.Error(c, common.ErrInvalidRequest, 0, h.debug)
		return
	}

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(4)
	for _, p := range req.Paths {
		g.Go(func() error {
			return h.images.Remove(ctx, p)
		})
	}
	if err := g.Wait(); err != nil {
		handlers.Error(c, err, http.StatusBadGateway, h.debug)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(req.Paths)})
}
