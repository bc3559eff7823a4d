package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"recipe-extractor/internal/pkg/common"
)

// Deduplication 在 window 內拒絕相同路徑與內容的重複 POST
func Deduplication(window time.Duration) gin.HandlerFunc {
	if window <= 0 {
		window = time.Second
	}
	seen := gocache.New(window, 10*window)

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		fingerprint := c.Request.Method + ":" + c.Request.URL.Path + ":" + c.ClientIP()
		if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				common.LogWarn("Failed to read request body", zap.Error(err))
				c.Next()
				return
			}
			hash := sha256.Sum256(body)
			fingerprint += ":" + hex.EncodeToString(hash[:])
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		// Add 在鍵已存在時回傳錯誤
		if err := seen.Add(fingerprint, struct{}{}, gocache.DefaultExpiration); err != nil {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				common.ErrTooManyRequests.ToResponse(false))
			return
		}

		c.Next()
	}
}
