package handlers

import (
	"errors"
	"net/http"

	"recipe-extractor/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error 將錯誤轉為固定格式的 JSON 回應；未知錯誤使用 fallback 狀態碼
func Error(c *gin.Context, err error, fallback int, debug bool) {
	var ce *common.CustomError
	if !errors.As(err, &ce) {
		if fallback == 0 {
			fallback = http.StatusInternalServerError
		}
		ce = common.NewError(common.ErrCodeInternalError, http.StatusText(fallback), fallback, err)
		if fallback == http.StatusBadGateway {
			ce.Code = "UPSTREAM_ERROR"
		}
	}

	fields := []zap.Field{
		zap.String("code", ce.Code),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", requestid.Get(c)),
		zap.Error(err),
	}
	if ce.Status >= http.StatusInternalServerError {
		common.LogError("Request failed", fields...)
	} else {
		common.LogDebug("Request rejected", fields...)
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(ce.Status, ce.ToResponse(debug))
}

// BadRequest 請求格式錯誤
func BadRequest(c *gin.Context, err error, debug bool) {
	Error(c, common.ErrInvalidRequest.Wrap(err), 0, debug)
}

// Result 輸出擷取結果；失敗時使用原因對應的狀態碼，內容仍是完整結果
func Result(c *gin.Context, res *common.ExtractionResult) {
	status := http.StatusOK
	if !res.Success {
		status = res.Reason.HTTPStatus()
	}
	c.JSON(status, res)
}
