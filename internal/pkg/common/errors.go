package common

import (
	"errors"
	"net/http"
)

// ErrorResponse 定義 API 錯誤響應結構
type ErrorResponse struct {
	Code    string `json:"code"`              // 錯誤代碼
	Message string `json:"message"`           // 錯誤信息
	Details string `json:"details,omitempty"` // 詳細信息（僅在開發模式顯示）
}

// CustomError 定義自定義錯誤類型
type CustomError struct {
	Code    string // 錯誤代碼
	Message string // 錯誤信息
	Err     error  // 原始錯誤
	Status  int    // HTTP 狀態碼
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 回傳原始錯誤
func (e *CustomError) Unwrap() error {
	return e.Err
}

// Is 以錯誤代碼比對，讓包裝後的預定義錯誤仍可用 errors.Is 判斷
func (e *CustomError) Is(target error) bool {
	var t *CustomError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError 創建新的自定義錯誤
func NewError(code string, message string, status int, err error) *CustomError {
	return &CustomError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Wrap 以預定義錯誤包裝底層錯誤
func (e *CustomError) Wrap(err error) *CustomError {
	return NewError(e.Code, e.Message, e.Status, err)
}

// ToResponse 轉為 API 錯誤響應
func (e *CustomError) ToResponse(debug bool) ErrorResponse {
	resp := ErrorResponse{Code: e.Code, Message: e.Message}
	if debug && e.Err != nil {
		resp.Details = e.Err.Error()
	}
	return resp
}

// 預定義錯誤代碼
const (
	// 客戶端錯誤 (4xx)
	ErrCodeInvalidRequest  = "INVALID_REQUEST"   // 400
	ErrCodeNotFound        = "NOT_FOUND"         // 404
	ErrCodeRequestTimeout  = "REQUEST_TIMEOUT"   // 408
	ErrCodeTooManyRequests = "TOO_MANY_REQUESTS" // 429

	// 服務器錯誤 (5xx)
	ErrCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"     // 504
)

// FailureReason 擷取失敗的固定原因
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonEvidenceUnavailable FailureReason = "EVIDENCE_UNAVAILABLE"
	ReasonQuotaExceeded       FailureReason = "QUOTA_EXCEEDED"
	ReasonNoRecipeFound       FailureReason = "NO_RECIPE_FOUND"
	ReasonModelProviderError  FailureReason = "MODEL_PROVIDER_ERROR"
)

// HTTPStatus 失敗原因對應的 HTTP 狀態碼
func (r FailureReason) HTTPStatus() int {
	switch r {
	case ReasonEvidenceUnavailable:
		return http.StatusBadGateway
	case ReasonQuotaExceeded:
		return http.StatusPaymentRequired
	case ReasonNoRecipeFound:
		return http.StatusUnprocessableEntity
	case ReasonModelProviderError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// 預定義錯誤
var (
	// 客戶端錯誤
	ErrInvalidRequest  = NewError(ErrCodeInvalidRequest, "無效的請求", http.StatusBadRequest, nil)
	ErrNotFound        = NewError(ErrCodeNotFound, "資源不存在", http.StatusNotFound, nil)
	ErrRequestTimeout  = NewError(ErrCodeRequestTimeout, "請求超時", http.StatusRequestTimeout, nil)
	ErrTooManyRequests = NewError(ErrCodeTooManyRequests, "請求過於頻繁", http.StatusTooManyRequests, nil)
	ErrInvalidURL      = NewError("INVALID_URL", "無效的貼文網址", http.StatusBadRequest, nil)

	// 服務器錯誤
	ErrInternalError      = NewError(ErrCodeInternalError, "服務器內部錯誤", http.StatusInternalServerError, nil)
	ErrServiceUnavailable = NewError(ErrCodeServiceUnavailable, "服務暫時不可用", http.StatusServiceUnavailable, nil)
	ErrGatewayTimeout     = NewError(ErrCodeGatewayTimeout, "網關超時", http.StatusGatewayTimeout, nil)

	// 業務錯誤
	ErrInvalidImageFormat = NewError("INVALID_IMAGE_FORMAT", "無效的圖片格式", http.StatusBadRequest, nil)
	ErrInvalidImageSize   = NewError("INVALID_IMAGE_SIZE", "圖片大小超出限制", http.StatusBadRequest, nil)
	ErrCacheCorrupted     = NewError("CACHE_CORRUPTED", "快取資料損毀", http.StatusInternalServerError, nil)
	ErrQueueFull          = NewError("QUEUE_FULL", "工作佇列已滿", http.StatusServiceUnavailable, nil)
	ErrStorageDisabled    = NewError("STORAGE_DISABLED", "物件儲存未啟用", http.StatusServiceUnavailable, nil)
)
