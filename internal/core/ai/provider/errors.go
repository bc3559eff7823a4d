package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind 模型呼叫失敗類型
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindBadResponse ErrorKind = "bad_response"
	KindUnavailable ErrorKind = "unavailable"
)

// Error 模型提供者錯誤
type Error struct {
	Provider   string
	StatusCode int
	Kind       ErrorKind
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 建立提供者錯誤
func NewError(provider string, kind ErrorKind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// FromStatus 依 HTTP 狀態碼分類；配額不足 (402) 與 429 皆視為限流
func FromStatus(provider string, status int, message string) *Error {
	kind := KindBadResponse
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= 500:
		kind = KindUnavailable
	}
	return &Error{Provider: provider, StatusCode: status, Kind: kind, Message: message}
}

// FromTransport 分類傳輸層錯誤
func FromTransport(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(provider, KindTimeout, err)
	}
	return NewError(provider, KindUnavailable, err)
}

// KindOf 取得錯誤類型，非 *Error 時回傳空字串
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRateLimited 是否為限流或配額錯誤
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}
