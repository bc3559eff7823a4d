package usage

import (
	"context"
	"time"

	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"

	"go.uber.org/zap"
)

// Decision 額度檢查結果；Remaining 為 -1 表示不限或未知，Unverified 表示額度服務無法確認
type Decision struct {
	Allowed    bool `json:"allowed"`
	Remaining  int  `json:"remaining"`
	Unverified bool `json:"unverified,omitempty"`
}

// Gate 每位使用者每月的擷取額度
type Gate interface {
	CheckAndReserve(ctx context.Context, userID string) (Decision, error)
	Release(ctx context.Context, userID string) error
}

// Period 月份鍵（UTC）
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// periodEnd 下個月第一天（UTC）
func periodEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Unlimited 不做任何限制
type Unlimited struct{}

// CheckAndReserve 永遠允許
func (Unlimited) CheckAndReserve(context.Context, string) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}

// Release 無動作
func (Unlimited) Release(context.Context, string) error { return nil }

// FailOpen 額度服務出錯時放行，只記錄錯誤
type FailOpen struct {
	next Gate
}

// NewFailOpen 包裝 Gate
func NewFailOpen(next Gate) *FailOpen {
	return &FailOpen{next: next}
}

// CheckAndReserve 錯誤時放行並標記 Unverified
func (f *FailOpen) CheckAndReserve(ctx context.Context, userID string) (Decision, error) {
	d, err := f.next.CheckAndReserve(ctx, userID)
	if err != nil {
		metrics.UsageDecisions.WithLabelValues("fail_open").Inc()
		common.LogWarn("Usage gate unavailable, allowing request",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return Decision{Allowed: true, Remaining: -1, Unverified: true}, nil
	}
	if d.Allowed {
		metrics.UsageDecisions.WithLabelValues("allowed").Inc()
	} else {
		metrics.UsageDecisions.WithLabelValues("denied").Inc()
	}
	return d, nil
}

// Release 退還失敗時只記錄
func (f *FailOpen) Release(ctx context.Context, userID string) error {
	if err := f.next.Release(ctx, userID); err != nil {
		common.LogWarn("Usage release failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}
