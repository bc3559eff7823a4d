package provider

import (
	"context"
	"errors"
	"time"

	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings 斷路器設定
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// Breaker 以斷路器包裝 Provider；斷路時回傳限流錯誤讓呼叫端改用備援
type Breaker struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[*Response]
}

// NewBreaker 建立斷路器
func NewBreaker(next Provider, s BreakerSettings) *Breaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = time.Minute
	}
	name := next.Name()
	metrics.BreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			common.LogWarn("Provider circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		IsExcluded: func(err error) bool {
			// 呼叫端取消不計入
			return errors.Is(err, context.Canceled)
		},
	})
	return &Breaker{next: next, cb: cb}
}

// Name 實作 Provider
func (b *Breaker) Name() string { return b.next.Name() }

// State 目前斷路器狀態
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Generate 實作 Provider
func (b *Breaker) Generate(ctx context.Context, req *Request) (*Response, error) {
	resp, err := b.cb.Execute(func() (*Response, error) {
		return b.next.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Provider: b.next.Name(), Kind: KindRateLimited, Message: "circuit open", Err: err}
	}
	return resp, err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
