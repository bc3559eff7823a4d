package provider

import (
	"context"
	"time"

	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"
)

// Instrumented 記錄每次呼叫的耗時與結果
type Instrumented struct {
	next  Provider
	model string
}

// Instrument 包裝 Provider 加上日誌與指標
func Instrument(next Provider, model string) *Instrumented {
	return &Instrumented{next: next, model: model}
}

// Name 實作 Provider
func (i *Instrumented) Name() string { return i.next.Name() }

// Generate 實作 Provider
func (i *Instrumented) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := i.next.Generate(ctx, req)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.RecordProviderCall(i.next.Name(), outcome, elapsed)
	common.LogAICall(i.next.Name(), i.model, elapsed, err)

	if resp != nil && resp.Duration == 0 {
		resp.Duration = elapsed
	}
	return resp, err
}
