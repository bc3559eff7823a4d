package cache

import (
	"context"
	"strings"
	"time"

	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	evidencePrefix = "evidence:"
	resultPrefix   = "result:"
)

// ResultCache 以貼文網址為鍵快取 EvidenceBundle 與 ExtractionResult；
// 儲存層錯誤一律視為未命中
type ResultCache struct {
	store       Store
	evidenceTTL time.Duration
	resultTTL   time.Duration
}

// NewResultCache 建立快取；store 為 nil 時所有操作皆為未命中
func NewResultCache(store Store, evidenceTTL, resultTTL time.Duration) *ResultCache {
	return &ResultCache{store: store, evidenceTTL: evidenceTTL, resultTTL: resultTTL}
}

// EvidenceKey 證據快取鍵
func EvidenceKey(sourceURL string) string {
	return evidencePrefix + strings.TrimSpace(sourceURL)
}

// ResultKey 結果快取鍵
func ResultKey(sourceURL string) string {
	return resultPrefix + strings.TrimSpace(sourceURL)
}

// GetEvidence 讀取快取的證據
func (c *ResultCache) GetEvidence(ctx context.Context, sourceURL string) (*common.EvidenceBundle, error) {
	var b common.EvidenceBundle
	ok, err := c.get(ctx, "evidence", EvidenceKey(sourceURL), &b)
	if err != nil || !ok {
		return nil, err
	}
	return &b, nil
}

// PutEvidence 寫入證據
func (c *ResultCache) PutEvidence(ctx context.Context, b *common.EvidenceBundle) {
	if b == nil {
		return
	}
	c.put(ctx, EvidenceKey(b.SourceURL), b, c.evidenceTTL)
}

// GetResult 讀取快取的擷取結果
func (c *ResultCache) GetResult(ctx context.Context, sourceURL string) (*common.ExtractionResult, error) {
	var r common.ExtractionResult
	ok, err := c.get(ctx, "result", ResultKey(sourceURL), &r)
	if err != nil || !ok {
		return nil, err
	}
	r.CacheHit = true
	return &r, nil
}

// PutResult 只快取成功的結果
func (c *ResultCache) PutResult(ctx context.Context, sourceURL string, r *common.ExtractionResult) {
	if r == nil || !r.Success {
		return
	}
	c.put(ctx, ResultKey(sourceURL), r, c.resultTTL)
}

// Invalidate 刪除某網址的證據與結果
func (c *ResultCache) Invalidate(ctx context.Context, sourceURL string) {
	if c == nil || c.store == nil {
		return
	}
	for _, key := range []string{EvidenceKey(sourceURL), ResultKey(sourceURL)} {
		if err := c.store.Delete(ctx, key); err != nil {
			common.LogWarn("Cache delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (c *ResultCache) get(ctx context.Context, kind, key string, dst any) (bool, error) {
	if c == nil || c.store == nil {
		return false, nil
	}
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(kind, "error").Inc()
		common.LogWarn("Cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues(kind, "miss").Inc()
		common.LogCacheMiss(kind, key)
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.CacheLookups.WithLabelValues(kind, "corrupted").Inc()
		return false, ErrCorrupted.Wrap(err)
	}
	metrics.CacheLookups.WithLabelValues(kind, "hit").Inc()
	common.LogCacheHit(kind, key)
	return true, nil
}

func (c *ResultCache) put(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil || c.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		common.LogWarn("Cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		common.LogWarn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}
