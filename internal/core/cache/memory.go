package cache

import (
	"context"
	"sync"
	"time"

	"recipe-extractor/internal/pkg/common"

	"go.uber.org/zap"
)

// MemoryStore 單機記憶體快取，容量滿時先清過期項目再依 LRU 淘汰
type MemoryStore struct {
	mu      sync.Mutex
	maxSize int
	store   map[string]memoryEntry
	stats   memoryStats
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	value       []byte
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount int
}

type memoryStats struct {
	hits      int64
	misses    int64
	evictions int64
}

// NewMemoryStore 建立記憶體快取；cleanupInterval > 0 時啟動背景清理
func NewMemoryStore(maxSize int, cleanupInterval time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	m := &MemoryStore{
		maxSize: maxSize,
		store:   make(map[string]memoryEntry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.startCleanup(cleanupInterval)
	}
	common.LogInfo("記憶體快取已初始化",
		zap.Int("最大容量", maxSize),
		zap.Duration("清理間隔", cleanupInterval),
	)
	return m
}

// Get 讀取快取，過期項目直接刪除
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.store[key]
	if !ok {
		m.stats.misses++
		return nil, false, nil
	}
	now := m.now()
	if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		delete(m.store, key)
		m.stats.evictions++
		m.stats.misses++
		return nil, false, nil
	}

	entry.lastAccess = now
	entry.accessCount++
	m.store[key] = entry
	m.stats.hits++
	return entry.value, true, nil
}

// Set 寫入快取；ttl <= 0 表示不過期
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.store[key]; !exists && len(m.store) >= m.maxSize {
		m.cleanup()
		for len(m.store) >= m.maxSize {
			m.evictLRU()
		}
	}

	now := m.now()
	entry := memoryEntry{
		value:      append([]byte(nil), value...),
		lastAccess: now,
	}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	m.store[key] = entry
	return nil
}

// Delete 刪除快取
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

// Len 目前項目數
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

// Stats 快取統計
func (m *MemoryStore) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ratio := 0.0
	if total := m.stats.hits + m.stats.misses; total > 0 {
		ratio = float64(m.stats.hits) / float64(total)
	}
	return map[string]interface{}{
		"size":      len(m.store),
		"max_size":  m.maxSize,
		"hits":      m.stats.hits,
		"misses":    m.stats.misses,
		"evictions": m.stats.evictions,
		"hit_ratio": ratio,
	}
}

// Close 停止背景清理並清空快取
func (m *MemoryStore) Close() error {
	m.once.Do(func() { close(m.done) })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = make(map[string]memoryEntry)
	common.LogInfo("記憶體快取已關閉",
		zap.Int64("命中次數", m.stats.hits),
		zap.Int64("未命中次數", m.stats.misses),
		zap.Int64("淘汰次數", m.stats.evictions),
	)
	return nil
}

func (m *MemoryStore) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.Lock()
			n := m.cleanup()
			m.mu.Unlock()
			if n > 0 {
				common.LogDebug("Cleaned up expired cache entries", zap.Int("count", n))
			}
		}
	}
}

// cleanup 清除過期項目，呼叫端需持有鎖
func (m *MemoryStore) cleanup() int {
	now := m.now()
	count := 0
	for key, entry := range m.store {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(m.store, key)
			count++
		}
	}
	m.stats.evictions += int64(count)
	return count
}

// evictLRU 淘汰存取次數最少、最久未使用的項目，呼叫端需持有鎖
func (m *MemoryStore) evictLRU() {
	var oldestKey string
	var oldestAccess time.Time
	lowestCount := 0

	for key, entry := range m.store {
		if oldestKey == "" ||
			entry.accessCount < lowestCount ||
			(entry.accessCount == lowestCount && entry.lastAccess.Before(oldestAccess)) {
			oldestKey = key
			oldestAccess = entry.lastAccess
			lowestCount = entry.accessCount
		}
	}
	if oldestKey != "" {
		delete(m.store, oldestKey)
		m.stats.evictions++
		common.LogDebug("快取已淘汰(LRU)", zap.String("鍵", oldestKey))
	}
}
