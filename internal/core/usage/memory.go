package usage

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryGate 單機額度計數，計數在月底自動過期
type MemoryGate struct {
	mu     sync.Mutex
	counts *gocache.Cache
	limit  int
	now    func() time.Time
}

// NewMemoryGate limit <= 0 表示不限
func NewMemoryGate(limit int) *MemoryGate {
	return &MemoryGate{
		counts: gocache.New(gocache.NoExpiration, time.Hour),
		limit:  limit,
		now:    time.Now,
	}
}

func (g *MemoryGate) key(userID string, now time.Time) string {
	return userID + ":" + Period(now)
}

// CheckAndReserve 檢查並預扣一次額度
func (g *MemoryGate) CheckAndReserve(_ context.Context, userID string) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	key := g.key(userID, now)
	used := 0
	if v, ok := g.counts.Get(key); ok {
		used = v.(int)
	}
	if g.limit > 0 && used >= g.limit {
		return Decision{Allowed: false, Remaining: 0}, nil
	}

	used++
	g.counts.Set(key, used, periodEnd(now).Sub(now))
	if g.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	return Decision{Allowed: true, Remaining: g.limit - used}, nil
}

// Release 退還一次額度
func (g *MemoryGate) Release(_ context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	key := g.key(userID, now)
	if v, ok := g.counts.Get(key); ok && v.(int) > 0 {
		g.counts.Set(key, v.(int)-1, periodEnd(now).Sub(now))
	}
	return nil
}

// Used 本月已使用次數
func (g *MemoryGate) Used(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.counts.Get(g.key(userID, g.now())); ok {
		return v.(int)
	}
	return 0
}
