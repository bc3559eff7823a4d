package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// ErrClosed 佇列已關閉
var ErrClosed = errors.New("queue manager is closed")

// JobState 工作狀態
type JobState string

const (
	StatePending JobState = "pending"
	StateRunning JobState = "running"
	StateDone    JobState = "done"
	StateFailed  JobState = "failed"
)

// Job 非同步擷取工作；結果在 ResultTTL 後過期
type Job struct {
	ID         string                   `json:"id"`
	URL        string                   `json:"url"`
	UserID     string                   `json:"userId,omitempty"`
	State      JobState                 `json:"state"`
	Result     *common.ExtractionResult `json:"result,omitempty"`
	Error      string                   `json:"error,omitempty"`
	CreatedAt  time.Time                `json:"createdAt"`
	FinishedAt *time.Time               `json:"finishedAt,omitempty"`
}

// Extractor 執行單次擷取
type Extractor interface {
	Extract(ctx context.Context, sourceURL, userID string) (*common.ExtractionResult, error)
}

// Status 佇列狀態
type Status struct {
	QueueLength    int `json:"queue_length"`
	ProcessedCount int `json:"processed_count"`
	MaxQueueSize   int `json:"max_queue_size"`
	Workers        int `json:"workers"`
}

// Manager 有上限的工作佇列與固定數量的 worker
type Manager struct {
	cfg       config.QueueConfig
	extractor Extractor
	queue     chan string
	jobs      *gocache.Cache
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	processed int64
}

// NewManager 創建新的隊列管理器
func NewManager(cfg config.QueueConfig, extractor Extractor) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	return &Manager{
		cfg:       cfg,
		extractor: extractor,
		queue:     make(chan string, cfg.MaxSize),
		jobs:      gocache.New(cfg.ResultTTL, cfg.ResultTTL/2),
		done:      make(chan struct{}),
	}
}

// Start 啟動 worker；ctx 結束或 Close 後停止
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	common.LogInfo("Job workers started", zap.Int("workers", m.cfg.Workers), zap.Int("max_queue_size", m.cfg.MaxSize))
}

// Enqueue 建立工作並放入佇列；佇列已滿時回傳 ErrQueueFull
func (m *Manager) Enqueue(sourceURL, userID string) (*Job, error) {
	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}

	job := Job{
		ID:        common.GenerateUUID(),
		URL:       sourceURL,
		UserID:    userID,
		State:     StatePending,
		CreatedAt: time.Now(),
	}
	m.jobs.SetDefault(job.ID, job)

	select {
	case m.queue <- job.ID:
		metrics.QueueDepth.Set(float64(len(m.queue)))
		common.LogInfo("Job enqueued",
			zap.String("job_id", job.ID),
			zap.Int("queue_length", len(m.queue)),
		)
		return &job, nil
	default:
		m.jobs.Delete(job.ID)
		return nil, common.ErrQueueFull
	}
}

// Get 查詢工作；過期或不存在時回傳 false
func (m *Manager) Get(id string) (*Job, bool) {
	v, ok := m.jobs.Get(id)
	if !ok {
		return nil, false
	}
	job := v.(Job)
	return &job, true
}

// GetQueueStatus 獲取隊列狀態
func (m *Manager) GetQueueStatus() *Status {
	return &Status{
		QueueLength:    len(m.queue),
		ProcessedCount: int(atomic.LoadInt64(&m.processed)),
		MaxQueueSize:   m.cfg.MaxSize,
		Workers:        m.cfg.Workers,
	}
}

// Close 停止接受新工作並等待 worker 結束；尚未執行的工作標記為失敗
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		for {
			select {
			case id := <-m.queue:
				m.finish(id, nil, ErrClosed)
			default:
				metrics.QueueDepth.Set(0)
				return
			}
		}
	})
}

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case id := <-m.queue:
			metrics.QueueDepth.Set(float64(len(m.queue)))
			m.process(ctx, n, id)
		}
	}
}

func (m *Manager) process(ctx context.Context, worker int, id string) {
	v, ok := m.jobs.Get(id)
	if !ok {
		return
	}
	job := v.(Job)
	job.State = StateRunning
	m.jobs.SetDefault(id, job)

	start := time.Now()
	res, err := m.extractor.Extract(ctx, job.URL, job.UserID)
	m.finish(id, res, err)
	atomic.AddInt64(&m.processed, 1)

	common.LogDebug("Job finished",
		zap.String("job_id", id),
		zap.Int("worker", worker),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
}

func (m *Manager) finish(id string, res *common.ExtractionResult, err error) {
	v, ok := m.jobs.Get(id)
	if !ok {
		return
	}
	job := v.(Job)
	now := time.Now()
	job.FinishedAt = &now
	job.Result = res
	if err != nil {
		job.State = StateFailed
		job.Error = err.Error()
	} else {
		job.State = StateDone
	}
	m.jobs.SetDefault(id, job)
}
