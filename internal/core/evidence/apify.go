package evidence

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 爬取工作狀態
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
)

// JobStatus 爬取工作狀態
type JobStatus struct {
	Status         string
	ResultLocation string
}

// ScrapeClient 外部爬取工作服務
type ScrapeClient interface {
	SubmitJob(ctx context.Context, url string, ct ContentType) (string, error)
	GetStatus(ctx context.Context, jobID string) (*JobStatus, error)
	GetResult(ctx context.Context, location string) (map[string]any, error)
}

// ApifyClient 以 actor run API 實作 ScrapeClient
type ApifyClient struct {
	client      *resty.Client
	postActor   string
	videoActor  string
	tiktokActor string
	limiter     *rate.Limiter
}

type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

// NewApifyClient 建立爬取客戶端
func NewApifyClient(cfg config.ScraperConfig) *ApifyClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.Token).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}
	burst := cfg.SubmitBurst
	if burst <= 0 {
		burst = 1
	}

	return &ApifyClient{
		client:      client,
		postActor:   cfg.PostActor,
		videoActor:  cfg.VideoActor,
		tiktokActor: cfg.TikTokActor,
		limiter:     rate.NewLimiter(limit, burst),
	}
}

func (c *ApifyClient) actorFor(url string, ct ContentType) string {
	if Platform(url) == "tiktok" && c.tiktokActor != "" {
		return c.tiktokActor
	}
	if ct == ContentVideo && c.videoActor != "" {
		return c.videoActor
	}
	return c.postActor
}

// SubmitJob 提交爬取工作並回傳 run id
func (c *ApifyClient) SubmitJob(ctx context.Context, url string, ct ContentType) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fetchErr(KindNetwork, eris.Wrap(err, "scraper: wait for submit slot"))
	}

	actor := c.actorFor(url, ct)
	input := map[string]any{
		"directUrls":   []string{url},
		"postURLs":     []string{url},
		"resultsLimit": 1,
	}

	var env runEnvelope
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("actor", actor).
		SetBody(input).
		SetResult(&env).
		Post("/v2/acts/{actor}/runs")
	if err != nil {
		return "", fetchErr(KindNetwork, eris.Wrapf(err, "scraper: submit %s", actor))
	}
	if err := statusError(resp); err != nil {
		return "", err
	}
	if env.Data.ID == "" {
		return "", fetchErr(KindJobFailed, eris.New("scraper: submit returned no run id"))
	}

	common.LogDebug("Scrape job submitted",
		zap.String("actor", actor),
		zap.String("job_id", env.Data.ID),
		zap.String("content_type", string(ct)),
	)
	return env.Data.ID, nil
}

// GetStatus 查詢工作狀態
func (c *ApifyClient) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var env runEnvelope
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		SetResult(&env).
		Get("/v2/actor-runs/{id}")
	if err != nil {
		return nil, fetchErr(KindNetwork, eris.Wrapf(err, "scraper: status %s", jobID))
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	return &JobStatus{Status: env.Data.Status, ResultLocation: env.Data.DefaultDatasetID}, nil
}

// GetResult 取得資料集第一筆紀錄
func (c *ApifyClient) GetResult(ctx context.Context, location string) (map[string]any, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("dataset", location).
		SetQueryParam("limit", "1").
		SetQueryParam("clean", "true").
		Get("/v2/datasets/{dataset}/items")
	if err != nil {
		return nil, fetchErr(KindNetwork, eris.Wrapf(err, "scraper: dataset %s", location))
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}

	var items []map[string]any
	if err := json.Unmarshal(resp.Body(), &items); err != nil {
		return nil, fetchErr(KindJobFailed, eris.Wrap(err, "scraper: decode dataset items"))
	}
	if len(items) == 0 {
		return nil, fetchErr(KindJobFailed, eris.Errorf("scraper: dataset %s is empty", location))
	}
	return items[0], nil
}

func statusError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("scraper: HTTP %d: %s", code, common.Truncate(resp.String(), 200))
	switch {
	case code == http.StatusTooManyRequests || code == http.StatusPaymentRequired:
		return fetchErr(KindRateLimited, err)
	case code >= 500:
		return fetchErr(KindNetwork, err)
	default:
		return fetchErr(KindJobFailed, err)
	}
}
