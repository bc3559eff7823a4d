package evidence

import (
	"context"
	"strings"
	"time"

	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"

	"go.uber.org/zap"
)

// Fetcher 提交爬取工作、等待完成並轉為 EvidenceBundle
type Fetcher struct {
	client       ScrapeClient
	registry     *Registry
	images       *ImageValidator
	pollInterval time.Duration
	maxAttempts  int
	linkTTL      time.Duration
	now          func() time.Time
}

// FetcherOption 設定 Fetcher
type FetcherOption func(*Fetcher)

// WithPolling 覆寫輪詢間隔與次數
func WithPolling(interval time.Duration, maxAttempts int) FetcherOption {
	return func(f *Fetcher) {
		f.pollInterval = interval
		f.maxAttempts = maxAttempts
	}
}

// WithClock 覆寫時間來源
func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) {
		f.now = now
	}
}

// WithRegistry 覆寫紀錄 adapter
func WithRegistry(r *Registry) FetcherOption {
	return func(f *Fetcher) {
		f.registry = r
	}
}

// NewFetcher 建立 Fetcher
func NewFetcher(client ScrapeClient, images *ImageValidator, cfg *config.Config, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:       client,
		registry:     DefaultRegistry(),
		images:       images,
		pollInterval: cfg.Scraper.PollInterval,
		maxAttempts:  cfg.Scraper.MaxAttempts,
		linkTTL:      cfg.Video.DefaultLinkTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.pollInterval <= 0 {
		f.pollInterval = 2 * time.Second
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = 30
	}
	return f
}

// Fetch 擷取貼文證據；影片網址若沒有取得說明文字，會以貼文 actor 重試一次並合併
func (f *Fetcher) Fetch(ctx context.Context, sourceURL, userID string) (*common.EvidenceBundle, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	ct := DetectContentType(sourceURL)

	post, err := f.run(ctx, sourceURL, ct)
	if err != nil {
		common.LogWarn("Evidence fetch failed",
			zap.String("url", sourceURL),
			zap.String("user_id", userID),
			zap.String("content_type", string(ct)),
			zap.Error(err),
		)
		return nil, err
	}

	if ct == ContentVideo && post.Caption == "" {
		common.LogInfo("Video actor returned no caption, retrying with post actor", zap.String("url", sourceURL))
		alt, altErr := f.run(ctx, sourceURL, ContentPost)
		if altErr != nil {
			common.LogWarn("Post actor fallback failed", zap.String("url", sourceURL), zap.Error(altErr))
		} else {
			post = mergePosts(post, alt)
		}
	}

	return f.bundle(sourceURL, post), nil
}

func (f *Fetcher) run(ctx context.Context, sourceURL string, ct ContentType) (*Post, error) {
	jobID, err := f.client.SubmitJob(ctx, sourceURL, ct)
	if err != nil {
		metrics.ScrapeJobs.WithLabelValues(string(ct), outcome(err)).Inc()
		return nil, err
	}

	status, err := waitForJob(ctx, f.client, jobID, f.pollInterval, f.maxAttempts)
	if err != nil {
		metrics.ScrapeJobs.WithLabelValues(string(ct), outcome(err)).Inc()
		return nil, err
	}

	record, err := f.client.GetResult(ctx, status.ResultLocation)
	if err != nil {
		metrics.ScrapeJobs.WithLabelValues(string(ct), outcome(err)).Inc()
		return nil, err
	}
	metrics.ScrapeJobs.WithLabelValues(string(ct), "ok").Inc()

	adapter := f.registry.For(record)
	common.LogDebug("Scrape record normalized",
		zap.String("adapter", adapter.Name()),
		zap.String("job_id", jobID),
	)
	return adapter.Normalize(record), nil
}

func outcome(err error) string {
	for _, k := range []ErrorKind{KindRateLimited, KindJobFailed, KindJobTimedOut, KindNetwork} {
		if IsKind(err, k) {
			return string(k)
		}
	}
	return "error"
}

// mergePosts 保留有說明文字的一方，圖片取第一個有圖片的結果
func mergePosts(primary, alt *Post) *Post {
	merged := *primary
	if merged.Caption == "" && alt.Caption != "" {
		merged.Caption = alt.Caption
		merged.Comments = alt.Comments
	}
	if len(merged.Images) == 0 && len(alt.Images) > 0 {
		merged.Images = alt.Images
	}
	if merged.VideoURL == "" {
		merged.VideoURL = alt.VideoURL
		merged.VideoDuration = alt.VideoDuration
	}
	if merged.Author.Handle == "" {
		merged.Author = alt.Author
	}
	if merged.Author.AvatarURL == "" {
		merged.Author.AvatarURL = alt.Author.AvatarURL
	}
	if merged.Engagement == (common.Engagement{}) {
		merged.Engagement = alt.Engagement
	}
	return &merged
}

func (f *Fetcher) bundle(sourceURL string, post *Post) *common.EvidenceBundle {
	fetchedAt := f.now().UTC()
	b := &common.EvidenceBundle{
		SourceURL:      sourceURL,
		CaptionText:    post.Caption,
		AuthorComments: authorComments(post),
		Images:         post.Images,
		Author:         post.Author,
		Engagement:     post.Engagement,
		FetchedAt:      fetchedAt,
	}
	if f.images != nil {
		b.Images = f.images.Filter(post.Images)
		if b.Author.AvatarURL != "" && !f.images.Allowed(b.Author.AvatarURL) {
			b.Author.AvatarURL = ""
		}
	}
	if b.Images == nil {
		b.Images = []common.EvidenceImage{}
	}
	if post.VideoURL != "" {
		b.Video = &common.VideoRef{
			URL:             post.VideoURL,
			DurationSeconds: post.VideoDuration,
			ExpiresAt:       LinkExpiry(post.VideoURL, fetchedAt, f.linkTTL),
		}
	}
	return b
}

// authorComments 只保留作者本人的留言
func authorComments(post *Post) []string {
	out := []string{}
	if post.Author.Handle == "" {
		return out
	}
	for _, c := range post.Comments {
		if strings.EqualFold(strings.TrimPrefix(c.Owner, "@"), post.Author.Handle) && strings.TrimSpace(c.Text) != "" {
			out = append(out, strings.TrimSpace(c.Text))
		}
	}
	return out
}
