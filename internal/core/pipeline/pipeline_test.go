package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/core/cache"
	"recipe-extractor/internal/core/evidence"
	"recipe-extractor/internal/core/extractor"
	"recipe-extractor/internal/core/usage"
	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	common.UseNopLogger()
}

const (
	postURL        = "https://www.instagram.com/p/abc123/"
	goodCaption    = "2 cups flour, 1 tsp salt. Steps: 1) mix 2) bake 350F 20 min"
	captionRecipe  = `{"title":"Simple Bread","ingredients":["2 cups flour","1 tsp salt"],"instructions":["mix","bake 350F 20 min"]}`
	videoRecipe    = `{"title":"Garlic Noodles","ingredients":["200 g noodles","4 cloves garlic","2 tbsp butter","1 tbsp soy sauce","1/2 cup parmesan"],"instructions":["boil noodles","melt butter","add garlic","toss everything"],"onScreenText":true,"spokenContent":false}`
	imageRecipe    = `{"title":"Berry Toast","ingredients":["1 slice bread","2 tbsp ricotta","1 handful berries"],"instructions":["toast bread","top and serve"]}`
	notARecipeJSON = `{"isRecipe":false,"ingredients":[],"instructions":[]}`
)

// model 依序記錄請求的假模型
type model struct {
	name     string
	calls    int32
	requests []*provider.Request
	respond  func(req *provider.Request) (*provider.Response, error)
}

func (m *model) Name() string { return m.name }

func (m *model) Generate(_ context.Context, req *provider.Request) (*provider.Response, error) {
	atomic.AddInt32(&m.calls, 1)
	m.requests = append(m.requests, req)
	return m.respond(req)
}

func (m *model) count() int { return int(atomic.LoadInt32(&m.calls)) }

func replying(content string) func(*provider.Request) (*provider.Response, error) {
	return func(*provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: content}, nil
	}
}

func failing(err error) func(*provider.Request) (*provider.Response, error) {
	return func(*provider.Request) (*provider.Response, error) {
		return nil, err
	}
}

// fakeEvidence 以函式回傳證據
type fakeEvidence struct {
	calls int32
	fn    func(url string) (*common.EvidenceBundle, error)
}

func (f *fakeEvidence) Fetch(_ context.Context, url, _ string) (*common.EvidenceBundle, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(url)
}

func bundleWith(caption string) func(string) (*common.EvidenceBundle, error) {
	return func(url string) (*common.EvidenceBundle, error) {
		return &common.EvidenceBundle{SourceURL: url, CaptionText: caption, FetchedAt: time.Now()}, nil
	}
}

// brokenGate 模擬額度服務離線
type brokenGate struct{}

func (brokenGate) CheckAndReserve(context.Context, string) (usage.Decision, error) {
	return usage.Decision{}, errors.New("connection refused")
}

func (brokenGate) Release(context.Context, string) error { return errors.New("connection refused") }

type fixture struct {
	caption  *model
	primary  *model
	fallback *model
	images   *model
	hits     int32
	tempDir  string
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		caption:  &model{name: "caption", respond: replying(captionRecipe)},
		primary:  &model{name: "primary", respond: replying(videoRecipe)},
		fallback: &model{name: "fallback", respond: replying(videoRecipe)},
		images:   &model{name: "images", respond: replying(imageRecipe)},
		tempDir:  t.TempDir(),
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.hits, 1)
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("fake video bytes"))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) deps(maxVideoBytes int64) Deps {
	if maxVideoBytes == 0 {
		maxVideoBytes = 1 << 20
	}
	downloader := extractor.NewDownloader(config.VideoConfig{
		MaxBytes:        maxVideoBytes,
		DownloadTimeout: 5 * time.Second,
		TempDir:         f.tempDir,
	})
	return Deps{
		Caption:   extractor.NewCaptionExtractor(f.caption, 40, 512),
		Video:     extractor.NewVideoSynthesizer(f.primary, f.fallback, downloader, extractor.VideoOptions{MaxTokens: 1024}),
		Images:    extractor.NewImageExtractor(f.images, 4, 512),
		Validator: evidence.NewImageValidator([]string{"cdninstagram.com"}),
	}
}

func (f *fixture) videoBundle(caption string) *common.EvidenceBundle {
	return &common.EvidenceBundle{
		SourceURL:   postURL,
		CaptionText: caption,
		Video:       &common.VideoRef{URL: f.server.URL + "/v.mp4", DurationSeconds: 42, ExpiresAt: time.Now().Add(time.Hour)},
		FetchedAt:   time.Now(),
	}
}

func (f *fixture) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractFromEvidence_CaptionOnly(t *testing.T) {
	f := newFixture(t)
	p := New(f.deps(0))

	res, err := p.ExtractFromEvidence(context.Background(), &common.EvidenceBundle{SourceURL: postURL, CaptionText: goodCaption})
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.NotNil(t, res.Recipe)
	assert.Len(t, res.Recipe.Ingredients, 2)
	assert.Len(t, res.Recipe.Instructions, 2)
	assert.False(t, res.SourcesUsed.Video)
	assert.True(t, res.SourcesUsed.Caption)
	assert.GreaterOrEqual(t, res.Confidence, 0.7)
	assert.Equal(t, common.TierCaptionOnly, res.TierUsed)
	assert.Equal(t, []string{"CaptionOnly", "Terminal"}, res.TierPath)
	assert.Equal(t, 1.0, res.Recipe.Servings)
	assert.NotEmpty(t, res.Recipe.ImageURL)
	assert.Zero(t, f.primary.count())
}

func TestExtractFromEvidence_VideoOnly(t *testing.T) {
	f := newFixture(t)
	p := New(f.deps(0))

	res, err := p.ExtractFromEvidence(context.Background(), f.videoBundle("yum!"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, common.TierVideoPrimary, res.TierUsed)
	assert.GreaterOrEqual(t, res.Confidence, 0.6)
	assert.LessOrEqual(t, res.Confidence, 0.95)
	assert.True(t, res.SourcesUsed.Video)
	assert.False(t, res.SourcesUsed.Caption)
	assert.Equal(t, []string{"CaptionOnly", "VideoPrimary", "Terminal"}, res.TierPath)
	assert.Contains(t, res.Notes, "CAPTION_TOO_SHORT")
	assert.Len(t, res.Recipe.Ingredients, 5)
	assert.Zero(t, f.caption.count())
	assert.Zero(t, f.fallback.count())
	f.assertNoTempFiles(t)
}

func TestExtractFromEvidence_RateLimitEscalatesOnce(t *testing.T) {
	f := newFixture(t)
	f.primary.respond = failing(provider.FromStatus("primary", http.StatusTooManyRequests, "slow down"))
	f.fallback.respond = failing(provider.FromStatus("fallback", http.StatusServiceUnavailable, "overloaded"))
	p := New(f.deps(0))

	res, err := p.ExtractFromEvidence(context.Background(), f.videoBundle("yum!"))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, common.ReasonModelProviderError, res.Reason)
	assert.Nil(t, res.Recipe)
	assert.Equal(t, 1, f.primary.count())
	assert.Equal(t, 1, f.fallback.count())
	assert.Equal(t, *f.primary.requests[0], *f.fallback.requests[0])
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.hits), "video is downloaded once and shared")
	assert.Equal(t, []string{"CaptionOnly", "VideoPrimary", "VideoFallbackPaid", "Terminal"}, res.TierPath)
	f.assertNoTempFiles(t)
}

func TestExtractFromEvidence_PaidFallbackSucceeds(t *testing.T) {
	f := newFixture(t)
	f.primary.respond = failing(provider.FromStatus("primary", http.StatusPaymentRequired, "credits exhausted"))
	p := New(f.deps(0))

	res, err := p.ExtractFromEvidence(context.Background(), f.videoBundle("yum!"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, common.TierVideoFallbackPaid, res.TierUsed)
	assert.InDelta(t, 0.665, res.Confidence, 0.001)
	assert.Contains(t, res.Notes, "paid fallback model used")
	f.assertNoTempFiles(t)
}

func TestExtractFromEvidence_PrimaryErrorDoesNotEscalate(t *testing.T) {
	f := newFixture(t)
	f.primary.respond = failing(provider.FromStatus("primary", http.StatusInternalServerError, "boom"))
	p := New(f.deps(0))

	res, err := p.ExtractFromEvidence(context.Background(), f.videoBundle("yum!"))
	require.NoError(t, err)

	assert.Equal(t, common.ReasonModelProviderError, res.Reason)
	assert.Zero(t, f.fallback.count())
	assert.Equal(t, []string{"CaptionOnly", "VideoPrimary", "Terminal"}, res.TierPath)
}

func TestExtractFromEvidence_TempFileRemovedOnModelError(t *testing.T) {
	f := newFixture(t)
	var clipPath string
	f.primary.respond = func(req *provider.Request) (*provider.Response, error) {
		clipPath = req.Media.Path
		_, err := os.Stat(clipPath)
		require.NoError(t, err, "clip exists while the model runs")
		return nil, provider.FromStatus("primary", http.StatusInternalServerError, "boom")
	}
	p := New(f.deps(0))

	res, err := p.ExtractFromEvidence(context.Background(), f.videoBundle("yum!"))
	require.NoError(t, err)

	assert.Equal(t, common.ReasonModelProviderError, res.Reason)
	require.NotEmpty(t, clipPath)
	_, err = os.Stat(clipPath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	f.assertNoTempFiles(t)
}

func TestExtractFromEvidence_TempFileRemovedOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.primary.respond = func(*provider.Request) (*provider.Response, error) {
		cancel()
		return nil, provider.FromTransport("primary", context.Canceled)
	}
	p := New(f.deps(0))

	res, err := p.ExtractFromEvidence(ctx, f.videoBundle("yum!"))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Zero(t, f.fallback.count())
	f.assertNoTempFiles(t)
}

func TestExtractFromEvidence_TempFileRemovedWhenCancelledDuringFallback(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.primary.respond = failing(provider.FromStatus("primary", http.StatusTooManyRequests, "slow down"))
	f.fallback.respond = func(*provider.Request) (*provider.Response, error) {
		cancel()
		return nil, provider.FromTransport("fallback", context.Canceled)
	}
	p := New(f.deps(0))

	res, err := p.ExtractFromEvidence(ctx, f.videoBundle("yum!"))
	require.NoError(t, err)

	assert.Equal(t, common.ReasonModelProviderError, res.Reason)
	assert.Equal(t, 1, f.fallback.count())
	f.assertNoTempFiles(t)
}

func TestExtractFromEvidence_ExpiredVideoFallsToImages(t *testing.T) {
	f := newFixture(t)
	p := New(f.deps(0))

	b := f.videoBundle("yum!")
	b.Video.ExpiresAt = time.Now().Add(-time.Minute)
	b.Images = []common.EvidenceImage{{URL: "https://scontent.cdninstagram.com/v/t51/dish.jpg", TrustTag: common.TrustPost}}

	res, err := p.ExtractFromEvidence(context.Background(), b)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, common.TierImageOnly, res.TierUsed)
	assert.True(t, res.SourcesUsed.Images)
	assert.Contains(t, res.Notes, "MEDIA_EXPIRED")
	assert.Equal(t, []string{"CaptionOnly", "ImageOnly", "Terminal"}, res.TierPath)
	assert.Equal(t, "https://scontent.cdninstagram.com/v/t51/dish.jpg", res.Recipe.ImageURL)
	assert.Zero(t, atomic.LoadInt32(&f.hits), "expired links are never requested")
}

func TestExtractFromEvidence_OversizedVideoFallsToImages(t *testing.T) {
	f := newFixture(t)
	p := New(f.deps(4))

	b := f.videoBundle("yum!")
	b.Images = []common.EvidenceImage{{URL: "https://scontent.cdninstagram.com/v/t51/dish.jpg", TrustTag: common.TrustPost}}

	res, err := p.ExtractFromEvidence(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, []string{"CaptionOnly", "VideoPrimary", "ImageOnly", "Terminal"}, res.TierPath)
	assert.Contains(t, res.Notes, "MEDIA_TOO_LARGE")
	assert.Zero(t, f.primary.count())
	f.assertNoTempFiles(t)
}

func TestExtractFromEvidence_NoRecipeFound(t *testing.T) {
	f := newFixture(t)
	f.caption.respond = replying(notARecipeJSON)
	p := New(f.deps(0))

	res, err := p.ExtractFromEvidence(context.Background(), &common.EvidenceBundle{SourceURL: postURL, CaptionText: "Just a beautiful sunset over the bay tonight, no food here friends"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, common.ReasonNoRecipeFound, res.Reason)
	assert.Nil(t, res.Recipe)
}

func TestExtractFromEvidence_NilBundle(t *testing.T) {
	p := New(Deps{})
	_, err := p.ExtractFromEvidence(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestExtract_InvalidURL(t *testing.T) {
	p := New(Deps{})
	for _, u := range []string{"", "   ", "not a url", "ftp://example.com/x"} {
		_, err := p.Extract(context.Background(), u, "user-1")
		assert.ErrorIs(t, err, common.ErrInvalidURL, u)
	}
}

func TestExtract_GateOutageFailsOpen(t *testing.T) {
	f := newFixture(t)
	d := f.deps(0)
	d.Evidence = &fakeEvidence{fn: bundleWith(goodCaption)}
	d.Gate = usage.NewFailOpen(brokenGate{})
	p := New(d)

	res, err := p.Extract(context.Background(), postURL, "user-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Notes, "usage could not be verified")
}

func TestExtract_GateErrorWithoutDecoratorStillAllows(t *testing.T) {
	f := newFixture(t)
	d := f.deps(0)
	d.Evidence = &fakeEvidence{fn: bundleWith(goodCaption)}
	d.Gate = brokenGate{}
	p := New(d)

	res, err := p.Extract(context.Background(), postURL, "user-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Notes, "usage could not be verified")
}

func TestExtract_UnlimitedGateAddsNoUsageNote(t *testing.T) {
	gates := map[string]usage.Gate{
		"default":         nil,
		"unlimited":       usage.NewFailOpen(usage.Unlimited{}),
		"memory no limit": usage.NewFailOpen(usage.NewMemoryGate(0)),
		"memory limited":  usage.NewFailOpen(usage.NewMemoryGate(30)),
	}
	for name, gate := range gates {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			d := f.deps(0)
			d.Evidence = &fakeEvidence{fn: bundleWith(goodCaption)}
			d.Gate = gate
			p := New(d)

			res, err := p.Extract(context.Background(), postURL, "user-1")
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.NotContains(t, res.Notes, "usage could not be verified")
		})
	}
}

func TestExtract_QuotaExceeded(t *testing.T) {
	f := newFixture(t)
	ev := &fakeEvidence{fn: bundleWith(goodCaption)}
	d := f.deps(0)
	d.Evidence = ev
	d.Gate = usage.NewMemoryGate(1)
	p := New(d)

	first, err := p.Extract(context.Background(), postURL, "user-1")
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := p.Extract(context.Background(), "https://www.instagram.com/p/other/", "user-1")
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, common.ReasonQuotaExceeded, second.Reason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ev.calls))
}

func TestExtract_EvidenceFailureReleasesQuota(t *testing.T) {
	gate := usage.NewMemoryGate(5)
	p := New(Deps{
		Evidence: &fakeEvidence{fn: func(string) (*common.EvidenceBundle, error) {
			return nil, &evidence.FetchError{Kind: evidence.KindJobTimedOut, JobID: "run-1"}
		}},
		Gate: gate,
	})

	res, err := p.Extract(context.Background(), postURL, "user-1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, common.ReasonEvidenceUnavailable, res.Reason)
	assert.Equal(t, []string{"couldn't access post: job_timed_out"}, res.Notes)
	assert.Zero(t, gate.Used("user-1"))
}

func TestExtract_ResultCacheHit(t *testing.T) {
	f := newFixture(t)
	store := cache.NewMemoryStore(100, time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	ev := &fakeEvidence{fn: bundleWith(goodCaption)}
	d := f.deps(0)
	d.Evidence = ev
	d.Cache = cache.NewResultCache(store, time.Hour, time.Hour)
	p := New(d)

	first, err := p.Extract(context.Background(), postURL, "user-1")
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.False(t, first.CacheHit)

	second, err := p.Extract(context.Background(), "  "+postURL+"  ", "user-1")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Recipe.Title, second.Recipe.Title)
	assert.Equal(t, 1, f.caption.count())
	assert.Equal(t, int32(1), atomic.LoadInt32(&ev.calls))
}

func TestExtract_FailedResultNotCached(t *testing.T) {
	f := newFixture(t)
	f.caption.respond = replying(notARecipeJSON)
	store := cache.NewMemoryStore(100, time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	d := f.deps(0)
	d.Evidence = &fakeEvidence{fn: bundleWith("A long caption about my weekend trip to the mountains with friends")}
	d.Cache = cache.NewResultCache(store, time.Hour, time.Hour)
	p := New(d)

	for i := 0; i < 2; i++ {
		res, err := p.Extract(context.Background(), postURL, "user-1")
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
	}
	assert.Equal(t, 2, f.caption.count())
}

func TestExtract_CorruptedCachePropagates(t *testing.T) {
	store := cache.NewMemoryStore(100, time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Set(context.Background(), cache.ResultKey(postURL), []byte("{not json"), time.Hour))

	p := New(Deps{Cache: cache.NewResultCache(store, time.Hour, time.Hour)})
	_, err := p.Extract(context.Background(), postURL, "user-1")
	assert.ErrorIs(t, err, cache.ErrCorrupted)
}
