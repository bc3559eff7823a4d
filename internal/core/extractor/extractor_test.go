package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const captionJSON = "Here you go:\n```json\n" + `{
  "title": "Simple Bread",
  "ingredients": ["2 cups flour", "1 tsp salt"],
  "instructions": ["mix", "bake 350F 20 min"]
}` + "\n```"

const videoJSON = `{"title":"Garlic Noodles","ingredients":[
  {"originalText":"200 g noodles"},{"originalText":"4 cloves garlic, minced"},
  {"originalText":"2 tbsp butter"},{"originalText":"1 tbsp soy sauce"},{"originalText":"1/2 cup parmesan"}],
  "instructions":["boil noodles","melt butter","add garlic","toss everything"],
  "onScreenText":true,"spokenContent":false}`

// recorder 記錄收到的請求並依序回傳預設結果
type recorder struct {
	name     string
	calls    int32
	requests []*provider.Request
	respond  func(call int, req *provider.Request) (*provider.Response, error)
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Generate(_ context.Context, req *provider.Request) (*provider.Response, error) {
	n := int(atomic.AddInt32(&r.calls, 1))
	r.requests = append(r.requests, req)
	return r.respond(n, req)
}

func reply(content string) func(int, *provider.Request) (*provider.Response, error) {
	return func(int, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: content}, nil
	}
}

func failWith(err error) func(int, *provider.Request) (*provider.Response, error) {
	return func(int, *provider.Request) (*provider.Response, error) {
		return nil, err
	}
}

func videoServer(t *testing.T, hits *int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serveBytes(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte(body))
	}
}

func newDownloader(t *testing.T, maxBytes int64) (*Downloader, string) {
	t.Helper()
	dir := t.TempDir()
	return NewDownloader(config.VideoConfig{MaxBytes: maxBytes, DownloadTimeout: 5 * time.Second, TempDir: dir}), dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary video files must be removed")
}

func videoBundle(url string, expiresAt time.Time) *common.EvidenceBundle {
	return &common.EvidenceBundle{
		SourceURL:   "https://www.instagram.com/reel/abc/",
		CaptionText: "yum!",
		Video:       &common.VideoRef{URL: url, DurationSeconds: 30, ExpiresAt: expiresAt},
	}
}

func TestCaptionGate(t *testing.T) {
	g := CaptionGate{MinLength: 40}
	tests := []struct {
		caption string
		ok      bool
		reason  string
	}{
		{"yum!", false, "CAPTION_TOO_SHORT"},
		{"   " + strings.Repeat("a", 39) + "   ", false, "CAPTION_TOO_SHORT"},
		{"Best pasta ever, full recipe in the video! Save it for later.", false, "CAPTION_POINTS_TO_VIDEO"},
		{"Sunday vibes with my family. Watch the video for the full recipe!!", false, "CAPTION_POINTS_TO_VIDEO"},
		{"So good you will want seconds, recipe link in bio as always friends", false, "CAPTION_POINTS_TO_VIDEO"},
		{"2 cups flour, 1 tsp salt. Steps: 1) mix 2) bake 350F 20 min", true, ""},
	}
	for _, tt := range tests {
		ok, reason := g.Check(tt.caption)
		assert.Equal(t, tt.ok, ok, tt.caption)
		assert.Equal(t, tt.reason, reason, tt.caption)
	}
}

func TestCaptionExtractor_SkipsWithoutModelCall(t *testing.T) {
	model := &recorder{name: "caption", respond: reply(captionJSON)}
	c := NewCaptionExtractor(model, 40, 512)

	a := c.Extract(context.Background(), &common.EvidenceBundle{CaptionText: "yum!"})
	assert.True(t, a.Skipped)
	assert.Equal(t, "CAPTION_TOO_SHORT", a.Note)
	assert.False(t, a.Usable())
	assert.Zero(t, atomic.LoadInt32(&model.calls))
}

func TestCaptionExtractor_ParsesWrappedJSON(t *testing.T) {
	model := &recorder{name: "caption", respond: reply(captionJSON)}
	c := NewCaptionExtractor(model, 40, 512)

	a := c.Extract(context.Background(), &common.EvidenceBundle{
		CaptionText:    "2 cups flour, 1 tsp salt. Steps: 1) mix 2) bake 350F 20 min",
		AuthorComments: []string{"enjoy!"},
	})
	require.NoError(t, a.Err)
	require.True(t, a.Usable())
	assert.Equal(t, common.TierCaptionOnly, a.Tier)
	assert.Equal(t, common.SourceCaption, a.Source)
	assert.False(t, a.IsComplete)
	require.Len(t, a.Recipe.Ingredients, 2)
	assert.Equal(t, 2.0, a.Recipe.Ingredients[0].Amount)
	assert.Equal(t, "flour", a.Recipe.Ingredients[0].Name)
	require.Len(t, a.Recipe.Instructions, 2)
	assert.Equal(t, 2, a.Recipe.Instructions[1].StepNumber)

	require.Len(t, model.requests, 1)
	req := model.requests[0]
	assert.True(t, req.JSONMode)
	assert.Contains(t, req.Prompt, "verbatim")
	assert.Contains(t, req.Prompt, "Never merge two numbered items")
	assert.Contains(t, req.Prompt, "enjoy!")
}

func TestCaptionExtractor_ModelErrorIsAttemptError(t *testing.T) {
	boom := provider.FromStatus("caption", http.StatusTooManyRequests, "slow down")
	model := &recorder{name: "caption", respond: failWith(boom)}
	a := NewCaptionExtractor(model, 10, 0).Extract(context.Background(), &common.EvidenceBundle{
		CaptionText: "a caption that is long enough",
	})
	assert.ErrorIs(t, a.Err, boom)
	assert.Equal(t, int32(1), model.calls)
}

func TestCaptionExtractor_NoJSON(t *testing.T) {
	model := &recorder{name: "caption", respond: reply("I could not find a recipe, sorry.")}
	a := NewCaptionExtractor(model, 10, 0).Extract(context.Background(), &common.EvidenceBundle{
		CaptionText: "a caption that is long enough",
	})
	require.Error(t, a.Err)
	assert.Equal(t, provider.KindBadResponse, provider.KindOf(a.Err))
}

func TestCaptionExtractor_NotARecipe(t *testing.T) {
	model := &recorder{name: "caption", respond: reply(`{"isRecipe": false}`)}
	a := NewCaptionExtractor(model, 10, 0).Extract(context.Background(), &common.EvidenceBundle{
		CaptionText: "just a sunset picture from vacation",
	})
	require.NoError(t, a.Err)
	assert.False(t, a.Usable())
	assert.Equal(t, "NO_RECIPE_IN_CaptionOnly", a.Note)
}

// prepared 下載影片並在測試結束時刪除暫存檔
func prepared(t *testing.T, v *VideoSynthesizer, b *common.EvidenceBundle) *Clip {
	t.Helper()
	clip, err := v.Prepare(context.Background(), b)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clip.Close() })
	return clip
}

func TestVideo_ExpiredLinkIsNeverDownloaded(t *testing.T) {
	var hits int32
	srv := videoServer(t, &hits, serveBytes("video"))
	d, dir := newDownloader(t, 1<<20)
	v := NewVideoSynthesizer(&recorder{name: "primary", respond: reply(videoJSON)}, nil, d, VideoOptions{})
	b := videoBundle(srv.URL+"/v.mp4", time.Now().Add(-time.Minute))

	assert.False(t, v.Usable(b))
	clip, err := v.Prepare(context.Background(), b)
	assert.Nil(t, clip)
	assert.ErrorIs(t, err, ErrMediaExpired)

	a := v.PrepareFailed(b, err)
	assert.True(t, a.Skipped)
	assert.Equal(t, "MEDIA_EXPIRED", a.Note)
	assert.Zero(t, atomic.LoadInt32(&hits))
	assertEmptyDir(t, dir)

	_, err = d.Download(context.Background(), &common.VideoRef{URL: srv.URL, ExpiresAt: time.Now().Add(-time.Second)})
	assert.ErrorIs(t, err, ErrMediaExpired)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestVideo_PrepareWithoutVideo(t *testing.T) {
	d, _ := newDownloader(t, 1<<20)
	v := NewVideoSynthesizer(&recorder{name: "primary", respond: reply(videoJSON)}, nil, d, VideoOptions{})

	_, err := v.Prepare(context.Background(), &common.EvidenceBundle{CaptionText: "yum!"})
	assert.ErrorIs(t, err, ErrNoMedia)
}

func TestVideo_PrimarySuccess(t *testing.T) {
	var hits int32
	srv := videoServer(t, &hits, serveBytes("fake-mp4-bytes"))
	d, dir := newDownloader(t, 1<<20)

	var sawFile bool
	primary := &recorder{name: "primary", respond: func(_ int, req *provider.Request) (*provider.Response, error) {
		data, err := os.ReadFile(req.Media.Path)
		sawFile = err == nil && string(data) == "fake-mp4-bytes"
		return &provider.Response{Content: videoJSON}, nil
	}}
	v := NewVideoSynthesizer(primary, nil, d, VideoOptions{})
	b := videoBundle(srv.URL+"/v.mp4", time.Now().Add(time.Hour))

	clip, err := v.Prepare(context.Background(), b)
	require.NoError(t, err)
	a := v.Primary(context.Background(), clip, b)
	require.NoError(t, clip.Close())

	require.NoError(t, a.Err)
	assert.True(t, sawFile)
	assert.Equal(t, common.TierVideoPrimary, a.Tier)
	assert.Equal(t, 1.0, a.SourceConfidence)
	assert.True(t, a.IsComplete)
	assert.Equal(t, common.SourceVisual, a.Source)
	assert.Equal(t, []common.Source{common.SourceVisual}, a.Consulted)
	assert.Len(t, a.Recipe.Ingredients, 5)
	assert.Equal(t, 0.5, a.Recipe.Ingredients[4].Amount)

	req := primary.requests[0]
	assert.Equal(t, provider.MediaVideo, req.Media.Kind)
	assert.Equal(t, "video/mp4", req.Media.MIMEType)
	assert.Contains(t, req.Prompt, "ALL spoken content")
	assert.Contains(t, req.Prompt, "on-screen text wins")
	assertEmptyDir(t, dir)
}

func TestVideo_FallbackReusesClipAndPrompt(t *testing.T) {
	var hits int32
	srv := videoServer(t, &hits, serveBytes("clip"))
	d, _ := newDownloader(t, 1<<20)

	primary := &recorder{name: "primary", respond: failWith(provider.FromStatus("primary", http.StatusTooManyRequests, "quota"))}
	fallback := &recorder{name: "fallback", respond: reply(videoJSON)}
	v := NewVideoSynthesizer(primary, fallback, d, VideoOptions{PaidConfidence: 0.95})
	b := videoBundle(srv.URL+"/v.mp4", time.Time{})
	clip := prepared(t, v, b)

	first := v.Primary(context.Background(), clip, b)
	assert.True(t, provider.IsRateLimited(first.Err))
	assert.True(t, v.HasFallback())

	a := v.Fallback(context.Background(), clip, b)
	require.NoError(t, a.Err)
	assert.Equal(t, common.TierVideoFallbackPaid, a.Tier)
	assert.Equal(t, 0.95, a.SourceConfidence)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, *primary.requests[0], *fallback.requests[0])
}

func TestVideo_FallbackFailureIsTyped(t *testing.T) {
	var hits int32
	srv := videoServer(t, &hits, serveBytes("clip"))
	d, _ := newDownloader(t, 1<<20)

	fallback := &recorder{name: "fallback", respond: failWith(provider.FromStatus("fallback", http.StatusBadGateway, ""))}
	v := NewVideoSynthesizer(&recorder{name: "primary", respond: reply(videoJSON)}, fallback, d, VideoOptions{})
	b := videoBundle(srv.URL+"/v.mp4", time.Time{})

	a := v.Fallback(context.Background(), prepared(t, v, b), b)
	require.Error(t, a.Err)
	assert.Equal(t, provider.KindUnavailable, provider.KindOf(a.Err))
	assert.Nil(t, a.Recipe)
	assert.Equal(t, int32(1), fallback.calls)
}

func TestVideo_FallbackWithoutProvider(t *testing.T) {
	var hits int32
	srv := videoServer(t, &hits, serveBytes("clip"))
	d, _ := newDownloader(t, 1<<20)
	v := NewVideoSynthesizer(&recorder{name: "primary", respond: reply(videoJSON)}, nil, d, VideoOptions{})
	b := videoBundle(srv.URL+"/v.mp4", time.Time{})

	assert.False(t, v.HasFallback())
	a := v.Fallback(context.Background(), prepared(t, v, b), b)
	assert.Equal(t, common.TierVideoFallbackPaid, a.Tier)
	assert.Equal(t, provider.KindUnavailable, provider.KindOf(a.Err))
}

func TestVideo_PrimaryErrorIsAttemptError(t *testing.T) {
	var hits int32
	srv := videoServer(t, &hits, serveBytes("clip"))
	d, _ := newDownloader(t, 1<<20)
	primary := &recorder{name: "primary", respond: failWith(provider.FromStatus("primary", http.StatusInternalServerError, "boom"))}
	v := NewVideoSynthesizer(primary, nil, d, VideoOptions{})
	b := videoBundle(srv.URL+"/v.mp4", time.Time{})

	a := v.Primary(context.Background(), prepared(t, v, b), b)
	require.Error(t, a.Err)
	assert.False(t, provider.IsRateLimited(a.Err))
	assert.Equal(t, common.TierVideoPrimary, a.Tier)
	assert.Nil(t, a.Recipe)
}

func TestDownload_SizeLimit(t *testing.T) {
	var hits int32
	declared := videoServer(t, &hits, serveBytes(strings.Repeat("x", 64)))
	chunked := videoServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		for i := 0; i < 8; i++ {
			_, _ = w.Write([]byte(strings.Repeat("y", 16)))
			w.(http.Flusher).Flush()
		}
	})
	d, dir := newDownloader(t, 32)

	_, err := d.Download(context.Background(), &common.VideoRef{URL: declared.URL})
	assert.ErrorIs(t, err, ErrMediaTooLarge)
	_, err = d.Download(context.Background(), &common.VideoRef{URL: chunked.URL})
	assert.ErrorIs(t, err, ErrMediaTooLarge)
	assertEmptyDir(t, dir)

	v := NewVideoSynthesizer(&recorder{name: "primary", respond: reply(videoJSON)}, nil, d, VideoOptions{})
	b := videoBundle(declared.URL, time.Time{})
	_, err = v.Prepare(context.Background(), b)
	require.ErrorIs(t, err, ErrMediaTooLarge)
	a := v.PrepareFailed(b, err)
	assert.True(t, a.Skipped)
	assert.Equal(t, "MEDIA_TOO_LARGE", a.Note)
	assertEmptyDir(t, dir)
}

func TestDownload_StatusHandling(t *testing.T) {
	var hits int32
	srv := videoServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		code, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/"))
		w.WriteHeader(code)
	})
	d, dir := newDownloader(t, 1<<20)

	_, err := d.Download(context.Background(), &common.VideoRef{URL: srv.URL + "/403"})
	assert.ErrorIs(t, err, ErrMediaExpired)
	_, err = d.Download(context.Background(), &common.VideoRef{URL: srv.URL + "/500"})
	require.Error(t, err)
	assert.False(t, IsSkip(err))
	assertEmptyDir(t, dir)
}

func TestClip_CloseIsIdempotent(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "clip-*")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c := &Clip{Path: f.Name()}
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	var nilClip *Clip
	require.NoError(t, nilClip.Close())
}

func TestVideoSources(t *testing.T) {
	yes, no := true, false
	src, consulted := videoSources(&common.RawRecipe{})
	assert.Equal(t, common.SourceVisual, src)
	assert.Equal(t, []common.Source{common.SourceVisual, common.SourceAudio}, consulted)

	src, consulted = videoSources(&common.RawRecipe{OnScreenText: &no, SpokenContent: &yes})
	assert.Equal(t, common.SourceAudio, src)
	assert.Equal(t, []common.Source{common.SourceAudio}, consulted)

	src, consulted = videoSources(&common.RawRecipe{OnScreenText: &yes, SpokenContent: &no})
	assert.Equal(t, common.SourceVisual, src)
	assert.Equal(t, []common.Source{common.SourceVisual}, consulted)
}

func TestImageExtractor(t *testing.T) {
	model := &recorder{name: "vision", respond: reply(videoJSON)}
	e := NewImageExtractor(model, 2, 0)

	a := e.Extract(context.Background(), &common.EvidenceBundle{})
	assert.True(t, a.Skipped)
	assert.Zero(t, atomic.LoadInt32(&model.calls))

	a = e.Extract(context.Background(), &common.EvidenceBundle{Images: []common.EvidenceImage{
		{URL: "https://cdn.example.com/1.jpg"},
		{URL: "https://cdn.example.com/2.jpg"},
		{URL: "https://cdn.example.com/3.jpg"},
	}})
	require.NoError(t, a.Err)
	assert.Equal(t, common.TierImageOnly, a.Tier)
	assert.Equal(t, []common.Source{common.SourceVisual}, a.Consulted)
	assert.Equal(t, []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"}, model.requests[0].Media.ImageURLs)
}
