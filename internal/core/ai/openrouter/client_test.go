package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/infrastructure/config"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.OpenRouterConfig {
	return config.OpenRouterConfig{
		BaseURL:       baseURL,
		APIKey:        "primary-key",
		Model:         "free/model",
		FallbackModel: "paid/model",
		MaxTokens:     512,
		Timeout:       5 * time.Second,
	}
}

func serve(t *testing.T, status int, body string, inspect func(*http.Request, map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(raw, &payload))
		if inspect != nil {
			inspect(r, payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate_ImagesAndJSONMode(t *testing.T) {
	srv := serve(t, http.StatusOK,
		`{"id":"1","model":"free/model","choices":[{"message":{"content":"{\"title\":\"Soup\"}"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
		func(r *http.Request, payload map[string]any) {
			assert.Equal(t, "Bearer primary-key", r.Header.Get("Authorization"))
			assert.Equal(t, "free/model", payload["model"])
			assert.Equal(t, float64(512), payload["max_tokens"])
			assert.Equal(t, map[string]any{"type": "json_object"}, payload["response_format"])

			msgs := payload["messages"].([]any)
			require.Len(t, msgs, 2)
			assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
			parts := msgs[1].(map[string]any)["content"].([]any)
			require.Len(t, parts, 3)
			assert.Equal(t, "text", parts[0].(map[string]any)["type"])
			assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
			assert.Equal(t, "https://cdn.example.com/a.jpg", parts[1].(map[string]any)["image_url"].(map[string]any)["url"])
		})

	c := NewPrimary(testConfig(srv.URL))
	resp, err := c.Generate(context.Background(), &provider.Request{
		System:   "be precise",
		Prompt:   "extract",
		JSONMode: true,
		Media: &provider.Media{
			Kind:      provider.MediaImage,
			ImageURLs: []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Soup"}`, resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "openrouter-primary", c.Name())
}

func TestGenerate_VideoDataURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake-video"), 0o600))

	srv := serve(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`,
		func(r *http.Request, payload map[string]any) {
			assert.Equal(t, "Bearer primary-key", r.Header.Get("Authorization"))
			assert.Equal(t, "paid/model", payload["model"])
			parts := payload["messages"].([]any)[0].(map[string]any)["content"].([]any)
			require.Len(t, parts, 2)
			video := parts[1].(map[string]any)
			assert.Equal(t, "video_url", video["type"])
			assert.Equal(t, "data:video/mp4;base64,ZmFrZS12aWRlbw==", video["video_url"].(map[string]any)["url"])
		})

	c := NewFallback(testConfig(srv.URL))
	resp, err := c.Generate(context.Background(), &provider.Request{
		Prompt: "watch",
		Media:  &provider.Media{Kind: provider.MediaVideo, Path: path, MIMEType: "video/mp4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "paid/model", resp.Model)
}

func TestGenerate_VideoIsStreamed(t *testing.T) {
	clip := bytes.Repeat([]byte("0123456789abcdefg"), 200_001)
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, clip, 0o600))

	srv := serve(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`,
		func(r *http.Request, payload map[string]any) {
			assert.Equal(t, int64(-1), r.ContentLength, "body is sent chunked, not pre-buffered")
			msgs := payload["messages"].([]any)
			parts := msgs[len(msgs)-1].(map[string]any)["content"].([]any)
			require.Len(t, parts, 2)
			assert.Equal(t, "mentions "+videoPlaceholder, parts[0].(map[string]any)["text"])
			url := parts[1].(map[string]any)["video_url"].(map[string]any)["url"].(string)
			assert.Equal(t, "data:video/webm;base64,"+base64.StdEncoding.EncodeToString(clip), url)
		})

	resp, err := NewPrimary(testConfig(srv.URL)).Generate(context.Background(), &provider.Request{
		System: "sys",
		Prompt: "mentions " + videoPlaceholder,
		Media:  &provider.Media{Kind: provider.MediaVideo, Path: path, MIMEType: "video/webm"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	// the encoder goroutine released the file
	require.NoError(t, os.Remove(path))
}

func TestGenerate_VideoStreamClosedOnTransportError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 1<<20), 0o600))

	_, err := NewPrimary(testConfig("http://127.0.0.1:1")).Generate(context.Background(), &provider.Request{
		Prompt: "x",
		Media:  &provider.Media{Kind: provider.MediaVideo, Path: path},
	})
	require.Error(t, err)
	assert.Equal(t, provider.KindUnavailable, provider.KindOf(err))
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   provider.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","code":429}}`, provider.KindRateLimited},
		{"credits exhausted", http.StatusPaymentRequired, `{"error":{"message":"no credits","code":402}}`, provider.KindRateLimited},
		{"upstream down", http.StatusBadGateway, `{"error":{"message":"bad gateway"}}`, provider.KindUnavailable},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"invalid"}}`, provider.KindBadResponse},
		{"error inside 200", http.StatusOK, `{"error":{"message":"provider quota","code":429}}`, provider.KindRateLimited},
		{"empty choices", http.StatusOK, `{"choices":[]}`, provider.KindBadResponse},
		{"not json", http.StatusOK, `oops`, provider.KindBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body, nil)
			_, err := NewPrimary(testConfig(srv.URL)).Generate(context.Background(), &provider.Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, provider.KindOf(err))
		})
	}
}

func TestGenerate_MissingVideoFile(t *testing.T) {
	c := NewPrimary(testConfig("http://127.0.0.1:1"))
	_, err := c.Generate(context.Background(), &provider.Request{
		Prompt: "x",
		Media:  &provider.Media{Kind: provider.MediaVideo, Path: filepath.Join(t.TempDir(), "missing.mp4")},
	})
	require.Error(t, err)
	assert.Equal(t, provider.KindBadResponse, provider.KindOf(err))
}

func TestGenerate_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewPrimary(testConfig(srv.URL)).Generate(ctx, &provider.Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, provider.KindTimeout, provider.KindOf(err))
}

func TestSanitizeBody(t *testing.T) {
	body := []byte(`{"url":"data:video/mp4;base64,QUJDRA==","ok":true}`)
	assert.Equal(t, `{"url":"[MEDIA_DATA_REMOVED]","ok":true}`, sanitizeBody(body))
	assert.Equal(t, `plain`, sanitizeBody([]byte("plain")))
}
