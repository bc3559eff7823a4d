package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recipe-extractor/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	common.UseNopLogger()
}

type fakeExtractor struct {
	mu       sync.Mutex
	active   int32
	peak     int32
	extract  func(url string) (*common.ExtractionResult, error)
	userSeen []string
}

func (f *fakeExtractor) Extract(_ context.Context, url, user string) (*common.ExtractionResult, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	f.mu.Lock()
	if n > f.peak {
		f.peak = n
	}
	f.userSeen = append(f.userSeen, user)
	f.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	return f.extract(url)
}

func TestExtractAllKeepsOrder(t *testing.T) {
	f := &fakeExtractor{extract: func(url string) (*common.ExtractionResult, error) {
		if strings.Contains(url, "bad") {
			return nil, common.ErrInvalidURL
		}
		return &common.ExtractionResult{Success: true, TierUsed: common.TierCaptionOnly}, nil
	}}
	urls := []string{"https://a.test/1", "bad", "https://a.test/3"}

	got := extractAll(context.Background(), f, urls, "u1", 2)

	require.Len(t, got, 3)
	for i, u := range urls {
		assert.Equal(t, u, got[i].URL)
	}
	assert.True(t, got[0].Result.Success)
	assert.Nil(t, got[1].Result)
	assert.NotEmpty(t, got[1].Error)
	assert.True(t, got[2].Result.Success)
	assert.Equal(t, []string{"u1", "u1", "u1"}, f.userSeen)
}

func TestExtractAllRespectsLimit(t *testing.T) {
	f := &fakeExtractor{extract: func(string) (*common.ExtractionResult, error) {
		return &common.ExtractionResult{Success: true}, nil
	}}
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = "https://a.test/x"
	}

	extractAll(context.Background(), f, urls, "u", 2)

	assert.LessOrEqual(t, f.peak, int32(2))
}

func TestExtractAllErrorDoesNotCancelOthers(t *testing.T) {
	f := &fakeExtractor{extract: func(url string) (*common.ExtractionResult, error) {
		if url == "first" {
			return nil, errors.New("boom")
		}
		return &common.ExtractionResult{Success: true}, nil
	}}

	got := extractAll(context.Background(), f, []string{"first", "second", "third"}, "u", 1)

	assert.Equal(t, "boom", got[0].Error)
	assert.NotNil(t, got[1].Result)
	assert.NotNil(t, got[2].Result)
}

func TestReadURLs(t *testing.T) {
	in := strings.NewReader("# saved posts\nhttps://a.test/1\n\n   https://a.test/2  \n#https://skip.test\n")

	urls, err := readURLs(in)

	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test/1", "https://a.test/2"}, urls)
}

func TestReadBundle(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"sourceUrl":"https://www.instagram.com/p/abc/","captionText":"Pancakes","authorComments":["more flour"]}`), 0o600))
	b, err := readBundle(good)
	require.NoError(t, err)
	assert.Equal(t, "https://www.instagram.com/p/abc/", b.SourceURL)
	assert.Equal(t, "Pancakes", b.CaptionText)
	assert.Equal(t, []string{"more flour"}, b.AuthorComments)

	noURL := filepath.Join(dir, "nourl.json")
	require.NoError(t, os.WriteFile(noURL, []byte(`{"captionText":"x"}`), 0o600))
	_, err = readBundle(noURL)
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"sourceUrl":`), 0o600))
	_, err = readBundle(broken)
	assert.Error(t, err)

	_, err = readBundle(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["extract"])
	assert.True(t, names["evidence"])
	assert.True(t, names["migrate"])
}
