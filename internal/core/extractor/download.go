package extractor

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultMaxVideoBytes int64 = 1 << 30

// Clip 下載到暫存檔的影片，用完必須 Close
type Clip struct {
	Path     string
	MIMEType string
	Size     int64
}

// Close 刪除暫存檔，可重複呼叫
func (c *Clip) Close() error {
	if c == nil || c.Path == "" {
		return nil
	}
	err := os.Remove(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	c.Path = ""
	return err
}

// Downloader 有大小上限的影片下載器
type Downloader struct {
	client   *resty.Client
	maxBytes int64
	tempDir  string
	now      func() time.Time
}

// NewDownloader 建立下載器
func NewDownloader(cfg config.VideoConfig) *Downloader {
	timeout := cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxVideoBytes
	}
	return &Downloader{
		client:   resty.New().SetTimeout(timeout).SetDoNotParseResponse(true),
		maxBytes: maxBytes,
		tempDir:  cfg.TempDir,
		now:      time.Now,
	}
}

// Download 先檢查連結是否過期，再串流寫入暫存檔；任何失敗都不留下檔案
func (d *Downloader) Download(ctx context.Context, ref *common.VideoRef) (*Clip, error) {
	if ref == nil || ref.URL == "" {
		return nil, ErrNoMedia
	}
	if ref.Expired(d.now()) {
		return nil, ErrMediaExpired
	}

	resp, err := d.client.R().SetContext(ctx).Get(ref.URL)
	if err != nil {
		return nil, eris.Wrap(err, "video: request")
	}
	body := resp.RawBody()
	defer body.Close()

	switch code := resp.StatusCode(); {
	case code == http.StatusForbidden || code == http.StatusGone:
		// CDN 簽章過期時回 403/410
		return nil, ErrMediaExpired
	case code != http.StatusOK:
		return nil, eris.Errorf("video: download status %d", code)
	}
	if resp.RawResponse.ContentLength > d.maxBytes {
		return nil, ErrMediaTooLarge
	}

	f, err := os.CreateTemp(d.tempDir, "recipe-video-*.mp4")
	if err != nil {
		return nil, eris.Wrap(err, "video: create temp file")
	}
	clip := &Clip{Path: f.Name(), MIMEType: videoMIME(resp.Header().Get("Content-Type"))}

	n, copyErr := io.Copy(f, io.LimitReader(body, d.maxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = clip.Close()
		return nil, eris.Wrap(copyErr, "video: write temp file")
	case closeErr != nil:
		_ = clip.Close()
		return nil, eris.Wrap(closeErr, "video: close temp file")
	case n > d.maxBytes:
		_ = clip.Close()
		return nil, ErrMediaTooLarge
	}
	clip.Size = n

	common.LogDebug("Video downloaded", zap.Int64("bytes", n), zap.String("mime", clip.MIMEType))
	return clip, nil
}

func videoMIME(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil || !strings.HasPrefix(mt, "video/") {
		return "video/mp4"
	}
	return mt
}
