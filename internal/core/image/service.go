package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	_ "image/gif" // 支援 GIF
	_ "image/png" // 支援 PNG

	"recipe-extractor/internal/infrastructure/storage"
	"recipe-extractor/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // 支援 WebP
)

const (
	maxDimension = 1080
	jpegQuality  = 85
)

// Thumbnail 已保存的縮圖
type Thumbnail struct {
	URL    string `json:"url"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int    `json:"bytes"`
}

// Service 將選定的食譜圖片轉為 JPEG 縮圖並永久保存
type Service struct {
	store        storage.ObjectStore
	client       *resty.Client
	maxSizeBytes int64
	allowed      func(string) bool
}

// NewService 建立縮圖服務；store 為 nil 時 Persist 回傳 ErrStorageDisabled
func NewService(store storage.ObjectStore, maxSizeBytes int64, allowed func(string) bool) *Service {
	return &Service{
		store:        store,
		client:       resty.New().SetTimeout(30 * time.Second).SetDoNotParseResponse(true),
		maxSizeBytes: maxSizeBytes,
		allowed:      allowed,
	}
}

// Persist 下載圖片、縮放並上傳至 recipes/<recipeID>/<uuid>.jpg
func (s *Service) Persist(ctx context.Context, recipeID, imageURL string) (*Thumbnail, error) {
	if s.store == nil {
		return nil, common.ErrStorageDisabled
	}
	imageURL = strings.TrimSpace(imageURL)
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") {
		return nil, common.ErrInvalidURL
	}
	if s.allowed != nil && !s.allowed(imageURL) {
		return nil, common.ErrInvalidURL.Wrap(fmt.Errorf("host not allowed: %s", imageURL))
	}

	data, err := s.download(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	encoded, bounds, err := s.reencode(data)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("recipes/%s/%s.jpg", sanitizeID(recipeID), uuid.NewString())
	publicURL, err := s.store.Upload(ctx, path, encoded, "image/jpeg")
	if err != nil {
		return nil, err
	}

	common.LogInfo("縮圖已保存",
		zap.String("recipe_id", recipeID),
		zap.String("path", path),
		zap.Int("bytes", len(encoded)),
	)
	return &Thumbnail{
		URL:    publicURL,
		Path:   path,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Bytes:  len(encoded),
	}, nil
}

// Remove 刪除已保存的縮圖
func (s *Service) Remove(ctx context.Context, path string) error {
	if s.store == nil {
		return common.ErrStorageDisabled
	}
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "recipes/") || strings.Contains(path, "..") {
		return common.ErrInvalidRequest.Wrap(fmt.Errorf("invalid object path %q", path))
	}
	return s.store.Delete(ctx, path)
}

func (s *Service) download(ctx context.Context, imageURL string) ([]byte, error) {
	resp, err := s.client.R().SetContext(ctx).Get(imageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "image: download %s", imageURL)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, eris.Errorf("image: download %s: status %d", imageURL, resp.StatusCode())
	}

	data, err := io.ReadAll(io.LimitReader(body, s.maxSizeBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "image: read body")
	}
	if int64(len(data)) > s.maxSizeBytes {
		return nil, common.ErrInvalidImageSize
	}
	return data, nil
}

// reencode 解碼後等比縮小到最長邊 maxDimension，輸出 JPEG
func (s *Service) reencode(data []byte) ([]byte, image.Rectangle, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Rectangle{}, common.ErrInvalidImageFormat.Wrap(err)
	}
	if !isSupportedFormat(format) {
		return nil, image.Rectangle{}, common.ErrInvalidImageFormat.Wrap(fmt.Errorf("unsupported format %s", format))
	}

	img = fit(img, maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, image.Rectangle{}, eris.Wrap(err, "image: encode jpeg")
	}
	return buf.Bytes(), img.Bounds(), nil
}

func fit(src image.Image, limit int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return src
	}
	if w >= h {
		h = h * limit / w
		w = limit
	} else {
		w = w * limit / h
		h = limit
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func isSupportedFormat(format string) bool {
	switch format {
	case "jpeg", "png", "gif", "webp":
		return true
	}
	return false
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "unassigned"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
