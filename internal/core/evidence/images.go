package evidence

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"recipe-extractor/internal/pkg/common"
)

var iconPatterns = []string{
	"s150x150", "p50x50", "s64x64", "/favicon", "pixel", "1x1", "sprite", "emoji", "/static/",
}

var rejectedExtensions = []string{".svg", ".gif", ".ico"}

// ImageValidator 圖片網址允許清單
type ImageValidator struct {
	suffixes []string
}

// NewImageValidator 以 CDN 網域後綴建立驗證器
func NewImageValidator(allowedHosts []string) *ImageValidator {
	suffixes := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "."))
		if h != "" {
			suffixes = append(suffixes, h)
		}
	}
	return &ImageValidator{suffixes: suffixes}
}

// Allowed 網址需為 http(s)、主機屬於允許清單且不像圖示或追蹤像素
func (v *ImageValidator) Allowed(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	hostOK := false
	for _, s := range v.suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			hostOK = true
			break
		}
	}
	if !hostOK {
		return false
	}

	path := strings.ToLower(u.Path)
	for _, p := range iconPatterns {
		if strings.Contains(path, p) {
			return false
		}
	}
	for _, ext := range rejectedExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

// Filter 保留通過驗證的圖片，順序不變
func (v *ImageValidator) Filter(images []common.EvidenceImage) []common.EvidenceImage {
	out := images[:0:0]
	for _, img := range images {
		if v.Allowed(img.URL) {
			out = append(out, img)
		}
	}
	return out
}

// LinkExpiry 由 CDN 網址的 oe 參數（十六進位 Unix 秒）取得過期時間，
// 無法取得時使用 fetchedAt+fallback
func LinkExpiry(raw string, fetchedAt time.Time, fallback time.Duration) time.Time {
	if u, err := url.Parse(raw); err == nil {
		if oe := u.Query().Get("oe"); oe != "" {
			if secs, err := strconv.ParseInt(oe, 16, 64); err == nil && secs > 0 {
				return time.Unix(secs, 0).UTC()
			}
		}
		if exp := u.Query().Get("x-expires"); exp != "" {
			if secs, err := strconv.ParseInt(exp, 10, 64); err == nil && secs > 0 {
				return time.Unix(secs, 0).UTC()
			}
		}
	}
	if fallback <= 0 {
		return time.Time{}
	}
	return fetchedAt.Add(fallback)
}
