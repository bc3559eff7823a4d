package evidence

import (
	"net/url"
	"strings"
)

// ContentType 貼文內容類型，決定使用哪個爬取 actor
type ContentType string

const (
	ContentPost  ContentType = "post"
	ContentVideo ContentType = "video"
)

var videoPathSegments = []string{"/reel/", "/reels/", "/tv/", "/video/", "/shorts/"}

// DetectContentType 依網址路徑判斷內容類型
func DetectContentType(rawURL string) ContentType {
	path := rawURL
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.ToLower(path)
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	for _, seg := range videoPathSegments {
		if strings.Contains(path, seg) {
			return ContentVideo
		}
	}
	return ContentPost
}

// Platform 依主機名稱判斷平台，僅用於日誌與 actor 選擇
func Platform(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "instagram.com" || strings.HasSuffix(host, ".instagram.com"):
		return "instagram"
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		return "tiktok"
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") || host == "youtu.be":
		return "youtube"
	default:
		return "other"
	}
}
