package recipe

import (
	"net/url"
	"strings"

	"recipe-extractor/internal/pkg/common"
)

// DefaultPlaceholder 未設定預設圖時使用
const DefaultPlaceholder = "https://static.recipe-extractor.app/placeholder.jpg"

// IsHTTPURL 語法上合法的 http(s) 網址
func IsHTTPURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SelectImage 依序選擇：模型建議 → 第一張通過驗證的貼文圖片 → 作者頭像 → 固定預設圖
// allowed 為 nil 時只做語法檢查
func SelectImage(c *common.RecipeCandidate, evidence *common.EvidenceBundle, allowed func(string) bool, placeholder string) string {
	candidates := make([]string, 0, 4)
	if c != nil {
		candidates = append(candidates, c.ImageURL)
	}
	if evidence != nil {
		for _, img := range evidence.Images {
			if IsHTTPURL(img.URL) && (allowed == nil || allowed(img.URL)) {
				candidates = append(candidates, img.URL)
				break
			}
		}
		candidates = append(candidates, evidence.Author.AvatarURL)
	}
	for _, u := range candidates {
		if IsHTTPURL(u) {
			return strings.TrimSpace(u)
		}
	}
	if placeholder == "" {
		return DefaultPlaceholder
	}
	return placeholder
}
