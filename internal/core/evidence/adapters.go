package evidence

import (
	"strconv"
	"strings"

	"recipe-extractor/internal/pkg/common"
)

// Comment 貼文留言
type Comment struct {
	Owner string
	Text  string
}

// Post 各平台紀錄標準化後的共同形狀
type Post struct {
	Caption       string
	Comments      []Comment
	Images        []common.EvidenceImage
	VideoURL      string
	VideoDuration float64
	Author        common.Author
	Engagement    common.Engagement
}

// RecordAdapter 將單一平台的原始紀錄轉為 Post
type RecordAdapter interface {
	Name() string
	CanHandle(record map[string]any) bool
	Normalize(record map[string]any) *Post
}

// Registry 依序嘗試 adapter，最後一個應能處理任何紀錄
type Registry struct {
	adapters []RecordAdapter
}

// NewRegistry 建立 adapter 註冊表
func NewRegistry(adapters ...RecordAdapter) *Registry {
	return &Registry{adapters: adapters}
}

// DefaultRegistry Instagram、TikTok 與通用格式
func DefaultRegistry() *Registry {
	return NewRegistry(instagramAdapter{}, tiktokAdapter{}, genericAdapter{})
}

// For 回傳第一個能處理紀錄的 adapter
func (r *Registry) For(record map[string]any) RecordAdapter {
	for _, a := range r.adapters {
		if a.CanHandle(record) {
			return a
		}
	}
	return genericAdapter{}
}

type instagramAdapter struct{}

func (instagramAdapter) Name() string { return "instagram" }

func (instagramAdapter) CanHandle(record map[string]any) bool {
	return has(record, "shortCode") || has(record, "ownerUsername") || has(record, "displayUrl")
}

func (instagramAdapter) Normalize(record map[string]any) *Post {
	p := &Post{
		Caption:       str(record, "caption", "text"),
		VideoURL:      str(record, "videoUrl", "video_url"),
		VideoDuration: num(record, "videoDuration", "video_duration"),
		Author: common.Author{
			Handle:      str(record, "ownerUsername", "owner.username"),
			DisplayName: str(record, "ownerFullName", "owner.full_name"),
			AvatarURL:   str(record, "ownerProfilePicUrl", "owner.profile_pic_url"),
		},
		Engagement: common.Engagement{
			Likes:    int64(num(record, "likesCount", "likes")),
			Comments: int64(num(record, "commentsCount", "comments")),
			Views:    int64(num(record, "videoViewCount", "videoPlayCount", "views")),
		},
	}

	p.Images = appendImage(p.Images, str(record, "displayUrl", "display_url"), common.TrustPost)
	for _, u := range strList(record, "images") {
		p.Images = appendImage(p.Images, u, common.TrustCarousel)
	}
	for _, child := range objList(record, "childPosts", "sidecar") {
		p.Images = appendImage(p.Images, str(child, "displayUrl", "display_url"), common.TrustCarousel)
		if p.VideoURL == "" {
			p.VideoURL = str(child, "videoUrl")
		}
	}

	for _, c := range objList(record, "latestComments", "comments") {
		p.Comments = append(p.Comments, Comment{
			Owner: str(c, "ownerUsername", "owner.username", "username"),
			Text:  str(c, "text"),
		})
	}
	return p
}

type tiktokAdapter struct{}

func (tiktokAdapter) Name() string { return "tiktok" }

func (tiktokAdapter) CanHandle(record map[string]any) bool {
	return has(record, "authorMeta") || has(record, "videoMeta") || has(record, "diggCount")
}

func (tiktokAdapter) Normalize(record map[string]any) *Post {
	p := &Post{
		Caption:       str(record, "text", "desc", "description"),
		VideoURL:      str(record, "videoMeta.downloadAddr", "videoUrl", "videoMeta.playAddr"),
		VideoDuration: num(record, "videoMeta.duration", "duration"),
		Author: common.Author{
			Handle:      str(record, "authorMeta.name", "authorMeta.uniqueId"),
			DisplayName: str(record, "authorMeta.nickName", "authorMeta.nickname"),
			AvatarURL:   str(record, "authorMeta.avatar", "authorMeta.avatarMedium"),
		},
		Engagement: common.Engagement{
			Likes:    int64(num(record, "diggCount", "stats.diggCount")),
			Comments: int64(num(record, "commentCount", "stats.commentCount")),
			Views:    int64(num(record, "playCount", "stats.playCount")),
		},
	}
	if p.VideoURL == "" {
		if media := strList(record, "mediaUrls"); len(media) > 0 {
			p.VideoURL = media[0]
		}
	}

	p.Images = appendImage(p.Images, str(record, "videoMeta.coverUrl", "videoMeta.originalCoverUrl"), common.TrustCover)
	for _, u := range strList(record, "covers") {
		p.Images = appendImage(p.Images, u, common.TrustCover)
	}
	for _, u := range strList(record, "imagePost.images", "images") {
		p.Images = appendImage(p.Images, u, common.TrustCarousel)
	}

	for _, c := range objList(record, "comments") {
		p.Comments = append(p.Comments, Comment{
			Owner: str(c, "uniqueId", "user.uniqueId", "author"),
			Text:  str(c, "text"),
		})
	}
	return p
}

type genericAdapter struct{}

func (genericAdapter) Name() string { return "generic" }

func (genericAdapter) CanHandle(map[string]any) bool { return true }

func (genericAdapter) Normalize(record map[string]any) *Post {
	p := &Post{
		Caption: str(record,
			"caption", "text", "description", "desc", "body", "content", "title", "edge_media_to_caption.edges.0.node.text"),
		VideoURL: str(record,
			"videoUrl", "video_url", "video", "videoSrc", "playUrl", "downloadUrl", "media.video", "video.url"),
		VideoDuration: num(record, "videoDuration", "duration", "video_duration", "length", "video.duration"),
		Author: common.Author{
			Handle:      str(record, "ownerUsername", "username", "author.username", "author.name", "author", "owner.username", "channel"),
			DisplayName: str(record, "ownerFullName", "authorName", "author.displayName", "author.fullName", "owner.full_name"),
			AvatarURL:   str(record, "ownerProfilePicUrl", "avatar", "author.avatar", "author.avatarUrl", "owner.profile_pic_url"),
		},
		Engagement: common.Engagement{
			Likes:    int64(num(record, "likesCount", "likes", "likeCount", "diggCount")),
			Comments: int64(num(record, "commentsCount", "commentCount", "comments_count")),
			Views:    int64(num(record, "viewCount", "views", "playCount", "videoViewCount")),
		},
	}

	p.Images = appendImage(p.Images,
		str(record, "displayUrl", "image", "imageUrl", "image_url", "thumbnail", "thumbnailUrl", "thumbnail_url", "coverUrl"),
		common.TrustPost)
	for _, u := range strList(record, "images", "imageUrls", "thumbnails") {
		p.Images = appendImage(p.Images, u, common.TrustCarousel)
	}

	for _, c := range objList(record, "latestComments", "comments", "topComments") {
		p.Comments = append(p.Comments, Comment{
			Owner: str(c, "ownerUsername", "username", "author", "owner.username"),
			Text:  str(c, "text", "body", "content"),
		})
	}
	return p
}

func appendImage(images []common.EvidenceImage, url string, tag common.ImageTrust) []common.EvidenceImage {
	url = strings.TrimSpace(url)
	if url == "" {
		return images
	}
	for _, img := range images {
		if img.URL == url {
			return images
		}
	}
	return append(images, common.EvidenceImage{URL: url, TrustTag: tag})
}

// lookup 以點號路徑讀取巢狀欄位，數字段落視為陣列索引
func lookup(record map[string]any, path string) (any, bool) {
	var cur any = record
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func has(record map[string]any, key string) bool {
	_, ok := lookup(record, key)
	return ok
}

// str 回傳第一個非空字串欄位
func str(record map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := lookup(record, k)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// num 回傳第一個可解析為數字的欄位
func num(record map[string]any, keys ...string) float64 {
	for _, k := range keys {
		v, ok := lookup(record, k)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// strList 讀取字串陣列；元素為物件時取 url 類欄位
func strList(record map[string]any, keys ...string) []string {
	for _, k := range keys {
		v, ok := lookup(record, k)
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				if u := str(it, "url", "displayUrl", "imageURL", "src"); u != "" {
					out = append(out, u)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func objList(record map[string]any, keys ...string) []map[string]any {
	for _, k := range keys {
		v, ok := lookup(record, k)
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
