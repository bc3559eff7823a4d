package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectContentType(t *testing.T) {
	tests := map[string]ContentType{
		"https://www.instagram.com/reel/Cx1/":          ContentVideo,
		"https://www.instagram.com/reels/Cx1":          ContentVideo,
		"https://www.instagram.com/tv/Cx1/?igsh=abc":   ContentVideo,
		"https://www.tiktok.com/@chef/video/7301":      ContentVideo,
		"https://www.youtube.com/shorts/abc":           ContentVideo,
		"https://www.instagram.com/p/Cx1/":             ContentPost,
		"https://www.instagram.com/p/Cx1/?img_index=2": ContentPost,
		"https://example.com/reelish/recipe":           ContentPost,
	}
	for url, want := range tests {
		assert.Equal(t, want, DetectContentType(url), url)
	}
}

func TestPlatform(t *testing.T) {
	assert.Equal(t, "instagram", Platform("https://www.instagram.com/p/1"))
	assert.Equal(t, "tiktok", Platform("https://vm.tiktok.com/ZM1"))
	assert.Equal(t, "youtube", Platform("https://youtu.be/abc"))
	assert.Equal(t, "other", Platform("https://example.com"))
}

func TestImageValidator(t *testing.T) {
	v := NewImageValidator([]string{"cdninstagram.com", ".fbcdn.net", " "})
	tests := []struct {
		url  string
		want bool
	}{
		{"https://scontent-lax3-1.cdninstagram.com/v/t51/dish.jpg?stp=dst", true},
		{"https://cdninstagram.com/dish.jpg", true},
		{"http://video.fbcdn.net/a.webp", true},
		{"https://evilcdninstagram.com/dish.jpg", false},
		{"https://example.com/dish.jpg", false},
		{"ftp://scontent.cdninstagram.com/dish.jpg", false},
		{"https://scontent.cdninstagram.com/v/t51/s150x150/avatar.jpg", false},
		{"https://scontent.cdninstagram.com/static/sprite.png", false},
		{"https://scontent.cdninstagram.com/v/logo.svg", false},
		{"https://scontent.cdninstagram.com/v/anim.gif", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, v.Allowed(tt.url), tt.url)
	}
}

func TestLinkExpiry(t *testing.T) {
	fetched := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	// 0x6710AB00 = 1729145600
	assert.Equal(t, time.Unix(0x6710AB00, 0).UTC(), LinkExpiry("https://cdn/x.mp4?oe=6710AB00&_nc=1", fetched, time.Hour))
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), LinkExpiry("https://tiktokcdn.com/x?x-expires=1760000000", fetched, time.Hour))
	assert.Equal(t, fetched.Add(time.Hour), LinkExpiry("https://cdn/x.mp4?oe=zz", fetched, time.Hour))
	assert.True(t, LinkExpiry("https://cdn/x.mp4", fetched, 0).IsZero())
}
