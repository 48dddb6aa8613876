package yt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractURL(t *testing.T) {
	tests := []struct {
		text     string
		url      string
		platform string
		ok       bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "YouTube", true},
		{"look youtu.be/dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", "YouTube", true},
		{"https://youtube.com/shorts/abc123", "https://youtube.com/shorts/abc123", "YouTube", true},
		{"https://vm.tiktok.com/ZMabc123/", "https://vm.tiktok.com/ZMabc123/", "TikTok", true},
		{"https://www.instagram.com/reel/C1a2b3/ nice", "https://www.instagram.com/reel/C1a2b3/", "Instagram", true},
		{"https://x.com/user/status/1234567890", "https://x.com/user/status/1234567890", "Twitter", true},
		{"see https://cdn.example.org/v.mp4.", "https://cdn.example.org/v.mp4", "", true},
		{"no links here", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			url, platform, ok := ExtractURL(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.url, url)
			assert.Equal(t, tt.platform, platform)
		})
	}
}

func TestDetectPlatform(t *testing.T) {
	p, ok := DetectPlatform("https://www.tiktok.com/@someone/video/7300000000000000000")
	assert.True(t, ok)
	assert.Equal(t, "TikTok", p.Name)
	assert.Equal(t, "cookiesTT.txt", p.Cookies)

	_, ok = DetectPlatform("https://example.com/")
	assert.False(t, ok)
}
