package yt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AnimeKaizoku/cacher"
)

// Info is the subset of yt-dlp -j output used for captions.
type Info struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
	Extractor  string  `json:"extractor_key"`
	IsLive     bool    `json:"is_live"`
	WasLive    bool    `json:"was_live"`
}

// NewInfoCache builds the per-URL media info cache. Entries expire after ttl.
func NewInfoCache(ttl time.Duration) *cacher.Cacher[string, *Info] {
	return cacher.NewCacher[string, *Info](&cacher.NewCacherOpts{
		TimeToLive:    ttl,
		CleanInterval: ttl,
	})
}

// Info returns metadata for url, from cache when fresh.
func (t *Tools) Info(ctx context.Context, url string) (*Info, error) {
	if info, ok := t.cache.Get(url); ok {
		return info, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	args := []string{"-j", "--no-playlist", "--skip-download", "--no-warnings"}
	if cookies := t.cookiesFor(url); cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	out, err := t.runToolStdout(ctx, t.ytdlp, append(args, url)...)
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	t.cache.Set(url, &info)
	return &info, nil
}
