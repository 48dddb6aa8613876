package yt

import (
	"os"
	"path/filepath"
	"time"

	"github.com/AnimeKaizoku/cacher"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/downloader"
)

// Strategy names as they appear in the download chain.
const (
	YtDlpName     = "yt-dlp"
	GalleryDlName = "gallery-dl"
)

type Options struct {
	YtDlp     string
	GalleryDl string
	// CookiesDir holds per-platform Netscape cookie files, see Platform.Cookies.
	CookiesDir string
	TempDir    string
	InfoTTL    time.Duration
	// Cache overrides the info cache; nil builds one with InfoTTL.
	Cache *cacher.Cacher[string, *Info]
	Log   *zap.Logger
}

// Tools wraps the external extractors. Media info lookups are cached per URL.
type Tools struct {
	ytdlp      string
	gallerydl  string
	cookiesDir string
	tempDir    string
	cache      *cacher.Cacher[string, *Info]
	log        *zap.Logger
}

func New(opts Options) *Tools {
	if opts.YtDlp == "" {
		opts.YtDlp = "yt-dlp"
	}
	if opts.GalleryDl == "" {
		opts.GalleryDl = "gallery-dl"
	}
	if opts.CookiesDir == "" {
		opts.CookiesDir = "./cookies"
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.InfoTTL <= 0 {
		opts.InfoTTL = 10 * time.Minute
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Cache == nil {
		opts.Cache = NewInfoCache(opts.InfoTTL)
	}
	return &Tools{
		ytdlp:      opts.YtDlp,
		gallerydl:  opts.GalleryDl,
		cookiesDir: opts.CookiesDir,
		tempDir:    opts.TempDir,
		cache:      opts.Cache,
		log:        opts.Log,
	}
}

func (t *Tools) YtDlpStrategy() downloader.Strategy {
	return downloader.Strategy{Name: YtDlpName, Timeout: 5 * time.Minute, Attempt: t.downloadYtdlp}
}

func (t *Tools) GalleryDlStrategy() downloader.Strategy {
	return downloader.Strategy{Name: GalleryDlName, Timeout: 2 * time.Minute, Attempt: t.downloadPhoto}
}

// cookiesFor returns the cookie file for the platform of url when one exists.
func (t *Tools) cookiesFor(url string) string {
	p, ok := DetectPlatform(url)
	if !ok || p.Cookies == "" {
		return ""
	}
	path := filepath.Join(t.cookiesDir, p.Cookies)
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return ""
	}
	return path
}
