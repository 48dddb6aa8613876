package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/media"
)

// Remuxer turns an HLS manifest into a single local file.
type Remuxer interface {
	Remux(ctx context.Context, manifestURL, refererURL string, kind media.Kind) media.DownloadResult
}

// Backend is a third-party converter site: the source URL goes in as a query
// or form parameter and a JSON or HTML answer with a media link comes back.
type Backend struct {
	Name     string            `mapstructure:"name"`
	Endpoint string            `mapstructure:"endpoint"`
	Method   string            `mapstructure:"method"`
	Param    string            `mapstructure:"param"`
	Referer  string            `mapstructure:"referer"`
	Extra    map[string]string `mapstructure:"extra"`
	Timeout  time.Duration     `mapstructure:"timeout"`
}

// Scraper builds the HTTP based strategies. They share one Fetcher and write
// into one temp directory.
type Scraper struct {
	fetcher *Fetcher
	remuxer Remuxer
	tempDir string
	log     *zap.Logger
}

func NewScraper(fetcher *Fetcher, remuxer Remuxer, tempDir string, log *zap.Logger) *Scraper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scraper{fetcher: fetcher, remuxer: remuxer, tempDir: tempDir, log: log}
}

func (s *Scraper) Backend(b Backend) Strategy {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return Strategy{
		Name:    b.Name,
		Timeout: timeout,
		Attempt: func(ctx context.Context, sourceURL string, kind media.Kind) media.DownloadResult {
			return s.attemptBackend(ctx, b, sourceURL, kind)
		},
	}
}

// Page scrapes the source page itself and prefers direct files.
func (s *Scraper) Page() Strategy {
	return Strategy{
		Name:    "page",
		Timeout: 60 * time.Second,
		Attempt: func(ctx context.Context, sourceURL string, kind media.Kind) media.DownloadResult {
			return s.attemptPage(ctx, sourceURL, kind, false)
		},
	}
}

// Stream scrapes the source page for a manifest and remuxes it.
func (s *Scraper) Stream() Strategy {
	return Strategy{
		Name:    "stream",
		Timeout: 5 * time.Minute,
		Attempt: func(ctx context.Context, sourceURL string, kind media.Kind) media.DownloadResult {
			return s.attemptPage(ctx, sourceURL, kind, true)
		},
	}
}

func (s *Scraper) attemptBackend(ctx context.Context, b Backend, sourceURL string, kind media.Kind) media.DownloadResult {
	param := b.Param
	if param == "" {
		param = "url"
	}
	headers := map[string]string{"Accept": "application/json, text/html;q=0.9, */*;q=0.8"}
	if b.Referer != "" {
		headers["Referer"] = b.Referer
		if u, err := url.Parse(b.Referer); err == nil && u.Host != "" {
			headers["Origin"] = u.Scheme + "://" + u.Host
		}
	}

	form := url.Values{}
	form.Set(param, sourceURL)
	for k, v := range b.Extra {
		form.Set(k, v)
	}

	var (
		page *Page
		err  error
	)
	if strings.EqualFold(b.Method, http.MethodPost) {
		page, err = s.fetcher.PostForm(ctx, b.Endpoint, form, headers)
	} else {
		endpoint, perr := url.Parse(b.Endpoint)
		if perr != nil {
			return media.Failed(fmt.Errorf("backend %s: %w", b.Name, perr))
		}
		q := endpoint.Query()
		for k, vs := range form {
			q[k] = vs
		}
		endpoint.RawQuery = q.Encode()
		page, err = s.fetcher.GetPage(ctx, endpoint.String(), headers)
	}
	if err != nil {
		return media.Failed(err)
	}

	links, isJSON, err := ExtractJSON(page.Body, page.URL, kind)
	if err != nil {
		return media.Failed(err)
	}
	if !isJSON {
		links = ExtractHTML(page.Body, page.URL, true)
	}

	referer := b.Referer
	if referer == "" {
		referer = b.Endpoint
	}
	return s.fetchLink(ctx, links, referer, kind, b.Name, false)
}

func (s *Scraper) attemptPage(ctx context.Context, sourceURL string, kind media.Kind, manifestOnly bool) media.DownloadResult {
	page, err := s.fetcher.GetPage(ctx, sourceURL, map[string]string{
		"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	})
	if err != nil {
		return media.Failed(err)
	}
	links := ExtractHTML(page.Body, page.URL, false)
	if manifestOnly {
		filtered := links[:0:0]
		for _, l := range links {
			if l.Manifest {
				filtered = append(filtered, l)
			}
		}
		links = filtered
	}
	prefix := "page"
	if manifestOnly {
		prefix = "stream"
	}
	return s.fetchLink(ctx, links, sourceURL, kind, prefix, manifestOnly)
}

func (s *Scraper) fetchLink(ctx context.Context, links []Link, referer string, kind media.Kind, prefix string, preferManifest bool) media.DownloadResult {
	link, ok := PickLink(links, kind, preferManifest)
	if !ok {
		return media.Failed(fmt.Errorf("%w for %s (%d candidates)", ErrNoMedia, kind, len(links)))
	}
	s.log.Debug("media link", zap.String("source", prefix), zap.String("link", link.URL), zap.Bool("manifest", link.Manifest))

	if link.Manifest {
		if s.remuxer == nil {
			return media.Failed(fmt.Errorf("%w: manifest found but no remuxer configured", ErrNoMedia))
		}
		return s.remuxer.Remux(ctx, link.URL, referer, kind)
	}

	ext := kind.DefaultExt()
	if u, err := url.Parse(link.URL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e != "" && (kind == media.Document || kind.Accepts(media.KindFromPath(e))) {
			ext = e
		}
	}
	dest := media.TempPath(s.tempDir, safePrefix(prefix), ext)
	n, err := s.fetcher.Stream(ctx, link.URL, map[string]string{"Referer": referer}, dest)
	if err != nil {
		return media.Failed(err)
	}
	if n < media.MinFileSize {
		_ = media.Remove(dest)
		return media.Failed(fmt.Errorf("%w: %d bytes from %s", media.ErrTooSmall, n, link.URL))
	}
	got := link.Kind
	if kind == media.Document {
		got = media.Document
	}
	return media.Succeeded(dest, got)
}

func safePrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "dl"
	}
	return b.String()
}
