package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/media"
)

const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const (
	streamBufferSize = 32 * media.KB
	maxPageSize      = 8 * media.MB
)

var (
	ErrRateLimited = errors.New("rate limited by upstream, try again later")
	ErrInvalidURL  = errors.New("not an http(s) url")
)

type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

type FetcherOptions struct {
	Client *http.Client
	// RateLimitDelay is the wait before the single retry after a 429 without Retry-After.
	RateLimitDelay time.Duration
	// MaxRateLimitDelay caps a server supplied Retry-After.
	MaxRateLimitDelay time.Duration
	Log               *zap.Logger
}

// Fetcher is the HTTP side of every scraper strategy.
type Fetcher struct {
	client            *http.Client
	rateLimitDelay    time.Duration
	maxRateLimitDelay time.Duration
	log               *zap.Logger
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	f := &Fetcher{
		client:            opts.Client,
		rateLimitDelay:    opts.RateLimitDelay,
		maxRateLimitDelay: opts.MaxRateLimitDelay,
		log:               opts.Log,
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 5 * time.Minute}
	}
	if f.rateLimitDelay <= 0 {
		f.rateLimitDelay = 2 * time.Second
	}
	if f.maxRateLimitDelay <= 0 {
		f.maxRateLimitDelay = 30 * time.Second
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	return f
}

func IsHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// retryAfter is a backoff.BackOff that waits for whatever the last 429 asked for.
type retryAfter struct {
	fallback time.Duration
	max      time.Duration
	hint     time.Duration
}

func (r *retryAfter) NextBackOff() time.Duration {
	d := r.fallback
	if r.hint > 0 {
		d = r.hint
	}
	if d > r.max {
		d = r.max
	}
	return d
}

func (r *retryAfter) Reset() { r.hint = 0 }

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

// do sends a request, retrying exactly once after a 429. A second 429 returns
// ErrRateLimited. Non-2xx responses come back as *StatusError with the body closed.
func (f *Fetcher) do(ctx context.Context, build requestBuilder) (*http.Response, error) {
	wait := &retryAfter{fallback: f.rateLimitDelay, max: f.maxRateLimitDelay}
	var resp *http.Response

	op := func() error {
		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := f.client.Do(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		if r.StatusCode == http.StatusTooManyRequests {
			wait.hint = parseRetryAfter(r.Header.Get("Retry-After"))
			drainAndClose(r.Body)
			f.log.Warn("rate limited", zap.String("url", req.URL.String()), zap.Duration("retry_after", wait.NextBackOff()))
			return fmt.Errorf("%w: %s", ErrRateLimited, req.URL.Host)
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			drainAndClose(r.Body)
			return backoff.Permanent(&StatusError{URL: req.URL.String(), Code: r.StatusCode})
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(wait, 1), ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*media.KB))
	_ = body.Close()
}

func newRequest(method, rawURL string, body io.Reader, headers map[string]string) requestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}
}

// Page is a fetched text document (HTML or JSON).
type Page struct {
	URL         string
	ContentType string
	Body        string
}

func (f *Fetcher) readPage(ctx context.Context, build requestBuilder) (*Page, error) {
	resp, err := f.do(ctx, build)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", resp.Request.URL, err)
	}
	return &Page{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        string(b),
	}, nil
}

func (f *Fetcher) GetPage(ctx context.Context, rawURL string, headers map[string]string) (*Page, error) {
	return f.readPage(ctx, newRequest(http.MethodGet, rawURL, nil, headers))
}

// PostForm re-encodes the form on every attempt since a request body can only be read once.
func (f *Fetcher) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*Page, error) {
	encoded := form.Encode()
	return f.readPage(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := newRequest(http.MethodPost, rawURL, strings.NewReader(encoded), headers)(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// Stream downloads rawURL into dest through a fixed-size buffer. dest is removed
// on every error path.
func (f *Fetcher) Stream(ctx context.Context, rawURL string, headers map[string]string, dest string) (int64, error) {
	resp, err := f.do(ctx, newRequest(http.MethodGet, rawURL, nil, headers))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	n, err := io.CopyBuffer(out, resp.Body, make([]byte, streamBufferSize))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = media.Remove(dest)
		return 0, fmt.Errorf("stream %s: %w", rawURL, err)
	}

	f.log.Debug("streamed", zap.String("url", rawURL), zap.String("size", humanize.IBytes(uint64(n))))
	return n, nil
}
