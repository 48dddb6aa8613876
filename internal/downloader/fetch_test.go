package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher() *Fetcher {
	return NewFetcher(FetcherOptions{RateLimitDelay: 10 * time.Millisecond, MaxRateLimitDelay: 50 * time.Millisecond})
}

func TestFetcherRetriesRateLimitOnce(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testFetcher().GetPage(context.Background(), srv.URL, nil)

	require.ErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestFetcherRecoversAfterOneRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	page, err := testFetcher().GetPage(context.Background(), srv.URL, nil)

	require.NoError(t, err)
	assert.Equal(t, "hello", page.Body)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestFetcherCapsRetryAfter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	start := time.Now()
	_, err := testFetcher().GetPage(context.Background(), srv.URL, nil)

	require.ErrorIs(t, err, ErrRateLimited)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := testFetcher().GetPage(context.Background(), srv.URL, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestFetcherSendsHeaders(t *testing.T) {
	var ua, ref string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua, ref = r.UserAgent(), r.Header.Get("Referer")
	}))
	defer srv.Close()

	_, err := testFetcher().GetPage(context.Background(), srv.URL, map[string]string{"Referer": "https://origin.example/"})

	require.NoError(t, err)
	assert.Equal(t, UserAgent, ua)
	assert.Equal(t, "https://origin.example/", ref)
}

func TestFetcherPostFormResendsBody(t *testing.T) {
	var hits int32
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		got = append(got, r.PostForm.Get("url"))
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	_, err := testFetcher().PostForm(context.Background(), srv.URL, map[string][]string{"url": {"https://a.example/v"}}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/v", "https://a.example/v"}, got)
}

func TestStream(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 100*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	n, err := testFetcher().Stream(context.Background(), srv.URL, nil, dest)

	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStreamFailureLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	_, err := testFetcher().Stream(context.Background(), srv.URL, nil, dest)

	require.Error(t, err)
	assert.NoFileExists(t, dest)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}

func TestIsHTTPURL(t *testing.T) {
	assert.True(t, IsHTTPURL("https://www.youtube.com/watch?v=x"))
	assert.True(t, IsHTTPURL(" http://a.b/c "))
	assert.False(t, IsHTTPURL("youtube.com/watch"))
	assert.False(t, IsHTTPURL("https://"))
	assert.False(t, IsHTTPURL("mailto:a@b.c"))
}
