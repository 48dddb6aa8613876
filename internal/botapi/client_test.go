package botapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Geergon/media-relay-bot/internal/media"
)

const token = "123:abc"

// fakeAPI records every Bot API method called and answers with canned replies.
type fakeAPI struct {
	mu        sync.Mutex
	calls     []string
	limitLeft map[string]int
	fail      map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	f.mu.Lock()
	f.calls = append(f.calls, method)
	limited := f.limitLeft[method] > 0
	if limited {
		f.limitLeft[method]--
	}
	failure := f.fail[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case method == "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"relay","username":"relay_bot"}}`))
	case limited:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`))
	case failure != "":
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": failure})
	case method == "sendMediaGroup":
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}]}`))
	case method == "deleteMessage", method == "answerCallbackQuery":
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}
}

func (f *fakeAPI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[1:]...)
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	if api.limitLeft == nil {
		api.limitLeft = map[string]int{}
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := New(Options{
		Token:        token,
		Endpoint:     srv.URL + "/bot%s/%s",
		MaxRetryWait: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestSendMessage(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	id, err := c.SendMessage(context.Background(), 42, "<b>hi</b>")

	require.NoError(t, err)
	assert.Equal(t, 7, id)
	assert.Equal(t, []string{"sendMessage"}, api.methods())
	assert.Equal(t, "relay_bot", c.Self().UserName)
}

func TestRateLimitRetriedOnce(t *testing.T) {
	api := &fakeAPI{limitLeft: map[string]int{"sendMessage": 1}}
	c := newTestClient(t, api)

	err := c.SendText(context.Background(), 42, "hello")

	require.NoError(t, err)
	assert.Equal(t, []string{"sendMessage", "sendMessage"}, api.methods())
}

func TestRateLimitTwiceFails(t *testing.T) {
	api := &fakeAPI{limitLeft: map[string]int{"sendMessage": 5}}
	c := newTestClient(t, api)

	err := c.SendText(context.Background(), 42, "hello")

	require.Error(t, err)
	_, limited := retryAfter(err)
	assert.True(t, limited)
	assert.Len(t, api.methods(), 2)
}

func TestSendFileByKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o600))

	tests := []struct {
		kind   media.Kind
		method string
	}{
		{media.Video, "sendVideo"},
		{media.Audio, "sendAudio"},
		{media.Photo, "sendPhoto"},
		{media.Document, "sendDocument"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			api := &fakeAPI{}
			c := newTestClient(t, api)

			require.NoError(t, c.SendFile(context.Background(), 42, path, tt.kind, "caption"))
			assert.Equal(t, []string{tt.method}, api.methods())
		})
	}
}

func TestSendURLError(t *testing.T) {
	api := &fakeAPI{fail: map[string]string{"sendVideo": "Bad Request: wrong file identifier/HTTP URL specified"}}
	c := newTestClient(t, api)

	err := c.SendURL(context.Background(), 42, "https://cdn.example/v.mp4", media.Video, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong file identifier")
}

func TestEditIgnoresNotModified(t *testing.T) {
	api := &fakeAPI{fail: map[string]string{"editMessageText": "Bad Request: message is not modified"}}
	c := newTestClient(t, api)

	assert.NoError(t, c.EditText(context.Background(), 42, 7, "same"))
}

func TestSendPhotosChunksAlbums(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 12; i++ {
		p := filepath.Join(dir, "p"+string(rune('a'+i))+".jpg")
		require.NoError(t, os.WriteFile(p, make([]byte, 2048), 0o600))
		paths = append(paths, p)
	}
	api := &fakeAPI{}
	c := newTestClient(t, api)

	require.NoError(t, c.SendPhotos(context.Background(), 42, paths, "album"))
	assert.Equal(t, []string{"sendMediaGroup", "sendMediaGroup"}, api.methods())
}

func TestDeleteAndCallback(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	require.NoError(t, c.Delete(context.Background(), 42, 7))
	require.NoError(t, c.AnswerCallback(context.Background(), "cb", "ok"))
	assert.Equal(t, []string{"deleteMessage", "answerCallbackQuery"}, api.methods())
}
