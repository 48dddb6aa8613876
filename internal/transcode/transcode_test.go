package transcode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Geergon/media-relay-bot/internal/media"
)

// script writes an executable shell stand-in for a media tool. Every call
// appends its arguments to calls.log in the same directory.
func script(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stand-ins need a POSIX shell")
	}
	p := filepath.Join(dir, name)
	content := "#!/bin/sh\nprintf '%s\\n' \"$(echo \"$*\" | tr '\\r\\n' '  ')\" >> \"" + filepath.Join(dir, "calls.log") + "\"\n" + body + "\n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0o755))
	return p
}

func calls(t *testing.T, dir string) []string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

// fakeFFmpeg writes bigBytes to its last argument, or smallBytes when the
// 480p pass is requested.
func fakeFFmpeg(t *testing.T, dir string, bigBytes, smallBytes int) string {
	return script(t, dir, "ffmpeg", fmt.Sprintf(`for a; do out=$a; done
case "$*" in
  *"min(480"*) head -c %d /dev/zero > "$out" ;;
  *) head -c %d /dev/zero > "$out" ;;
esac`, smallBytes, bigBytes))
}

func fakeFFprobe(t *testing.T, dir, duration string) string {
	return script(t, dir, "ffprobe", "echo "+duration)
}

func TestVideoBitrate(t *testing.T) {
	assert.Equal(t, 6425, VideoBitrate(48, 60))
	assert.Equal(t, 527, VideoBitrate(48, 600))
	assert.Equal(t, minVideoKbps, VideoBitrate(48, 3600))
}

func TestCompressSinglePass(t *testing.T) {
	tools, out := t.TempDir(), t.TempDir()
	c := NewCompressor(CompressorOptions{
		FFmpeg:  fakeFFmpeg(t, tools, 10_000, 5_000),
		FFprobe: fakeFFprobe(t, tools, "60.0"),
		TempDir: out,
	})

	path, err := c.Compress(context.Background(), "/in/video.mp4", 0.05)

	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 10_000, fi.Size())
	log := calls(t, tools)
	require.Len(t, log, 2, "one probe and one encode")
	assert.Contains(t, log[1], "min(720,ih)")
	assert.Contains(t, log[1], "-b:v 300k")
}

func TestCompressSecondPass(t *testing.T) {
	tools, out := t.TempDir(), t.TempDir()
	c := NewCompressor(CompressorOptions{
		FFmpeg:  fakeFFmpeg(t, tools, 100_000, 20_000),
		FFprobe: fakeFFprobe(t, tools, "60.0"),
		TempDir: out,
	})

	path, err := c.Compress(context.Background(), "/in/video.mp4", 0.05)

	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 20_000, fi.Size())
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "first pass output is removed")
}

func TestCompressReturnsOversizedSecondPass(t *testing.T) {
	tools, out := t.TempDir(), t.TempDir()
	c := NewCompressor(CompressorOptions{
		FFmpeg:  fakeFFmpeg(t, tools, 100_000, 90_000),
		FFprobe: fakeFFprobe(t, tools, "60.0"),
		TempDir: out,
	})

	path, err := c.Compress(context.Background(), "/in/video.mp4", 0.05)

	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 90_000, fi.Size())
	log := calls(t, tools)
	assert.Len(t, log, 3, "probe plus exactly two encodes")
	assert.Contains(t, log[2], "min(480,ih)")
	assert.Contains(t, log[2], "-b:v 300k", "second pass keeps the bitrate floor")
}

func TestCompressSecondPassHalvesBitrate(t *testing.T) {
	tools, out := t.TempDir(), t.TempDir()
	c := NewCompressor(CompressorOptions{
		FFmpeg:  fakeFFmpeg(t, tools, 100_000, 90_000),
		FFprobe: fakeFFprobe(t, tools, "0.5"),
		TempDir: out,
	})

	_, err := c.Compress(context.Background(), "/in/video.mp4", 0.0625)

	require.NoError(t, err)
	log := calls(t, tools)
	require.Len(t, log, 3)
	assert.Contains(t, log[1], "-b:v 896k")
	assert.Contains(t, log[2], "-b:v 448k")
}

func TestCompressBadDuration(t *testing.T) {
	tools := t.TempDir()
	c := NewCompressor(CompressorOptions{
		FFmpeg:  fakeFFmpeg(t, tools, 1, 1),
		FFprobe: fakeFFprobe(t, tools, "N/A"),
		TempDir: t.TempDir(),
	})

	_, err := c.Compress(context.Background(), "/in/video.mp4", 48)

	require.ErrorIs(t, err, ErrNoDuration)
	assert.Len(t, calls(t, tools), 1, "ffmpeg never runs")
}

func TestCompressTimeoutCleansUp(t *testing.T) {
	tools, out := t.TempDir(), t.TempDir()
	c := NewCompressor(CompressorOptions{
		FFmpeg: script(t, tools, "ffmpeg", `for a; do out=$a; done
head -c 5000 /dev/zero > "$out"
exec sleep 10`),
		FFprobe: fakeFFprobe(t, tools, "60.0"),
		TempDir: out,
		Timeout: 300 * time.Millisecond,
	})

	_, err := c.Compress(context.Background(), "/in/video.mp4", 48)

	require.ErrorIs(t, err, ErrTimeout)
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.0,
seg0.ts
#EXTINF:10.0,
seg1.ts
#EXT-X-ENDLIST
`

const masterWithAudioGroup = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio/index.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=900000,RESOLUTION=640x360,AUDIO="aac"
video360/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720,AUDIO="aac"
video720/index.m3u8
`

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
high/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=854x480
mid/index.m3u8
`

func hlsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, masterPlaylist)
	})
	mux.HandleFunc("/hls/split.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, masterWithAudioGroup)
	})
	mux.HandleFunc("/hls/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, mediaPlaylist)
	})
	mux.HandleFunc("/hls/error.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "<html>Access denied</html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemuxPicksHighestVariant(t *testing.T) {
	srv := hlsServer(t)
	tools, out := t.TempDir(), t.TempDir()
	r := NewRemuxer(RemuxerOptions{FFmpeg: fakeFFmpeg(t, tools, 4096, 4096), TempDir: out})

	res := r.Remux(context.Background(), srv.URL+"/hls/master.m3u8", "https://site.example/watch", media.Video)

	require.True(t, res.Success, res.Err)
	assert.Equal(t, media.Video, res.Kind)
	assert.Equal(t, ".mp4", filepath.Ext(res.Path))
	log := calls(t, tools)
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "-i "+srv.URL+"/hls/high/index.m3u8")
	assert.Contains(t, log[0], "Referer: https://site.example/watch")
	assert.Contains(t, log[0], "-c copy")
}

func TestRemuxAudio(t *testing.T) {
	srv := hlsServer(t)
	tools := t.TempDir()
	r := NewRemuxer(RemuxerOptions{FFmpeg: fakeFFmpeg(t, tools, 4096, 4096), TempDir: t.TempDir()})

	res := r.Remux(context.Background(), srv.URL+"/hls/index.m3u8", "", media.Audio)

	require.True(t, res.Success, res.Err)
	assert.Equal(t, media.Audio, res.Kind)
	assert.Equal(t, ".m4a", filepath.Ext(res.Path))
	log := calls(t, tools)
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "-vn")
	assert.Contains(t, log[0], "aac_adtstoasc")
}

func TestRemuxSeparateAudioRendition(t *testing.T) {
	srv := hlsServer(t)

	t.Run("video maps both renditions", func(t *testing.T) {
		tools := t.TempDir()
		r := NewRemuxer(RemuxerOptions{FFmpeg: fakeFFmpeg(t, tools, 4096, 4096), TempDir: t.TempDir()})

		res := r.Remux(context.Background(), srv.URL+"/hls/split.m3u8", "", media.Video)

		require.True(t, res.Success, res.Err)
		log := calls(t, tools)
		require.Len(t, log, 1)
		assert.Contains(t, log[0], "-i "+srv.URL+"/hls/video720/index.m3u8")
		assert.Contains(t, log[0], "-i "+srv.URL+"/hls/audio/index.m3u8")
		assert.Contains(t, log[0], "-map 0:v:0 -map 1:a:0")
		assert.Equal(t, 2, strings.Count(log[0], "-user_agent "), "each input carries the user agent")
	})

	t.Run("audio reads the audio rendition", func(t *testing.T) {
		tools := t.TempDir()
		r := NewRemuxer(RemuxerOptions{FFmpeg: fakeFFmpeg(t, tools, 4096, 4096), TempDir: t.TempDir()})

		res := r.Remux(context.Background(), srv.URL+"/hls/split.m3u8", "", media.Audio)

		require.True(t, res.Success, res.Err)
		assert.Equal(t, ".m4a", filepath.Ext(res.Path))
		log := calls(t, tools)
		require.Len(t, log, 1)
		assert.Contains(t, log[0], "-i "+srv.URL+"/hls/audio/index.m3u8")
		assert.NotContains(t, log[0], "video720")
		assert.Contains(t, log[0], "-vn")
	})
}

func TestRemuxRejectsNonManifest(t *testing.T) {
	srv := hlsServer(t)
	tools := t.TempDir()
	r := NewRemuxer(RemuxerOptions{FFmpeg: fakeFFmpeg(t, tools, 4096, 4096), TempDir: t.TempDir()})

	res := r.Remux(context.Background(), srv.URL+"/hls/error.m3u8", "", media.Video)

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrBadManifest)
	assert.Empty(t, calls(t, tools), "ffmpeg never runs")
}

func TestRemuxFailureRemovesPartialOutput(t *testing.T) {
	srv := hlsServer(t)
	tools, out := t.TempDir(), t.TempDir()
	r := NewRemuxer(RemuxerOptions{
		FFmpeg: script(t, tools, "ffmpeg", `for a; do out=$a; done
head -c 4096 /dev/zero > "$out"
echo "Server returned 403 Forbidden" >&2
exit 1`),
		TempDir: out,
	})

	res := r.Remux(context.Background(), srv.URL+"/hls/index.m3u8", "", media.Video)

	require.False(t, res.Success)
	assert.Contains(t, res.Err.Error(), "403")
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
