package yt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/downloader"
	"github.com/Geergon/media-relay-bot/internal/media"
)

var ErrUnsupportedKind = errors.New("media kind not supported by this extractor")

const waitDelay = 2 * time.Second

// runTool runs an extractor and logs its output on failure.
func (t *Tools) runTool(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	name := filepath.Base(bin)
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		t.log.Warn("extractor failed", zap.String("tool", name), zap.Error(err), zap.String("output", lastLines(out, 5)))
		return out, fmt.Errorf("%s: %w: %s", name, err, lastLines(out, 1))
	}
	return out, nil
}

// runToolStdout is runTool for machine-readable output: stderr notices are kept
// out of the result and only reported on failure.
func (t *Tools) runToolStdout(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	name := filepath.Base(bin)
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		t.log.Warn("extractor failed", zap.String("tool", name), zap.Error(err), zap.String("output", lastLines(stderr.Bytes(), 5)))
		return out, fmt.Errorf("%s: %w: %s", name, err, lastLines(stderr.Bytes(), 1))
	}
	if stderr.Len() > 0 {
		t.log.Debug("extractor stderr", zap.String("tool", name), zap.String("output", lastLines(stderr.Bytes(), 3)))
	}
	return out, nil
}

func lastLines(b []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func ytdlpArgs(url, template string, kind media.Kind, cookies string, extra ...string) []string {
	args := []string{
		"--no-playlist",
		"--no-check-certificates",
		"--geo-bypass",
		"--no-warnings",
		"--socket-timeout", "30",
		"--retries", "5",
		"--user-agent", downloader.UserAgent,
		"--referer", url,
		"--output", template,
	}
	switch kind {
	case media.Audio:
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", "0")
	default:
		args = append(args,
			"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/bestvideo+bestaudio/best",
			"--merge-output-format", "mp4")
	}
	if cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	args = append(args, extra...)
	return append(args, url)
}

func (t *Tools) downloadYtdlp(ctx context.Context, url string, kind media.Kind) media.DownloadResult {
	return t.ytdlpDownload(ctx, url, kind)
}

var sectionRe = regexp.MustCompile(`^\d{1,2}(:\d{2}){1,2}-\d{1,2}(:\d{2}){1,2}$`)

// ValidSection reports whether s looks like 05:00-07:00 or 01:01:00-01:03:00.
func ValidSection(s string) bool {
	return sectionRe.MatchString(s)
}

// Fragment downloads only the section of a video, e.g. "05:00-07:00".
func (t *Tools) Fragment(ctx context.Context, url, section string) media.DownloadResult {
	if !ValidSection(section) {
		return media.Failed(fmt.Errorf("invalid section %q", section))
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	return t.ytdlpDownload(ctx, url, media.Video, "--download-sections", "*"+section)
}

func (t *Tools) ytdlpDownload(ctx context.Context, url string, kind media.Kind, extra ...string) media.DownloadResult {
	if kind == media.Photo {
		return media.Failed(fmt.Errorf("yt-dlp: %w: %s", ErrUnsupportedKind, kind))
	}

	name := media.TempName("ytdlp")
	template := filepath.Join(t.tempDir, name+".%(ext)s")
	pattern := filepath.Join(t.tempDir, name+".*")

	if _, err := t.runTool(ctx, t.ytdlp, ytdlpArgs(url, template, kind, t.cookiesFor(url), extra...)...); err != nil {
		removeMatches(pattern, "")
		return media.Failed(err)
	}

	path := pickOutput(pattern, kind)
	removeMatches(pattern, path)
	if path == "" {
		return media.Failed(fmt.Errorf("yt-dlp finished but produced no %s file", kind))
	}
	t.log.Info("yt-dlp download finished", zap.String("url", url), zap.String("file", filepath.Base(path)))
	return media.Succeeded(path, media.KindFromPath(path))
}

// pickOutput chooses the produced file, preferring the extensions of kind and
// skipping partial downloads and thumbnails.
func pickOutput(pattern string, kind media.Kind) string {
	matches, _ := filepath.Glob(pattern)
	var candidates []string
	for _, m := range matches {
		ext := strings.ToLower(filepath.Ext(m))
		if ext == ".part" || ext == ".ytdl" || ext == ".temp" {
			continue
		}
		if kind != media.Photo && media.KindFromPath(m) == media.Photo {
			continue
		}
		candidates = append(candidates, m)
	}
	for _, ext := range kind.Extensions() {
		for _, c := range candidates {
			if strings.EqualFold(filepath.Ext(c), ext) {
				return c
			}
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func removeMatches(pattern, keep string) {
	matches, _ := filepath.Glob(pattern)
	for _, m := range matches {
		if m != keep {
			_ = media.Remove(m)
		}
	}
}
