package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/media"
)

const (
	audioKbps    = 128
	minVideoKbps = 300
)

var ErrNoDuration = errors.New("could not determine media duration")

type CompressorOptions struct {
	FFmpeg  string
	FFprobe string
	TempDir string
	Timeout time.Duration
	Log     *zap.Logger
}

// Compressor re-encodes a video to fit under a size target in at most two passes.
type Compressor struct {
	ffmpeg  string
	ffprobe string
	tempDir string
	timeout time.Duration
	log     *zap.Logger
}

func NewCompressor(opts CompressorOptions) *Compressor {
	c := &Compressor{
		ffmpeg:  opts.FFmpeg,
		ffprobe: opts.FFprobe,
		tempDir: opts.TempDir,
		timeout: opts.Timeout,
		log:     opts.Log,
	}
	if c.ffmpeg == "" {
		c.ffmpeg = "ffmpeg"
	}
	if c.ffprobe == "" {
		c.ffprobe = "ffprobe"
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Minute
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// VideoBitrate is the video kbit/s that makes duration seconds of media fit in
// targetMB, leaving room for the audio track.
func VideoBitrate(targetMB, duration float64) int {
	total := targetMB * 8 * 1024 / duration
	v := int(total) - audioKbps
	if v < minVideoKbps {
		v = minVideoKbps
	}
	return v
}

// Compress returns the path of a new, smaller file. The second pass is returned
// even if it is still over target; the caller decides whether it fits.
func (c *Compressor) Compress(ctx context.Context, inputPath string, targetMB float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	duration, err := c.probeDuration(ctx, inputPath)
	if err != nil {
		return "", err
	}
	bitrate := VideoBitrate(targetMB, duration)
	target := int64(targetMB * media.MB)

	first, err := c.pass(ctx, inputPath, bitrate, 720)
	if err != nil {
		return "", err
	}
	size, err := fileSize(first)
	if err != nil {
		_ = media.Remove(first)
		return "", err
	}
	c.log.Info("compressed",
		zap.Int("pass", 1),
		zap.Int("kbps", bitrate),
		zap.String("size", humanize.IBytes(uint64(size))),
		zap.String("target", humanize.IBytes(uint64(target))))
	if size <= target {
		return first, nil
	}
	_ = media.Remove(first)

	secondRate := max(bitrate/2, minVideoKbps)
	second, err := c.pass(ctx, inputPath, secondRate, 480)
	if err != nil {
		return "", err
	}
	if size, err := fileSize(second); err == nil {
		c.log.Info("compressed", zap.Int("pass", 2), zap.Int("kbps", secondRate), zap.String("size", humanize.IBytes(uint64(size))))
	}
	return second, nil
}

func (c *Compressor) pass(ctx context.Context, input string, kbps, height int) (string, error) {
	out := media.TempPath(c.tempDir, "compressed", ".mp4")
	rate := strconv.Itoa(kbps) + "k"
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-c:v", "libx264", "-preset", "veryfast",
		"-b:v", rate, "-maxrate", rate, "-bufsize", strconv.Itoa(kbps*2) + "k",
		"-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", height),
		"-c:a", "aac", "-b:a", strconv.Itoa(audioKbps) + "k",
		"-movflags", "+faststart",
		out,
	}
	if _, err := run(ctx, c.log, c.ffmpeg, args...); err != nil {
		_ = media.Remove(out)
		return "", fmt.Errorf("compress: %w", err)
	}
	return out, nil
}

func (c *Compressor) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := run(ctx, c.log, c.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoDuration, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoDuration, strings.TrimSpace(string(out)))
	}
	return d, nil
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
