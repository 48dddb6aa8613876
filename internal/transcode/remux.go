package transcode

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/downloader"
	"github.com/Geergon/media-relay-bot/internal/media"
)

var ErrBadManifest = errors.New("not a usable HLS manifest")

type RemuxerOptions struct {
	FFmpeg  string
	TempDir string
	Timeout time.Duration
	Fetcher *downloader.Fetcher
	Log     *zap.Logger
}

// Remuxer copies an HLS stream into a single container without re-encoding.
type Remuxer struct {
	ffmpeg  string
	tempDir string
	timeout time.Duration
	fetcher *downloader.Fetcher
	log     *zap.Logger
}

func NewRemuxer(opts RemuxerOptions) *Remuxer {
	r := &Remuxer{
		ffmpeg:  opts.FFmpeg,
		tempDir: opts.TempDir,
		timeout: opts.Timeout,
		fetcher: opts.Fetcher,
		log:     opts.Log,
	}
	if r.ffmpeg == "" {
		r.ffmpeg = "ffmpeg"
	}
	if r.timeout <= 0 {
		r.timeout = 5 * time.Minute
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.fetcher == nil {
		r.fetcher = downloader.NewFetcher(downloader.FetcherOptions{Log: r.log})
	}
	return r
}

func (r *Remuxer) Remux(ctx context.Context, manifestURL, refererURL string, kind media.Kind) media.DownloadResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	src, err := r.preflight(ctx, manifestURL, refererURL)
	if err != nil {
		return media.Failed(err)
	}

	ext, got := ".mp4", media.Video
	if kind == media.Audio {
		ext, got = ".m4a", media.Audio
	}
	out := media.TempPath(r.tempDir, "remux", ext)

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	// Header options apply to the -i that follows them.
	input := func(uri string) {
		args = append(args, "-user_agent", downloader.UserAgent)
		if refererURL != "" {
			args = append(args, "-headers", "Referer: "+refererURL+"\r\n")
		}
		args = append(args, "-i", uri)
	}
	switch {
	case kind == media.Audio && src.audio != "":
		input(src.audio)
		args = append(args, "-vn", "-c", "copy", "-bsf:a", "aac_adtstoasc")
	case kind == media.Audio:
		input(src.video)
		args = append(args, "-vn", "-c", "copy", "-bsf:a", "aac_adtstoasc")
	case src.audio != "":
		input(src.video)
		input(src.audio)
		args = append(args, "-map", "0:v:0", "-map", "1:a:0", "-c", "copy", "-bsf:a", "aac_adtstoasc", "-movflags", "+faststart")
	default:
		input(src.video)
		args = append(args, "-c", "copy", "-movflags", "+faststart")
	}
	args = append(args, out)

	if _, err := run(ctx, r.log, r.ffmpeg, args...); err != nil {
		_ = media.Remove(out)
		return media.Failed(fmt.Errorf("remux %s: %w", manifestURL, err))
	}
	if _, err := media.ValidateFile(out, media.MinFileSize); err != nil {
		_ = media.Remove(out)
		return media.Failed(fmt.Errorf("remux %s: %w", manifestURL, err))
	}
	return media.Succeeded(out, got)
}

// hlsSource is what ffmpeg reads: the chosen variant and, when the variant
// takes its audio from a separate rendition, that rendition.
type hlsSource struct {
	video string
	audio string
}

// preflight fetches and decodes the manifest so ffmpeg is never launched on an
// error page. A master playlist is narrowed to its highest bandwidth variant
// plus the audio rendition that variant refers to.
func (r *Remuxer) preflight(ctx context.Context, manifestURL, refererURL string) (hlsSource, error) {
	headers := map[string]string{"Accept": "*/*"}
	if refererURL != "" {
		headers["Referer"] = refererURL
	}
	page, err := r.fetcher.GetPage(ctx, manifestURL, headers)
	if err != nil {
		return hlsSource{}, fmt.Errorf("fetch manifest: %w", err)
	}

	p, listType, err := m3u8.DecodeFrom(strings.NewReader(page.Body), false)
	if err != nil {
		return hlsSource{}, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}

	switch listType {
	case m3u8.MASTER:
		master := p.(*m3u8.MasterPlaylist)
		var best *m3u8.Variant
		for _, v := range master.Variants {
			if v == nil || v.URI == "" {
				continue
			}
			if best == nil || v.Bandwidth > best.Bandwidth {
				best = v
			}
		}
		if best == nil {
			return hlsSource{}, fmt.Errorf("%w: master playlist without variants", ErrBadManifest)
		}
		var src hlsSource
		if src.video, err = resolveRef(page.URL, best.URI); err != nil {
			return hlsSource{}, err
		}
		if alt := audioRendition(master, best); alt != nil {
			if src.audio, err = resolveRef(page.URL, alt.URI); err != nil {
				return hlsSource{}, err
			}
		}
		r.log.Debug("hls variant",
			zap.String("uri", src.video),
			zap.String("audio", src.audio),
			zap.Uint32("bandwidth", best.Bandwidth))
		return src, nil
	case m3u8.MEDIA:
		if p.(*m3u8.MediaPlaylist).Count() == 0 {
			return hlsSource{}, fmt.Errorf("%w: no segments", ErrBadManifest)
		}
		return hlsSource{video: page.URL}, nil
	}
	return hlsSource{}, ErrBadManifest
}

// audioRendition finds the EXT-X-MEDIA audio track of the variant's AUDIO
// group. The decoder attaches renditions to whichever variant follows them, so
// every variant is searched. The DEFAULT=YES member wins.
func audioRendition(master *m3u8.MasterPlaylist, v *m3u8.Variant) *m3u8.Alternative {
	if v.Audio == "" {
		return nil
	}
	var found *m3u8.Alternative
	for _, variant := range master.Variants {
		if variant == nil {
			continue
		}
		for _, alt := range variant.Alternatives {
			if alt == nil || alt.URI == "" || alt.GroupId != v.Audio || !strings.EqualFold(alt.Type, "AUDIO") {
				continue
			}
			if alt.Default {
				return alt
			}
			if found == nil {
				found = alt
			}
		}
	}
	return found
}

func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: bad variant uri %q", ErrBadManifest, ref)
	}
	return b.ResolveReference(u).String(), nil
}
