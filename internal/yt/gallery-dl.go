package yt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/media"
)

// Album is a set of images gallery-dl saved into a private directory.
type Album struct {
	Dir   string
	Paths []string
}

// Close removes the album directory with everything still in it.
func (a *Album) Close() error {
	if a == nil || a.Dir == "" {
		return nil
	}
	return os.RemoveAll(a.Dir)
}

func (t *Tools) runGalleryDl(ctx context.Context, url string, limit int) (*Album, error) {
	dir, err := os.MkdirTemp(t.tempDir, "gallery-")
	if err != nil {
		return nil, err
	}

	args := []string{
		"-o", "overwrite=true",
		"--no-part",
		"-D", dir,
		"-f", "output-{num:02d}.{extension}",
	}
	if limit > 0 {
		args = append(args, "--range", "1-"+strconv.Itoa(limit))
	}
	if cookies := t.cookiesFor(url); cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	args = append(args, url)

	if _, err := t.runTool(ctx, t.gallerydl, args...); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	album := &Album{Dir: dir}
	entries, err := os.ReadDir(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() || media.KindFromPath(p) != media.Photo {
			continue
		}
		if fi, err := e.Info(); err != nil || fi.Size() < media.MinFileSize {
			continue
		}
		album.Paths = append(album.Paths, p)
	}
	sort.Strings(album.Paths)
	if len(album.Paths) == 0 {
		_ = album.Close()
		return nil, fmt.Errorf("gallery-dl: no images for %s", url)
	}
	t.log.Info("gallery-dl download finished", zap.String("url", url), zap.Int("images", len(album.Paths)))
	return album, nil
}

// Album downloads up to limit images from a post.
func (t *Tools) Album(ctx context.Context, url string, limit int) (*Album, error) {
	return t.runGalleryDl(ctx, url, limit)
}

// downloadPhoto is the chain strategy: the first image of the post, moved out
// of the album directory so the result owns a single file.
func (t *Tools) downloadPhoto(ctx context.Context, url string, kind media.Kind) media.DownloadResult {
	if kind != media.Photo {
		return media.Failed(fmt.Errorf("gallery-dl: %w: %s", ErrUnsupportedKind, kind))
	}
	album, err := t.runGalleryDl(ctx, url, 1)
	if err != nil {
		return media.Failed(err)
	}
	defer album.Close()

	first := album.Paths[0]
	dest := media.TempPath(t.tempDir, "gallery", filepath.Ext(first))
	if err := os.Rename(first, dest); err != nil {
		return media.Failed(fmt.Errorf("gallery-dl: %w", err))
	}
	return media.Succeeded(dest, media.Photo)
}
