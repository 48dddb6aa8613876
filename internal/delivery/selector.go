package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/downloader"
	"github.com/Geergon/media-relay-bot/internal/media"
)

var (
	ErrTooLarge       = errors.New("file exceeds every available upload limit")
	ErrTransportPanic = errors.New("transport panicked")
)

// StandardTransport is the Bot API style sender with the low upload cap.
type StandardTransport interface {
	SendFile(ctx context.Context, chatID int64, path string, kind media.Kind, caption string) error
	SendURL(ctx context.Context, chatID int64, rawURL string, kind media.Kind, caption string) error
	SendText(ctx context.Context, chatID int64, text string) error
}

// HighCapacityTransport is the optional large-file sender. It is asked for
// availability before every use since its session can drop at any time.
type HighCapacityTransport interface {
	IsAvailable() bool
	SendVideo(ctx context.Context, chatID int64, path, caption string) error
	SendAudio(ctx context.Context, chatID int64, path, caption string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
}

type Compressor interface {
	Compress(ctx context.Context, path string, targetMB float64) (string, error)
}

type Selector struct {
	standard     StandardTransport
	highCapacity HighCapacityTransport
	compressor   Compressor
	thresholds   media.Thresholds
	log          *zap.Logger
}

// NewSelector wires the transports. highCapacity and compressor may be nil.
func NewSelector(standard StandardTransport, highCapacity HighCapacityTransport, compressor Compressor, thresholds media.Thresholds, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{
		standard:     standard,
		highCapacity: highCapacity,
		compressor:   compressor,
		thresholds:   thresholds,
		log:          log,
	}
}

// cleanup removes every file registered with it exactly once.
type cleanup struct {
	mu    sync.Mutex
	paths []string
	done  map[string]bool
}

func (c *cleanup) add(path string) {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
}

func (c *cleanup) run(log *zap.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(map[string]bool)
	}
	for _, p := range c.paths {
		if c.done[p] {
			continue
		}
		c.done[p] = true
		if err := media.Remove(p); err != nil {
			log.Warn("cleanup failed", zap.String("path", p), zap.Error(err))
		}
	}
}

// Deliver sends localPath to chatID over whichever transport can carry it. The
// file and any compressed copy are gone when Deliver returns, whatever the outcome.
func (s *Selector) Deliver(ctx context.Context, chatID int64, localPath string, kind media.Kind, caption string) (outcome media.DeliveryOutcome) {
	if downloader.IsHTTPURL(localPath) {
		return s.deliverURL(ctx, chatID, localPath, kind, caption)
	}

	files := &cleanup{}
	files.add(localPath)
	defer files.run(s.log)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("delivery panic", zap.Int64("chat_id", chatID), zap.Any("panic", r))
			outcome = media.DeliveryOutcome{Transport: media.NoTransport, Err: fmt.Errorf("%w: %v", ErrTransportPanic, r)}
		}
	}()

	fi, err := os.Stat(localPath)
	if err != nil {
		return fail(fmt.Errorf("stat %s: %w", localPath, err))
	}
	size := fi.Size()
	log := s.log.With(zap.Int64("chat_id", chatID), zap.String("kind", string(kind)), zap.String("size", humanize.IBytes(uint64(size))))

	if size <= s.thresholds.StandardLimit {
		if err := s.standard.SendFile(ctx, chatID, localPath, kind, caption); err != nil {
			return fail(fmt.Errorf("standard upload: %w", err))
		}
		log.Info("delivered", zap.String("transport", string(media.StandardAPI)))
		return ok(media.StandardAPI)
	}

	if s.highCapacity != nil && s.highCapacity.IsAvailable() && size <= s.thresholds.HighCapacityLimit {
		err := s.sendHighCapacity(ctx, chatID, localPath, kind, caption)
		if err == nil {
			log.Info("delivered", zap.String("transport", string(media.HighCapacityClient)))
			return ok(media.HighCapacityClient)
		}
		log.Warn("high capacity upload failed, trying compression", zap.Error(err))
	}

	if kind != media.Video || s.compressor == nil {
		return fail(fmt.Errorf("%w: %s %s", ErrTooLarge, kind, humanize.IBytes(uint64(size))))
	}

	compressed, err := s.compressor.Compress(ctx, localPath, s.thresholds.CompressionTargetMB)
	if compressed != "" {
		files.add(compressed)
	}
	if err != nil {
		return fail(fmt.Errorf("compression: %w", err))
	}
	csize, err := fileSize(compressed)
	if err != nil {
		return fail(err)
	}
	if csize > s.thresholds.StandardLimit {
		return fail(fmt.Errorf("%w: compressed to %s, still over %s", ErrTooLarge,
			humanize.IBytes(uint64(csize)), humanize.IBytes(uint64(s.thresholds.StandardLimit))))
	}
	if err := s.standard.SendFile(ctx, chatID, compressed, kind, caption); err != nil {
		return fail(fmt.Errorf("standard upload after compression: %w", err))
	}
	log.Info("delivered compressed", zap.String("transport", string(media.StandardAPI)), zap.String("compressed", humanize.IBytes(uint64(csize))))
	return ok(media.StandardAPI)
}

func (s *Selector) sendHighCapacity(ctx context.Context, chatID int64, path string, kind media.Kind, caption string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTransportPanic, r)
		}
	}()
	switch kind {
	case media.Video:
		return s.highCapacity.SendVideo(ctx, chatID, path, caption)
	case media.Audio:
		return s.highCapacity.SendAudio(ctx, chatID, path, caption)
	default:
		return s.highCapacity.SendDocument(ctx, chatID, path, caption)
	}
}

// deliverURL lets Telegram fetch a remote file itself. When it refuses, the
// user at least gets the link.
func (s *Selector) deliverURL(ctx context.Context, chatID int64, rawURL string, kind media.Kind, caption string) (outcome media.DeliveryOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = media.DeliveryOutcome{Transport: media.NoTransport, Err: fmt.Errorf("%w: %v", ErrTransportPanic, r)}
		}
	}()
	err := s.standard.SendURL(ctx, chatID, rawURL, kind, caption)
	if err == nil {
		return ok(media.StandardAPI)
	}
	s.log.Warn("url upload refused, sending link", zap.Error(err))

	text := fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(rawURL), html.EscapeString(linkLabel(kind)))
	if caption != "" {
		text = caption + "\n\n" + text
	}
	if err := s.standard.SendText(ctx, chatID, text); err != nil {
		return fail(fmt.Errorf("send link: %w", err))
	}
	return ok(media.StandardAPI)
}

func linkLabel(kind media.Kind) string {
	switch kind {
	case media.Audio:
		return "Audio link"
	case media.Photo:
		return "Photo link"
	case media.Document:
		return "File link"
	}
	return "Video link"
}

func ok(t media.Transport) media.DeliveryOutcome {
	return media.DeliveryOutcome{OK: true, Transport: t}
}

func fail(err error) media.DeliveryOutcome {
	return media.DeliveryOutcome{Transport: media.NoTransport, Err: err}
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
