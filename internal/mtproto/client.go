package mtproto

import (
	"context"
	"errors"
	"fmt"
	"html"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("mtproto credentials are not configured")
	ErrUnavailable   = errors.New("mtproto client is not running")
)

type Options struct {
	AppID       int
	APIHash     string
	BotToken    string
	SessionPath string
	// MaxFloodWait caps the single FLOOD_WAIT sleep before a retry.
	MaxFloodWait time.Duration
	Log          *zap.Logger
}

// Client is the high-capacity transport: a bot session over MTProto that can
// upload files up to 2 GB. It must be started before use and stopped on shutdown.
type Client struct {
	opts Options
	log  *zap.Logger

	mu     sync.RWMutex
	client *gotgproto.Client
}

func New(opts Options) *Client {
	if opts.SessionPath == "" {
		opts.SessionPath = "mtproto.session"
	}
	if opts.MaxFloodWait <= 0 {
		opts.MaxFloodWait = 60 * time.Second
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Client{opts: opts, log: opts.Log}
}

func (c *Client) Configured() bool {
	return c.opts.AppID != 0 && c.opts.APIHash != "" && c.opts.BotToken != ""
}

// Start connects and authorizes the bot session. It blocks until Telegram
// accepts the login.
func (c *Client) Start(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := gotgproto.NewClient(
		c.opts.AppID,
		c.opts.APIHash,
		gotgproto.ClientTypeBot(c.opts.BotToken),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(c.opts.SessionPath)),
			Logger:           c.log.Named("gotd"),
			DisableCopyright: true,
		},
	)
	if err != nil {
		return fmt.Errorf("start mtproto client: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	c.log.Info("mtproto client started", zap.String("account", client.Self.Username))
	return nil
}

func (c *Client) Stop() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		client.Stop()
		c.log.Info("mtproto client stopped")
	}
}

func (c *Client) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

func (c *Client) SendVideo(ctx context.Context, chatID int64, path, caption string) error {
	return c.sendDocument(ctx, chatID, path, caption, "video/mp4", &tg.DocumentAttributeVideo{SupportsStreaming: true})
}

func (c *Client) SendAudio(ctx context.Context, chatID int64, path, caption string) error {
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return c.sendDocument(ctx, chatID, path, caption, mimeFor(path, "audio/mpeg"), &tg.DocumentAttributeAudio{Title: title})
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	return c.sendDocument(ctx, chatID, path, caption, mimeFor(path, "application/octet-stream"))
}

func (c *Client) sendDocument(ctx context.Context, chatID int64, path, caption, mimeType string, attrs ...tg.DocumentAttributeClass) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return ErrUnavailable
	}

	ectx := client.CreateContext()
	up := uploader.NewUploader(ectx.Raw)

	var file tg.InputFileClass
	if err := c.withFloodWait(ctx, func() error {
		var err error
		file, err = up.FromPath(ctx, path)
		return err
	}); err != nil {
		return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}

	attrs = append(attrs, &tg.DocumentAttributeFilename{FileName: filepath.Base(path)})
	req := &tg.MessagesSendMediaRequest{
		Media: &tg.InputMediaUploadedDocument{
			File:       file,
			MimeType:   mimeType,
			Attributes: attrs,
		},
		Message: plainText(caption),
	}
	if err := c.withFloodWait(ctx, func() error {
		_, err := ectx.SendMedia(chatID, req)
		return err
	}); err != nil {
		return fmt.Errorf("send media to %d: %w", chatID, err)
	}
	return nil
}

// withFloodWait retries call once after the FLOOD_WAIT Telegram asks for.
func (c *Client) withFloodWait(ctx context.Context, call func() error) error {
	err := call()
	wait, ok := tgerr.AsFloodWait(err)
	if !ok {
		return err
	}
	if wait > c.opts.MaxFloodWait {
		wait = c.opts.MaxFloodWait
	}
	c.log.Warn("flood wait", zap.Duration("wait", wait))

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return call()
}

func mimeFor(path, fallback string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return fallback
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// plainText flattens the HTML captions built for the Bot API; a raw MTProto
// message carries formatting as entities instead.
func plainText(s string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(s, ""))
}
