package botapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/media"
)

const maxMediaGroup = 10

var ErrNoToken = errors.New("bot token is empty")

type Options struct {
	Token string
	// Endpoint overrides tgbotapi.APIEndpoint, e.g. for a local Bot API server.
	Endpoint   string
	HTTPClient *http.Client
	// MaxRetryWait caps how long a 429 may make us wait before the single retry.
	MaxRetryWait time.Duration
	Debug        bool
	Log          *zap.Logger
}

// Client is the standard transport: one-shot Bot API calls with the 50 MB upload cap.
type Client struct {
	bot          *tgbotapi.BotAPI
	maxRetryWait time.Duration
	log          *zap.Logger
}

func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, ErrNoToken
	}
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if opts.MaxRetryWait <= 0 {
		opts.MaxRetryWait = 30 * time.Second
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, opts.Endpoint, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("init bot api: %w", err)
	}
	bot.Debug = opts.Debug
	opts.Log.Info("authorized", zap.String("account", bot.Self.UserName))

	return &Client{bot: bot, maxRetryWait: opts.MaxRetryWait, log: opts.Log}, nil
}

func (c *Client) Self() tgbotapi.User { return c.bot.Self }

// retryAfter extracts the flood wait from a Bot API error.
func retryAfter(err error) (time.Duration, bool) {
	var perr *tgbotapi.Error
	if errors.As(err, &perr) && perr.RetryAfter > 0 {
		return time.Duration(perr.RetryAfter) * time.Second, true
	}
	var verr tgbotapi.Error
	if errors.As(err, &verr) && verr.RetryAfter > 0 {
		return time.Duration(verr.RetryAfter) * time.Second, true
	}
	return 0, false
}

// withRetry runs call and, if Telegram answers 429, waits once and runs it again.
func (c *Client) withRetry(ctx context.Context, what string, call func() error) error {
	err := call()
	wait, limited := retryAfter(err)
	if !limited {
		return err
	}
	if wait > c.maxRetryWait {
		wait = c.maxRetryWait
	}
	c.log.Warn("flood wait", zap.String("call", what), zap.Duration("wait", wait))

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return call()
}

func (c *Client) send(ctx context.Context, what string, msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	var sent tgbotapi.Message
	err := c.withRetry(ctx, what, func() error {
		var err error
		sent, err = c.bot.Send(msg)
		return err
	})
	return sent, err
}

func (c *Client) request(ctx context.Context, what string, cfg tgbotapi.Chattable) error {
	return c.withRetry(ctx, what, func() error {
		_, err := c.bot.Request(cfg)
		return err
	})
}

func mediaConfig(chatID int64, file tgbotapi.RequestFileData, kind media.Kind, caption string) tgbotapi.Chattable {
	switch kind {
	case media.Video:
		v := tgbotapi.NewVideo(chatID, file)
		v.Caption, v.ParseMode, v.SupportsStreaming = caption, tgbotapi.ModeHTML, true
		return v
	case media.Audio:
		a := tgbotapi.NewAudio(chatID, file)
		a.Caption, a.ParseMode = caption, tgbotapi.ModeHTML
		return a
	case media.Photo:
		p := tgbotapi.NewPhoto(chatID, file)
		p.Caption, p.ParseMode = caption, tgbotapi.ModeHTML
		return p
	}
	d := tgbotapi.NewDocument(chatID, file)
	d.Caption, d.ParseMode = caption, tgbotapi.ModeHTML
	return d
}

// SendFile uploads a local file as kind.
func (c *Client) SendFile(ctx context.Context, chatID int64, path string, kind media.Kind, caption string) error {
	_, err := c.send(ctx, "send "+string(kind), mediaConfig(chatID, tgbotapi.FilePath(path), kind, caption))
	if err != nil {
		return fmt.Errorf("send %s %s: %w", kind, filepath.Base(path), err)
	}
	return nil
}

// SendURL asks Telegram to fetch rawURL itself.
func (c *Client) SendURL(ctx context.Context, chatID int64, rawURL string, kind media.Kind, caption string) error {
	_, err := c.send(ctx, "send "+string(kind)+" url", mediaConfig(chatID, tgbotapi.FileURL(rawURL), kind, caption))
	if err != nil {
		return fmt.Errorf("send %s by url: %w", kind, err)
	}
	return nil
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := c.SendMessage(ctx, chatID, text)
	return err
}

// SendMessage sends HTML text and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	sent, err := c.send(ctx, "send message", msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendMarkup sends text with an inline keyboard.
func (c *Client) SendMarkup(ctx context.Context, chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	sent, err := c.send(ctx, "send markup", msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if err := c.request(ctx, "edit message", edit); err != nil && !isNotModified(err) {
		return err
	}
	return nil
}

func (c *Client) EditMarkup(ctx context.Context, chatID int64, messageID int, text string, markup tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	edit.ParseMode = tgbotapi.ModeHTML
	if err := c.request(ctx, "edit markup", edit); err != nil && !isNotModified(err) {
		return err
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, chatID int64, messageID int) error {
	return c.request(ctx, "delete message", tgbotapi.NewDeleteMessage(chatID, messageID))
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.request(ctx, "answer callback", tgbotapi.NewCallback(callbackID, text))
}

// SendPhotos sends local images as albums of up to ten. The caption goes on the
// first photo only.
func (c *Client) SendPhotos(ctx context.Context, chatID int64, paths []string, caption string) error {
	if len(paths) == 1 {
		return c.SendFile(ctx, chatID, paths[0], media.Photo, caption)
	}
	for start := 0; start < len(paths); start += maxMediaGroup {
		end := min(start+maxMediaGroup, len(paths))
		if end-start == 1 {
			// albums need at least two items
			if err := c.SendFile(ctx, chatID, paths[start], media.Photo, ""); err != nil {
				return err
			}
			continue
		}
		group := make([]interface{}, 0, end-start)
		for i, p := range paths[start:end] {
			photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FilePath(p))
			if start == 0 && i == 0 {
				photo.Caption, photo.ParseMode = caption, tgbotapi.ModeHTML
			}
			group = append(group, photo)
		}
		cfg := tgbotapi.NewMediaGroup(chatID, group)
		if err := c.withRetry(ctx, "send media group", func() error {
			_, err := c.bot.SendMediaGroup(cfg)
			return err
		}); err != nil {
			return fmt.Errorf("send media group: %w", err)
		}
	}
	return nil
}

// Updates starts long polling. Cancel ctx to stop it.
func (c *Client) Updates(ctx context.Context, timeoutSec int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	u.AllowedUpdates = []string{"message", "callback_query"}
	ch := c.bot.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		c.bot.StopReceivingUpdates()
	}()
	return ch
}
