package tgbot

import (
	"context"
	"database/sql"
	"html"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/config"
	"github.com/Geergon/media-relay-bot/internal/database"
	"github.com/Geergon/media-relay-bot/internal/media"
	"github.com/Geergon/media-relay-bot/internal/yt"
)

// Messenger is the chat side of the standard transport.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	SendMarkup(ctx context.Context, chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	EditMarkup(ctx context.Context, chatID int64, messageID int, text string, markup tgbotapi.InlineKeyboardMarkup) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendFile(ctx context.Context, chatID int64, path string, kind media.Kind, caption string) error
	SendPhotos(ctx context.Context, chatID int64, paths []string, caption string) error
}

type Downloader interface {
	Acquire(ctx context.Context, sourceURL string, kind media.Kind) media.DownloadResult
}

type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, localPath string, kind media.Kind, caption string) media.DeliveryOutcome
}

// Extractors are the yt-dlp/gallery-dl features used outside the chain.
type Extractors interface {
	Info(ctx context.Context, url string) (*yt.Info, error)
	Album(ctx context.Context, url string, limit int) (*yt.Album, error)
	Fragment(ctx context.Context, url, section string) media.DownloadResult
	UpdateYtdlp(ctx context.Context) (string, error)
	UpdateGallerydl(ctx context.Context) (string, error)
	Versions(ctx context.Context) map[string]string
}

type Options struct {
	Config   config.Config
	Settings *config.Settings
	DB       *sql.DB
	Bot      Messenger
	Chain    Downloader
	Selector Deliverer
	Tools    Extractors
	Log      *zap.Logger
}

// Router turns chat updates into acquire/deliver calls. Each update runs on
// its own goroutine.
type Router struct {
	cfg      config.Config
	settings *config.Settings
	db       *sql.DB
	bot      Messenger
	chain    Downloader
	selector Deliverer
	tools    Extractors
	log      *zap.Logger
	wg       sync.WaitGroup
}

func New(opts Options) *Router {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Router{
		cfg:      opts.Config,
		settings: opts.Settings,
		db:       opts.DB,
		bot:      opts.Bot,
		chain:    opts.Chain,
		selector: opts.Selector,
		tools:    opts.Tools,
		log:      opts.Log,
	}
}

// Run dispatches updates until the channel closes or ctx is done, then waits
// for the handlers still running.
func (r *Router) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.Handle(ctx, u)
			}()
		}
	}
}

func (r *Router) Handle(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panic", zap.Int("update_id", u.UpdateID), zap.Any("panic", p))
		}
	}()

	if u.CallbackQuery != nil {
		r.handleCallback(ctx, u.CallbackQuery)
		return
	}
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !r.allowed(msg.Chat.ID, msg.From.ID) {
		if msg.IsCommand() || msg.Chat.IsPrivate() {
			r.log.Info("access denied", zap.Int64("user_id", msg.From.ID), zap.String("username", msg.From.UserName), zap.Int64("chat_id", msg.Chat.ID))
		}
		return
	}
	if r.db != nil {
		if err := database.TouchUser(r.db, msg.From.ID, msg.From.UserName); err != nil {
			r.log.Warn("save user", zap.Error(err))
		}
	}

	if !msg.IsCommand() {
		if !r.settings.AutoDownload() {
			return
		}
		if url, _, ok := yt.ExtractURL(msg.Text); ok {
			r.download(ctx, msg, url, media.Video)
		}
		return
	}

	switch msg.Command() {
	case "start", "help":
		r.reply(ctx, msg.Chat.ID, helpText)
	case "video":
		r.downloadCommand(ctx, msg, media.Video)
	case "audio":
		r.downloadCommand(ctx, msg, media.Audio)
	case "photo":
		r.downloadCommand(ctx, msg, media.Photo)
	case "file":
		r.downloadCommand(ctx, msg, media.Document)
	case "fragment":
		r.fragment(ctx, msg)
	case "settings":
		r.adminOnly(ctx, msg, r.showSettings)
	case "logs":
		r.adminOnly(ctx, msg, r.sendLogs)
	case "update":
		r.adminOnly(ctx, msg, r.updateTools)
	case "stats":
		r.adminOnly(ctx, msg, r.stats)
	case "allow":
		r.adminOnly(ctx, msg, r.allow)
	case "deny":
		r.adminOnly(ctx, msg, r.deny)
	case "whitelist":
		r.adminOnly(ctx, msg, r.whitelist)
	}
}

const helpText = `Send me a link and I will send the media back.

/video &lt;url&gt; - video
/audio &lt;url&gt; - audio track
/photo &lt;url&gt; - photos or album
/file &lt;url&gt; - anything, as a document
/fragment &lt;url&gt; &lt;05:00-07:00&gt; - part of a video

Admins: /settings /logs /update /stats /allow /deny /whitelist`

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.bot.SendMessage(ctx, chatID, text); err != nil {
		r.log.Warn("send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func usage(cmd, args string) string {
	return "Usage: /" + cmd + " " + html.EscapeString(args)
}
