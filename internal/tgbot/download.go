package tgbot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Geergon/media-relay-bot/internal/database"
	"github.com/Geergon/media-relay-bot/internal/delivery"
	"github.com/Geergon/media-relay-bot/internal/downloader"
	"github.com/Geergon/media-relay-bot/internal/media"
	"github.com/Geergon/media-relay-bot/internal/yt"
)

const (
	infoTimeout   = 20 * time.Second
	maxTitleRunes = 200
)

func progress(step int, stage string) string {
	const total = 8
	return stage + ":\n[" + strings.Repeat("◼", step) + strings.Repeat("◻", total-step) + "]"
}

func (r *Router) downloadCommand(ctx context.Context, msg *tgbotapi.Message, kind media.Kind) {
	url, _, ok := yt.ExtractURL(msg.CommandArguments())
	if !ok {
		r.reply(ctx, msg.Chat.ID, usage(msg.Command(), "<url>"))
		return
	}
	r.download(ctx, msg, url, kind)
}

func (r *Router) download(ctx context.Context, msg *tgbotapi.Message, url string, kind media.Kind) {
	chatID := msg.Chat.ID
	log := r.log.With(zap.String("request_id", uuid.NewString()[:8]), zap.String("url", url),
		zap.String("kind", string(kind)), zap.Int64("chat_id", chatID))
	statusID := r.startStatus(ctx, chatID, log)

	if kind == media.Photo && r.tools != nil {
		sent, albumErr := r.sendAlbum(ctx, chatID, url, r.caption(msg.From, url, nil), log)
		if sent {
			r.finish(ctx, msg, statusID, url, kind, media.DeliveryOutcome{OK: true, Transport: media.StandardAPI}, 0, log)
			return
		}
		if albumErr != nil {
			// gallery-dl already failed on this URL.
			ctx = downloader.WithoutStrategies(ctx, yt.GalleryDlName)
		}
	}

	r.status(ctx, chatID, statusID, progress(4, "Downloading media"))
	res, info := r.acquire(ctx, url, kind)
	if !res.Success {
		r.finish(ctx, msg, statusID, url, kind, media.DeliveryOutcome{Transport: media.NoTransport, Err: res.Err}, 0, log)
		return
	}
	log.Info("downloaded", zap.String("strategy", res.Strategy), zap.String("file", res.Path))

	size := fileSize(res.Path)
	r.status(ctx, chatID, statusID, progress(7, "Sending"))
	out := r.selector.Deliver(ctx, chatID, res.Path, res.Kind, r.caption(msg.From, url, info))
	r.finish(ctx, msg, statusID, url, res.Kind, out, size, log)
}

// acquire runs the download chain and, for known platforms, the metadata
// lookup used for the caption side by side.
func (r *Router) acquire(ctx context.Context, url string, kind media.Kind) (media.DownloadResult, *yt.Info) {
	var info *yt.Info
	g, gctx := errgroup.WithContext(ctx)
	if _, known := yt.DetectPlatform(url); known && r.tools != nil && kind != media.Photo {
		g.Go(func() error {
			ictx, cancel := context.WithTimeout(gctx, infoTimeout)
			defer cancel()
			i, err := r.tools.Info(ictx, url)
			if err != nil {
				r.log.Debug("media info unavailable", zap.String("url", url), zap.Error(err))
				return nil
			}
			info = i
			return nil
		})
	}
	res := r.chain.Acquire(ctx, url, kind)
	_ = g.Wait()
	return res, info
}

// sendAlbum reports whether the album went out. A non-nil error means
// gallery-dl itself produced nothing usable.
func (r *Router) sendAlbum(ctx context.Context, chatID int64, url, caption string, log *zap.Logger) (bool, error) {
	album, err := r.tools.Album(ctx, url, r.cfg.Limits.AlbumSize)
	if err != nil {
		log.Info("album download failed, using the download chain", zap.Error(err))
		return false, err
	}
	defer func() {
		if err := album.Close(); err != nil {
			log.Warn("remove album", zap.String("dir", album.Dir), zap.Error(err))
		}
	}()
	if err := r.bot.SendPhotos(ctx, chatID, album.Paths, caption); err != nil {
		log.Warn("send album failed, using the download chain", zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (r *Router) fragment(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 || !yt.ValidSection(args[1]) || r.tools == nil {
		r.reply(ctx, chatID, usage("fragment", "<url> <05:00-07:00>")+"\nSeconds and hours work too: 00:10-00:50, 01:01:00-01:03:00")
		return
	}
	url, _, ok := yt.ExtractURL(args[0])
	if !ok {
		r.reply(ctx, chatID, usage("fragment", "<url> <05:00-07:00>"))
		return
	}
	log := r.log.With(zap.String("request_id", uuid.NewString()[:8]), zap.String("url", url),
		zap.String("section", args[1]), zap.Int64("chat_id", chatID))
	statusID := r.startStatus(ctx, chatID, log)

	r.status(ctx, chatID, statusID, progress(4, "Downloading the fragment"))
	res := r.tools.Fragment(ctx, url, args[1])
	if !res.Success {
		r.finish(ctx, msg, statusID, url, media.Video, media.DeliveryOutcome{Transport: media.NoTransport, Err: res.Err}, 0, log)
		return
	}
	size := fileSize(res.Path)
	r.status(ctx, chatID, statusID, progress(7, "Sending"))
	out := r.selector.Deliver(ctx, chatID, res.Path, media.Video, r.caption(msg.From, url, nil))
	r.finish(ctx, msg, statusID, url, media.Video, out, size, log)
}

func (r *Router) startStatus(ctx context.Context, chatID int64, log *zap.Logger) int {
	id, err := r.bot.SendMessage(ctx, chatID, progress(2, "Processing link"))
	if err != nil {
		log.Warn("send status message", zap.Error(err))
		return 0
	}
	return id
}

func (r *Router) status(ctx context.Context, chatID int64, statusID int, text string) {
	if statusID == 0 {
		return
	}
	if err := r.bot.EditText(ctx, chatID, statusID, text); err != nil {
		r.log.Debug("edit status message", zap.Error(err))
	}
}

// finish records the request and tells the user how it ended. On success the
// status message goes away, and so does a message that was nothing but the
// link when delete_url is on.
func (r *Router) finish(ctx context.Context, msg *tgbotapi.Message, statusID int, url string, kind media.Kind, out media.DeliveryOutcome, size int64, log *zap.Logger) {
	chatID := msg.Chat.ID
	r.record(msg.From.ID, url, kind, out, size)

	if !out.OK {
		log.Warn("request failed", zap.Error(out.Err))
		text := failureText(out.Err)
		if statusID == 0 {
			r.reply(ctx, chatID, text)
			return
		}
		r.status(ctx, chatID, statusID, text)
		return
	}

	log.Info("request done", zap.String("transport", string(out.Transport)), zap.String("size", humanize.IBytes(uint64(size))))
	if statusID != 0 {
		if err := r.bot.Delete(ctx, chatID, statusID); err != nil {
			log.Debug("delete status message", zap.Error(err))
		}
	}
	if r.settings.DeleteURL() && onlyURL(msg.Text, url) {
		if err := r.bot.Delete(ctx, chatID, msg.MessageID); err != nil {
			log.Warn("delete link message", zap.Int("message_id", msg.MessageID), zap.Error(err))
		}
	}
}

func (r *Router) record(userID int64, url string, kind media.Kind, out media.DeliveryOutcome, size int64) {
	if r.db == nil {
		return
	}
	d := database.Download{
		UserID:    userID,
		URL:       url,
		Kind:      string(kind),
		Transport: string(out.Transport),
		Size:      size,
		Success:   out.OK,
	}
	if out.Err != nil {
		d.Error = out.Err.Error()
	}
	if err := database.RecordDownload(r.db, d); err != nil {
		r.log.Warn("save history", zap.Error(err))
	}
}

func onlyURL(text, url string) bool {
	t := strings.TrimSpace(text)
	return t == url || "https://"+t == url
}

func failureText(err error) string {
	switch {
	case errors.Is(err, downloader.ErrRateLimited):
		return "The source is rate limiting requests. Try again in a few minutes."
	case errors.Is(err, downloader.ErrInvalidURL):
		return "This does not look like a valid link."
	case errors.Is(err, delivery.ErrTooLarge):
		return "The file is too large to send to Telegram."
	case errors.Is(err, downloader.ErrAllFailed):
		return "Could not download media from this link."
	}
	return "Could not send the media. Try again later."
}

func (r *Router) caption(from *tgbotapi.User, url string, info *yt.Info) string {
	name := from.FirstName
	if from.UserName != "" {
		name = "@" + from.UserName
	}
	link := fmt.Sprintf(`%s (<a href="%s">link</a>)`, html.EscapeString(name), html.EscapeString(url))
	if info == nil || info.Title == "" {
		return link
	}

	head := "<b>" + html.EscapeString(truncate(info.Title, maxTitleRunes)) + "</b>"
	var meta []string
	if info.Uploader != "" {
		meta = append(meta, html.EscapeString(info.Uploader))
	}
	if info.Duration > 0 {
		meta = append(meta, formatDuration(time.Duration(info.Duration*float64(time.Second))))
	}
	if len(meta) > 0 {
		head += "\n" + strings.Join(meta, " · ")
	}
	return head + "\n\n" + link
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
