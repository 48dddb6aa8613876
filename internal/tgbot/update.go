package tgbot

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/database"
)

const maxReportRunes = 1500

func (r *Router) updateTools(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if r.tools == nil {
		r.reply(ctx, chatID, "Extractors are not configured.")
		return
	}
	statusID, _ := r.bot.SendMessage(ctx, chatID, "Updating yt-dlp and gallery-dl...")

	ytOut, err := r.tools.UpdateYtdlp(ctx)
	if err != nil {
		r.log.Warn("yt-dlp update", zap.Error(err))
	}
	galleryOut, err := r.tools.UpdateGallerydl(ctx)
	if err != nil {
		r.log.Warn("gallery-dl update", zap.Error(err))
	}

	text := fmt.Sprintf("<b>yt-dlp</b>\n<pre>%s</pre>\n\n<b>gallery-dl</b>\n<pre>%s</pre>",
		html.EscapeString(tailRunes(ytOut, maxReportRunes)), html.EscapeString(tailRunes(galleryOut, maxReportRunes)))
	if statusID == 0 {
		r.reply(ctx, chatID, text)
		return
	}
	r.status(ctx, chatID, statusID, text)
}

func (r *Router) stats(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if r.db == nil {
		r.reply(ctx, chatID, "Statistics are not available.")
		return
	}
	s, err := database.GetStats(r.db)
	if err != nil {
		r.log.Error("read stats", zap.Error(err))
		r.reply(ctx, chatID, "Could not read statistics.")
		return
	}
	recent, err := database.RecentDownloads(r.db, 5)
	if err != nil {
		r.log.Warn("read history", zap.Error(err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Users:</b> %d\n<b>Requests:</b> %d (%d failed)\n<b>Sent:</b> %s\n",
		s.Users, s.Downloads, s.Failed, humanize.IBytes(uint64(s.Bytes)))

	if r.tools != nil {
		versions := r.tools.Versions(ctx)
		names := make([]string, 0, len(versions))
		for name := range versions {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\n<b>Tools:</b>\n")
		for _, name := range names {
			fmt.Fprintf(&b, "%s %s\n", name, html.EscapeString(versions[name]))
		}
	}

	if len(recent) > 0 {
		b.WriteString("\n<b>Recent:</b>\n")
		for _, d := range recent {
			fmt.Fprintf(&b, "%s %s %s %s\n", boolToEmoji(d.Success), humanize.Time(d.CreatedAt), d.Kind, html.EscapeString(d.URL))
		}
	}
	r.reply(ctx, chatID, strings.TrimSpace(b.String()))
}

func tailRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "no output"
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return "…" + string(rs[len(rs)-n:])
}
