package tgbot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/config"
)

const (
	settingsTitle  = "⚙️ Bot settings:\nTap an option to turn it on or off."
	settingsPrefix = "settings:"
)

var settingLabels = []struct{ key, label string }{
	{config.AutoDownload, "Auto download links"},
	{config.DeleteURL, "Delete link messages"},
}

func boolToEmoji(b bool) string {
	if b {
		return "✅"
	}
	return "❌"
}

func (r *Router) settingsKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(settingLabels))
	for _, s := range settingLabels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(s.label+": "+boolToEmoji(r.settings.Get(s.key)), settingsPrefix+s.key),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (r *Router) showSettings(ctx context.Context, msg *tgbotapi.Message) {
	if _, err := r.bot.SendMarkup(ctx, msg.Chat.ID, settingsTitle, r.settingsKeyboard()); err != nil {
		r.log.Warn("send settings", zap.Error(err))
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	answer := func(text string) {
		if err := r.bot.AnswerCallback(ctx, cb.ID, text); err != nil {
			r.log.Debug("answer callback", zap.Error(err))
		}
	}
	if cb.From == nil || !r.cfg.IsAdmin(cb.From.ID) {
		answer("Admins only")
		return
	}
	key, ok := strings.CutPrefix(cb.Data, settingsPrefix)
	if !ok {
		r.log.Info("unknown callback", zap.String("data", cb.Data))
		answer("")
		return
	}
	if _, err := r.settings.Toggle(key); err != nil {
		r.log.Error("toggle setting", zap.String("key", key), zap.Error(err))
		answer("Could not save the setting")
		return
	}
	if cb.Message != nil && cb.Message.Chat != nil {
		if err := r.bot.EditMarkup(ctx, cb.Message.Chat.ID, cb.Message.MessageID, settingsTitle, r.settingsKeyboard()); err != nil {
			r.log.Warn("refresh settings", zap.Error(err))
		}
	}
	answer("")
}
