package tgbot

import (
	"context"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/media"
)

func (r *Router) sendLogs(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	logFile := r.cfg.Log.File
	if logFile == "" {
		r.reply(ctx, chatID, "Logging to a file is turned off.")
		return
	}
	fi, err := os.Stat(logFile)
	switch {
	case err != nil:
		r.log.Warn("stat log file", zap.String("file", logFile), zap.Error(err))
		r.reply(ctx, chatID, "The log file is not available.")
		return
	case fi.IsDir():
		r.reply(ctx, chatID, "The log file path is a directory.")
		return
	case fi.Size() == 0:
		r.reply(ctx, chatID, "The log file is empty.")
		return
	}

	if err := r.bot.SendFile(ctx, chatID, logFile, media.Document, ""); err != nil {
		r.log.Error("send log file", zap.Error(err))
		r.reply(ctx, chatID, "Could not send the log file.")
	}
}
