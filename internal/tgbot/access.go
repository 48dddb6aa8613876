package tgbot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/database"
)

// allowed grants access in the home chat, in allowed chats, to admins and to
// whitelisted users.
func (r *Router) allowed(chatID, userID int64) bool {
	if r.cfg.ChatID != 0 && chatID == r.cfg.ChatID {
		return true
	}
	for _, c := range r.cfg.AllowedChats {
		if c == chatID {
			return true
		}
	}
	if r.cfg.IsAdmin(userID) {
		return true
	}
	if r.db == nil {
		return false
	}
	ok, err := database.IsUserWhitelisted(r.db, userID)
	if err != nil {
		r.log.Warn("whitelist lookup", zap.Error(err))
	}
	return ok
}

func (r *Router) adminOnly(ctx context.Context, msg *tgbotapi.Message, handle func(context.Context, *tgbotapi.Message)) {
	if !r.cfg.IsAdmin(msg.From.ID) {
		r.log.Info("admin command refused", zap.String("command", msg.Command()), zap.Int64("user_id", msg.From.ID))
		r.reply(ctx, msg.Chat.ID, "This command is for admins only.")
		return
	}
	handle(ctx, msg)
}

func (r *Router) allow(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		r.reply(ctx, msg.Chat.ID, usage("allow", "<user id> <username>"))
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		r.reply(ctx, msg.Chat.ID, "User id must be a number.")
		return
	}
	username := strings.TrimPrefix(args[1], "@")
	if err := database.InsertIntoWhitelist(r.db, username, id); err != nil {
		r.log.Error("whitelist insert", zap.Error(err))
		r.reply(ctx, msg.Chat.ID, "Could not update the whitelist.")
		return
	}
	r.log.Info("user whitelisted", zap.Int64("user_id", id), zap.String("username", username))
	r.reply(ctx, msg.Chat.ID, fmt.Sprintf("@%s (%d) added to the whitelist.", html.EscapeString(username), id))
}

func (r *Router) deny(ctx context.Context, msg *tgbotapi.Message) {
	username := strings.TrimPrefix(strings.TrimSpace(msg.CommandArguments()), "@")
	if username == "" {
		r.reply(ctx, msg.Chat.ID, usage("deny", "<username>"))
		return
	}
	deleted, err := database.DeleteUser(r.db, username)
	if err != nil {
		r.log.Error("whitelist delete", zap.Error(err))
		r.reply(ctx, msg.Chat.ID, "Could not update the whitelist.")
		return
	}
	if !deleted {
		r.reply(ctx, msg.Chat.ID, fmt.Sprintf("@%s is not in the whitelist.", html.EscapeString(username)))
		return
	}
	r.reply(ctx, msg.Chat.ID, fmt.Sprintf("@%s removed from the whitelist.", html.EscapeString(username)))
}

func (r *Router) whitelist(ctx context.Context, msg *tgbotapi.Message) {
	ids, names, err := database.GetAllWhitelist(r.db)
	if err != nil {
		r.log.Error("whitelist read", zap.Error(err))
		r.reply(ctx, msg.Chat.ID, "Could not read the whitelist.")
		return
	}
	if len(ids) == 0 {
		r.reply(ctx, msg.Chat.ID, "The whitelist is empty.")
		return
	}
	var b strings.Builder
	b.WriteString("Whitelist:\n")
	for i, id := range ids {
		fmt.Fprintf(&b, "%d. @%s (%d)\n", i+1, html.EscapeString(names[i]), id)
	}
	r.reply(ctx, msg.Chat.ID, strings.TrimSpace(b.String()))
}
