package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/store"
)

// Verifier is the on-demand check capability used by /check.
type Verifier interface {
	Verify(ctx context.Context, handle, day string, loc *time.Location) (domain.Outcome, *domain.Solve, error)
}

// Defaults seed a user profile created on first contact.
type Defaults struct {
	TZ          string
	RemindTimes []string
}

// Router wires Telegram updates to command handlers.
type Router struct {
	bot      *tgbotapi.BotAPI
	log      *zap.Logger
	repo     store.Repo
	verifier Verifier
	defaults Defaults
}

// NewRouter creates a new Telegram router.
func NewRouter(bot *tgbotapi.BotAPI, log *zap.Logger, repo store.Repo, verifier Verifier, defaults Defaults) *Router {
	return &Router{
		bot:      bot,
		log:      log,
		repo:     repo,
		verifier: verifier,
		defaults: defaults,
	}
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	cmd, args := splitCommand(text)
	switch cmd {
	case "/start":
		r.handleStart(ctx, chatID)
	case "/help":
		r.sendText(chatID, helpText)
	case "/stop":
		r.handleStop(ctx, chatID)
	case "/setusername":
		r.handleSetUsername(ctx, chatID, args)
	case "/username":
		r.handleUsername(ctx, chatID)
	case "/timezone", "/tz":
		r.handleTimezone(ctx, chatID, args)
	case "/setremind":
		r.handleSetRemind(ctx, chatID, args)
	case "/addremind":
		r.handleAddRemind(ctx, chatID, args)
	case "/delremind":
		r.handleDelRemind(ctx, chatID, args)
	case "/listremind":
		r.handleListRemind(ctx, chatID)
	case "/check":
		r.handleCheck(ctx, chatID)
	case "/status":
		r.handleStatus(ctx, chatID)
	default:
		if strings.HasPrefix(text, "/") {
			r.sendText(chatID, unknownCommandText)
		}
	}
}

// splitCommand separates "/cmd arg arg" into the command (bot-mention
// stripped) and its argument string.
func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd := text
	args := ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		cmd, args = text[:i], strings.TrimSpace(text[i+1:])
	}
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), args
}

// SendMessage sends a plain text message to the given chat.
// This makes Router satisfy scheduler.Sink.
func (r *Router) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	_, err := r.bot.Send(msg)
	return err
}
