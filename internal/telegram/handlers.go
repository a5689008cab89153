package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/gitwatch/internal/event"
	"github.com/user/gitwatch/internal/storage"
	"github.com/user/gitwatch/internal/watch"
	"github.com/user/gitwatch/pkg/logger"
)

const commandTimeout = 15 * time.Second

// Callback data is limited to 64 bytes by Telegram.
const maxCallbackData = 64

// Handlers manages command handling for the bot.
type Handlers struct {
	api       *tgbotapi.BotAPI
	svc       *watch.Service
	linkURL   func(chatID int64) string
	startTime time.Time
}

// NewHandlers creates a new handlers instance. linkURL returns the account
// linking page for a chat, or "" when linking happens out of band.
func NewHandlers(api *tgbotapi.BotAPI, svc *watch.Service, linkURL func(chatID int64) string) *Handlers {
	if linkURL == nil {
		linkURL = func(int64) string { return "" }
	}
	return &Handlers{
		api:       api,
		svc:       svc,
		linkURL:   linkURL,
		startTime: time.Now(),
	}
}

// HandleCommand routes commands to appropriate handlers.
func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	logger.Debug().
		Str("command", command).
		Int64("chat_id", chatID).
		Msg("Received command")

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch command {
	case "start":
		h.handleStart(ctx, chatID)
	case "help":
		h.handleHelp(chatID)
	case "watch":
		h.handleWatch(ctx, chatID, args)
	case "unwatch":
		h.handleUnwatch(ctx, chatID, args)
	case "list", "watchlist":
		h.handleList(ctx, chatID)
	case "notify":
		h.handleNotify(ctx, chatID, args)
	case "disconnect":
		h.handleDisconnect(ctx, chatID)
	case "status":
		h.handleStatus(ctx, chatID)
	default:
		h.sendReply(chatID, "Unknown command. Use /help to see what I can do.")
	}
}

// HandleCallback handles inline keyboard callbacks.
func (h *Handlers) HandleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if _, err := h.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		logger.Warn().Err(err).Msg("Failed to answer callback")
	}
	if callback.Message == nil || callback.Message.Chat == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	action, arg, _ := strings.Cut(callback.Data, ":")
	switch action {
	case "unwatch":
		h.handleUnwatch(ctx, callback.Message.Chat.ID, arg)
	}
}

func (h *Handlers) handleStart(ctx context.Context, chatID int64) {
	sub, err := h.svc.Start(ctx, chatID)
	if err != nil {
		h.internalError(chatID, err, "Failed to register chat")
		return
	}

	var b strings.Builder
	b.WriteString("🤖 <b>Welcome to GitWatch!</b>\n\n")
	b.WriteString("I send you Telegram notifications for GitHub issues, pull requests, pushes and comments.\n\n")
	if sub.Linked() {
		fmt.Fprintf(&b, "Your GitHub account <b>@%s</b> is connected.\n", esc(sub.GitHubUsername.String))
		b.WriteString("Use <code>/watch owner/repo</code> to start watching a repository.")
	} else if url := h.linkURL(chatID); url != "" {
		fmt.Fprintf(&b, "First, <a href=\"%s\">connect your GitHub account</a>.\n", esc(url))
		b.WriteString("Then use <code>/watch owner/repo</code> to start watching a repository.")
	} else {
		b.WriteString("Your GitHub account is not connected yet. Ask the operator of this bot to link it.")
	}
	b.WriteString("\n\nUse /help to see all commands.")

	h.sendHTML(chatID, b.String())
}

func (h *Handlers) handleHelp(chatID int64) {
	text := `📚 <b>GitWatch Commands</b>

<b>Repositories</b>
/watch <code>owner/repo</code> - Watch a repository
/unwatch <code>owner/repo</code> - Stop watching
/list - Show watched repositories

<b>Notifications</b>
/notify <code>owner/repo issues|prs|commits|comments on|off</code> - Toggle a category

<b>Account</b>
/status - Connection and watch summary
/disconnect - Remove all watches and unlink GitHub

Repository URLs such as <code>https://github.com/golang/go</code> are accepted too.`

	h.sendHTML(chatID, text)
}

func (h *Handlers) handleWatch(ctx context.Context, chatID int64, args string) {
	if args == "" {
		h.sendHTML(chatID, "❌ Please specify a repository: <code>/watch owner/repo</code>")
		return
	}

	w, err := h.svc.Watch(ctx, chatID, args)
	switch {
	case err == nil:
	case errors.Is(err, watch.ErrInvalidRepo):
		h.sendHTML(chatID, "❌ Invalid repository format. Use <code>owner/repo</code>.")
		return
	case errors.Is(err, watch.ErrNotLinked):
		h.sendReply(chatID, "⚠️ Please connect your GitHub account first using /start")
		return
	case errors.Is(err, watch.ErrAlreadyWatching):
		h.sendHTML(chatID, fmt.Sprintf("You're already watching %s.", repoLink(args)))
		return
	case errors.Is(err, watch.ErrRepoNotFound):
		h.sendReply(chatID, "❌ Repository not found or you don't have access.")
		return
	default:
		h.internalError(chatID, err, "Failed to watch repository")
		return
	}

	mode := "webhook (instant)"
	if w.WatchMode == storage.WatchModePolling {
		mode = "polling (checked periodically)"
	}
	text := fmt.Sprintf(`✅ <b>Now watching %s</b>

Delivery: %s

You'll receive notifications for:
• Issues
• Pull Requests
• Pushes
• Comments

Use <code>/notify %s &lt;category&gt; off</code> to mute a category.`,
		repoLink(w.FullName()), mode, esc(w.FullName()))

	h.sendHTML(chatID, text)
}

func (h *Handlers) handleUnwatch(ctx context.Context, chatID int64, args string) {
	if args == "" {
		h.sendHTML(chatID, "❌ Please specify a repository: <code>/unwatch owner/repo</code>")
		return
	}

	w, err := h.svc.Unwatch(ctx, chatID, args)
	switch {
	case err == nil:
		h.sendHTML(chatID, fmt.Sprintf("✅ Stopped watching %s", repoLink(w.FullName())))
	case errors.Is(err, watch.ErrInvalidRepo):
		h.sendHTML(chatID, "❌ Invalid repository format. Use <code>owner/repo</code>.")
	case errors.Is(err, watch.ErrNotWatching):
		h.sendHTML(chatID, fmt.Sprintf("❌ You're not watching <b>%s</b>.", esc(args)))
	default:
		h.internalError(chatID, err, "Failed to unwatch repository")
	}
}

// handleList shows all current watches.
func (h *Handlers) handleList(ctx context.Context, chatID int64) {
	watches, err := h.svc.List(ctx, chatID)
	if err != nil {
		h.internalError(chatID, err, "Failed to list watches")
		return
	}

	if len(watches) == 0 {
		h.sendHTML(chatID, "📭 You are not watching any repositories yet.\n\nUse <code>/watch owner/repo</code> to start watching!")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 <b>Your Watchlist</b> (%d)\n\n", len(watches))
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, w := range watches {
		fmt.Fprintf(&b, "%d. %s\n   Mode: %s | %s\n", i+1, repoLink(w.FullName()), w.WatchMode, categorySummary(&w))

		data := "unwatch:" + w.FullName()
		if len(data) <= maxCallbackData {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Unwatch "+w.FullName(), data),
			))
		}
	}
	b.WriteString("\n💡 Use <code>/unwatch owner/repo</code> to stop watching a repository.")

	msg := tgbotapi.NewMessage(chatID, b.String())
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	h.send(msg)
}

func (h *Handlers) handleNotify(ctx context.Context, chatID int64, args string) {
	usage := "Usage: <code>/notify owner/repo issues|prs|commits|comments on|off</code>"

	fields := strings.Fields(args)
	if len(fields) != 3 {
		h.sendHTML(chatID, usage)
		return
	}
	category, ok := event.ParseCategory(fields[1])
	if !ok {
		h.sendHTML(chatID, "❌ Unknown category. "+usage)
		return
	}
	var enabled bool
	switch strings.ToLower(fields[2]) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		h.sendHTML(chatID, "❌ Expected on or off. "+usage)
		return
	}

	err := h.svc.SetPreference(ctx, chatID, fields[0], category, enabled)
	switch {
	case err == nil:
		state := "off"
		if enabled {
			state = "on"
		}
		h.sendHTML(chatID, fmt.Sprintf("✅ %s notifications for <b>%s</b> are now %s.",
			categoryLabel(category), esc(fields[0]), state))
	case errors.Is(err, watch.ErrInvalidRepo):
		h.sendHTML(chatID, "❌ Invalid repository format. "+usage)
	case errors.Is(err, watch.ErrNotWatching):
		h.sendHTML(chatID, fmt.Sprintf("❌ You're not watching <b>%s</b>.", esc(fields[0])))
	default:
		h.internalError(chatID, err, "Failed to update preference")
	}
}

func (h *Handlers) handleDisconnect(ctx context.Context, chatID int64) {
	removed, err := h.svc.Disconnect(ctx, chatID)
	switch {
	case err == nil:
		noun := "repositories"
		if removed == 1 {
			noun = "repository"
		}
		h.sendHTML(chatID, fmt.Sprintf(`✅ <b>Successfully disconnected!</b>

• GitHub connection removed
• %d watched %s removed
• Webhooks deleted

Use /start anytime to reconnect your GitHub account.`, removed, noun))
	case errors.Is(err, watch.ErrNotLinked):
		h.sendReply(chatID, "⚠️ You are not connected to GitHub.\n\nUse /start to connect your account.")
	default:
		h.internalError(chatID, err, "Failed to disconnect")
	}
}

// handleStatus shows account and bot status information.
func (h *Handlers) handleStatus(ctx context.Context, chatID int64) {
	st, err := h.svc.Status(ctx, chatID)
	if err != nil {
		h.internalError(chatID, err, "Failed to load status")
		return
	}
	if !st.Registered {
		h.sendReply(chatID, "⚠️ You haven't registered yet.\n\nUse /start to get started!")
		return
	}

	github := "❌ Not connected"
	if st.Linked {
		name := st.Username
		if name == "" {
			name = "unknown"
		}
		github = fmt.Sprintf("✅ Connected (@%s)", esc(name))
		if !st.TokenValid {
			github += ", token rejected by GitHub"
		}
	}

	repos := "  None yet"
	if len(st.Watches) > 0 {
		lines := make([]string, 0, len(st.Watches))
		for _, w := range st.Watches {
			lines = append(lines, fmt.Sprintf("  • %s (%s)", esc(w.FullName()), w.WatchMode))
		}
		repos = strings.Join(lines, "\n")
	}

	text := fmt.Sprintf(`📊 <b>Your GitWatch Status</b>

<b>GitHub:</b> %s
<b>Repositories:</b> %d

<b>Watched Repos:</b>
%s

⏱️ <b>Uptime:</b> %s`, github, len(st.Watches), repos, formatDuration(time.Since(h.startTime)))

	h.sendHTML(chatID, text)
}

func categorySummary(w *storage.Subscription) string {
	var on []string
	for _, c := range event.Categories() {
		if w.Enabled(c) {
			on = append(on, string(c))
		}
	}
	if len(on) == 0 {
		return "all muted"
	}
	return strings.Join(on, ", ")
}

func categoryLabel(c event.Category) string {
	switch c {
	case event.CategoryIssues:
		return "Issue"
	case event.CategoryPRs:
		return "Pull request"
	case event.CategoryCommits:
		return "Push"
	case event.CategoryComments:
		return "Comment"
	}
	return string(c)
}

// formatDuration formats a duration to a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// repoLink creates an HTML link to a repository.
func repoLink(fullName string) string {
	fullName = strings.TrimSpace(fullName)
	if owner, repo, err := watch.ParseRepo(fullName); err == nil {
		fullName = owner + "/" + repo
	}
	return fmt.Sprintf(`<a href="https://github.com/%s"><b>%s</b></a>`, esc(fullName), esc(fullName))
}

func esc(s string) string {
	return html.EscapeString(s)
}

func (h *Handlers) internalError(chatID int64, err error, msg string) {
	logger.Error().Err(err).Int64("chat_id", chatID).Msg(msg)
	h.sendReply(chatID, "❌ An error occurred. Please try again.")
}

// sendReply sends a plain text reply.
func (h *Handlers) sendReply(chatID int64, text string) {
	h.send(tgbotapi.NewMessage(chatID, text))
}

// sendHTML sends an HTML-formatted message.
func (h *Handlers) sendHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	h.send(msg)
}

func (h *Handlers) send(msg tgbotapi.MessageConfig) {
	if _, err := h.api.Send(msg); err != nil {
		logger.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("Failed to send reply")
	}
}
