// Package notifier filters normalized events against subscriber preferences
// and delivers them to chats.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/gitwatch/internal/event"
	"github.com/user/gitwatch/pkg/logger"
)

// ErrRecipientBlocked is wrapped by senders when the chat refuses messages
// from the bot.
var ErrRecipientBlocked = errors.New("recipient blocked the bot")

// Sender delivers one rendered message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Recipient is the delivery view of one subscription.
type Recipient struct {
	ChatID         int64
	GitHubUsername string
	Kinds          event.KindSet
}

// Outcome is the result of one Notify call.
type Outcome int

const (
	Delivered Outcome = iota
	Filtered
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Filtered:
		return "filtered"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Tally counts outcomes across recipients.
type Tally struct {
	Delivered int
	Filtered  int
	Failed    int
}

// Add counts o.
func (t *Tally) Add(o Outcome) {
	switch o {
	case Delivered:
		t.Delivered++
	case Filtered:
		t.Filtered++
	case Failed:
		t.Failed++
	}
}

// Notifier renders and sends events to recipients.
type Notifier struct {
	sender     Sender
	msgBuilder *MessageBuilder
}

// NewNotifier creates a new notifier instance.
func NewNotifier(sender Sender) *Notifier {
	return &Notifier{
		sender:     sender,
		msgBuilder: NewMessageBuilder(),
	}
}

// Notify delivers e to r when r's preferences allow it. A failed delivery is
// logged and reported as Failed; it never propagates to the caller.
func (n *Notifier) Notify(ctx context.Context, r Recipient, e *event.Event) (out Outcome) {
	kind := e.Kind.String()
	defer func() { recordOutcome(kind, out) }()

	if !Allows(r.Kinds, e.Kind) {
		return Filtered
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Interface("panic", rec).
				Int64("chat_id", r.ChatID).
				Str("repo", e.FullName()).
				Msg("Panic while delivering notification")
			recordFailure("panic")
			out = Failed
		}
	}()

	start := time.Now()
	err := n.sender.Send(ctx, r.ChatID, n.msgBuilder.Build(r, e))
	recordSendDuration(time.Since(start))

	if err != nil {
		reason := "error"
		if errors.Is(err, ErrRecipientBlocked) {
			reason = "blocked"
		}
		recordFailure(reason)
		logger.Error().
			Err(err).
			Int64("chat_id", r.ChatID).
			Str("repo", e.FullName()).
			Str("kind", kind).
			Str("reason", reason).
			Msg("Failed to send notification")
		return Failed
	}

	logger.Debug().
		Int64("chat_id", r.ChatID).
		Str("repo", e.FullName()).
		Str("kind", kind).
		Msg("Notification sent")
	return Delivered
}

// NotifyAll delivers e to every recipient in order. One recipient's failure
// does not affect the others.
func (n *Notifier) NotifyAll(ctx context.Context, recipients []Recipient, e *event.Event) Tally {
	var t Tally
	for _, r := range recipients {
		t.Add(n.Notify(ctx, r, e))
	}
	return t
}

// String implements fmt.Stringer for log fields.
func (t Tally) String() string {
	return fmt.Sprintf("delivered=%d filtered=%d failed=%d", t.Delivered, t.Filtered, t.Failed)
}
