package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	gh "github.com/google/go-github/v57/github"

	"github.com/user/gitwatch/internal/event"
	"github.com/user/gitwatch/internal/notifier"
	"github.com/user/gitwatch/internal/storage"
	"github.com/user/gitwatch/pkg/httputil"
	"github.com/user/gitwatch/pkg/logger"
)

// maxWebhookBody caps the request body; GitHub documents 25 MB as its limit.
const maxWebhookBody = 25 << 20

// deliveryTimeout bounds the fan-out of one verified delivery. It runs
// detached from the request so a dropped connection does not cut it short.
const deliveryTimeout = 2 * time.Minute

// TargetFinder looks up the subscriptions watching a repository.
type TargetFinder interface {
	ActiveTargetsForRepo(ctx context.Context, owner, repo string) ([]storage.Target, error)
}

// Dispatcher delivers one event to one recipient.
type Dispatcher interface {
	Notify(ctx context.Context, r notifier.Recipient, e *event.Event) notifier.Outcome
}

// Broadcaster delivers one event to a list of recipients.
type Broadcaster interface {
	NotifyAll(ctx context.Context, recipients []notifier.Recipient, e *event.Event) notifier.Tally
}

// WebhookHandler handles incoming GitHub webhooks.
type WebhookHandler struct {
	secret   string
	targets  TargetFinder
	notifier Broadcaster
	now      func() time.Time
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(secret string, targets TargetFinder, n Broadcaster) *WebhookHandler {
	return &WebhookHandler{
		secret:   secret,
		targets:  targets,
		notifier: n,
		now:      time.Now,
	}
}

// envelope holds the fields common to every repository webhook.
type envelope struct {
	Repository *struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// ServeHTTP verifies, normalizes and fans out one webhook delivery. Every
// redelivery is processed again; there is no cross-request dedup.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventType := gh.WebHookType(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read webhook body")
		recordWebhook(unverifiedEvent, "bad_request")
		httputil.Error(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	defer r.Body.Close()

	if err := VerifySignature(body, r.Header.Get(SignatureHeader), h.secret); err != nil {
		if errors.Is(err, ErrSecretNotConfigured) {
			logger.Error().Msg("Webhook secret is not configured")
			recordWebhook(unverifiedEvent, "error")
			httputil.Error(w, http.StatusInternalServerError, "Webhook secret not configured")
			return
		}
		logger.Warn().Err(err).Str("event_type", eventType).Msg("Rejected webhook")
		recordWebhook(unverifiedEvent, "unauthorized")
		msg := "Invalid signature"
		if errors.Is(err, ErrMissingSignature) {
			msg = "No signature provided"
		}
		httputil.Error(w, http.StatusUnauthorized, msg)
		return
	}
	label := webhookEventLabel(eventType)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Msg("Failed to decode webhook payload")
		recordWebhook(label, "error")
		httputil.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Ping and other repository-less deliveries.
	if env.Repository == nil {
		recordWebhook(label, "ignored")
		httputil.OK(w)
		return
	}

	owner, repo := env.Repository.Owner.Login, env.Repository.Name
	log := logger.WithField("repo", owner+"/"+repo)

	targets, err := h.targets.ActiveTargetsForRepo(r.Context(), owner, repo)
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up subscribers")
		recordWebhook(label, "error")
		httputil.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(targets) == 0 {
		log.Debug().Str("event_type", eventType).Msg("No subscribers for this repository")
		recordWebhook(label, "ignored")
		httputil.OK(w)
		return
	}

	payload, err := gh.ParseWebHook(eventType, body)
	if err != nil {
		log.Debug().Err(err).Str("event_type", eventType).Msg("Ignoring unsupported event type")
		recordWebhook(label, "ignored")
		httputil.OK(w)
		return
	}

	ev := Normalize(owner, repo, env.Sender.Login, payload)
	if ev == nil {
		recordWebhook(label, "ignored")
		httputil.OK(w)
		return
	}
	ev.CreatedAt = h.now()

	recipients := make([]notifier.Recipient, 0, len(targets))
	for _, t := range targets {
		recipients = append(recipients, recipientOf(t))
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), deliveryTimeout)
	defer cancel()
	tally := h.notifier.NotifyAll(ctx, recipients, ev)

	log.Info().
		Str("event_type", eventType).
		Str("kind", ev.Kind.String()).
		Stringer("tally", tally).
		Msg("Webhook event processed")
	recordWebhook(label, "ok")
	httputil.OK(w)
}

func recipientOf(t storage.Target) notifier.Recipient {
	return notifier.Recipient{
		ChatID:         t.ChatID,
		GitHubUsername: t.GitHubUsername.String,
		Kinds:          t.Kinds(),
	}
}
