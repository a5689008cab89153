package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/user/gitwatch/internal/event"
)

const subscriptionColumns = `s.id, s.subscriber_id, s.owner, s.repo, s.active, s.watch_mode,
	s.webhook_id, s.last_polled, s.notify_issues, s.notify_prs, s.notify_commits,
	s.notify_comments, s.created_at`

const targetColumns = subscriptionColumns + `, u.chat_id, u.github_token, u.github_username`

// SubscriptionStore handles subscriber and subscription database operations.
type SubscriptionStore struct {
	db *Database
}

// NewSubscriptionStore creates a new subscription store.
func NewSubscriptionStore(db *Database) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// EnsureSubscriber returns the subscriber for a chat, creating it on first contact.
func (s *SubscriptionStore) EnsureSubscriber(ctx context.Context, chatID int64) (*Subscriber, error) {
	query := s.db.Rebind(`INSERT INTO subscribers (chat_id) VALUES (?) ON CONFLICT (chat_id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, chatID); err != nil {
		return nil, fmt.Errorf("insert subscriber %d: %w", chatID, err)
	}
	return s.GetSubscriberByChat(ctx, chatID)
}

// GetSubscriberByChat returns the subscriber bound to a chat.
func (s *SubscriptionStore) GetSubscriberByChat(ctx context.Context, chatID int64) (*Subscriber, error) {
	var sub Subscriber
	query := s.db.Rebind(`SELECT id, chat_id, github_token, github_username, created_at
		FROM subscribers WHERE chat_id = ?`)
	if err := s.db.GetContext(ctx, &sub, query, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscriber %d: %w", chatID, err)
	}
	return &sub, nil
}

// LinkAccount stores the GitHub credential obtained by the account-linking flow.
func (s *SubscriptionStore) LinkAccount(ctx context.Context, chatID int64, token, username string) error {
	query := s.db.Rebind(`UPDATE subscribers SET github_token = ?, github_username = ? WHERE chat_id = ?`)
	res, err := s.db.ExecContext(ctx, query, token, username, chatID)
	if err != nil {
		return fmt.Errorf("link account for chat %d: %w", chatID, err)
	}
	return expectRow(res)
}

// Disconnect removes every subscription of a subscriber and clears its GitHub
// credential. It returns the number of subscriptions removed.
func (s *SubscriptionStore) Disconnect(ctx context.Context, subscriberID int64) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin disconnect: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM subscriptions WHERE subscriber_id = ?`), subscriberID)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE subscribers SET github_token = NULL, github_username = NULL WHERE id = ?`),
		subscriberID,
	); err != nil {
		return 0, fmt.Errorf("clear credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit disconnect: %w", err)
	}
	return removed, nil
}

// DeleteSubscriber removes a subscriber; its subscriptions are cascaded.
func (s *SubscriptionStore) DeleteSubscriber(ctx context.Context, subscriberID int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM subscribers WHERE id = ?`), subscriberID)
	if err != nil {
		return fmt.Errorf("delete subscriber %d: %w", subscriberID, err)
	}
	return expectRow(res)
}

// AddSubscription creates a watch. It returns ErrAlreadyWatching when the
// (subscriber, owner, repo) triple already exists.
func (s *SubscriptionStore) AddSubscription(ctx context.Context, n NewSubscription) (*Subscription, error) {
	if (n.WatchMode == WatchModeWebhook) != (n.WebhookID != nil) {
		return nil, fmt.Errorf("webhook id must be set exactly when watch mode is webhook")
	}

	var webhookID sql.NullInt64
	if n.WebhookID != nil {
		webhookID = sql.NullInt64{Int64: *n.WebhookID, Valid: true}
	}

	query := s.db.Rebind(`
		INSERT INTO subscriptions (subscriber_id, owner, repo, active, watch_mode, webhook_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (subscriber_id, owner, repo) DO NOTHING
		RETURNING id
	`)
	var id int64
	err := s.db.QueryRowxContext(ctx, query, n.SubscriberID, n.Owner, n.Repo, true, n.WatchMode, webhookID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlreadyWatching
		}
		return nil, fmt.Errorf("insert subscription %s/%s: %w", n.Owner, n.Repo, err)
	}
	return s.getSubscriptionByID(ctx, id)
}

// GetSubscription returns a specific subscription.
func (s *SubscriptionStore) GetSubscription(ctx context.Context, subscriberID int64, owner, repo string) (*Subscription, error) {
	var sub Subscription
	query := s.db.Rebind(`SELECT ` + subscriptionColumns + ` FROM subscriptions s
		WHERE s.subscriber_id = ? AND s.owner = ? AND s.repo = ?`)
	if err := s.db.GetContext(ctx, &sub, query, subscriberID, owner, repo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscription %s/%s: %w", owner, repo, err)
	}
	return &sub, nil
}

func (s *SubscriptionStore) getSubscriptionByID(ctx context.Context, id int64) (*Subscription, error) {
	var sub Subscription
	query := s.db.Rebind(`SELECT ` + subscriptionColumns + ` FROM subscriptions s WHERE s.id = ?`)
	if err := s.db.GetContext(ctx, &sub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscription %d: %w", id, err)
	}
	return &sub, nil
}

// ListBySubscriber returns all subscriptions of a subscriber, newest first.
func (s *SubscriptionStore) ListBySubscriber(ctx context.Context, subscriberID int64) ([]Subscription, error) {
	var subs []Subscription
	query := s.db.Rebind(`SELECT ` + subscriptionColumns + ` FROM subscriptions s
		WHERE s.subscriber_id = ? ORDER BY s.created_at DESC, s.id DESC`)
	if err := s.db.SelectContext(ctx, &subs, query, subscriberID); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteSubscription removes a subscription.
func (s *SubscriptionStore) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM subscriptions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete subscription %d: %w", id, err)
	}
	return expectRow(res)
}

var preferenceColumns = map[event.Category]string{
	event.CategoryIssues:   "notify_issues",
	event.CategoryPRs:      "notify_prs",
	event.CategoryCommits:  "notify_commits",
	event.CategoryComments: "notify_comments",
}

// SetPreference turns one notification category on or off. The write is an
// unconditional single-row update.
func (s *SubscriptionStore) SetPreference(ctx context.Context, id int64, c event.Category, enabled bool) error {
	column, ok := preferenceColumns[c]
	if !ok {
		return fmt.Errorf("unknown preference %q", c)
	}
	query := s.db.Rebind(`UPDATE subscriptions SET ` + column + ` = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, enabled, id)
	if err != nil {
		return fmt.Errorf("set %s on subscription %d: %w", column, id, err)
	}
	return expectRow(res)
}

// ActiveTargetsForRepo returns every active subscription watching owner/repo,
// with the subscriber fields needed for delivery.
func (s *SubscriptionStore) ActiveTargetsForRepo(ctx context.Context, owner, repo string) ([]Target, error) {
	var targets []Target
	query := s.db.Rebind(`SELECT ` + targetColumns + `
		FROM subscriptions s JOIN subscribers u ON u.id = s.subscriber_id
		WHERE s.owner = ? AND s.repo = ? AND s.active = ?
		ORDER BY s.id`)
	if err := s.db.SelectContext(ctx, &targets, query, owner, repo, true); err != nil {
		return nil, fmt.Errorf("find subscribers of %s/%s: %w", owner, repo, err)
	}
	return targets, nil
}

// DuePollingTargets returns active polling subscriptions, least recently
// polled first (never polled before any other), capped at limit.
func (s *SubscriptionStore) DuePollingTargets(ctx context.Context, limit int) ([]Target, error) {
	var targets []Target
	query := s.db.Rebind(`SELECT ` + targetColumns + `
		FROM subscriptions s JOIN subscribers u ON u.id = s.subscriber_id
		WHERE s.watch_mode = ? AND s.active = ?
		ORDER BY s.last_polled IS NOT NULL, s.last_polled ASC, s.id ASC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &targets, query, WatchModePolling, true, limit); err != nil {
		return nil, fmt.Errorf("find due polling subscriptions: %w", err)
	}
	return targets, nil
}

// AdvanceLastPolled moves the watermark of a subscription forward to at. An
// older value never overwrites a newer one. A subscription that vanished
// meanwhile is not an error.
func (s *SubscriptionStore) AdvanceLastPolled(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	query := s.db.Rebind(`UPDATE subscriptions SET last_polled = ?
		WHERE id = ? AND (last_polled IS NULL OR last_polled < ?)`)
	if _, err := s.db.ExecContext(ctx, query, at, id, at); err != nil {
		return fmt.Errorf("advance last_polled of %d: %w", id, err)
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
