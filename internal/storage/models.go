// Package storage provides database operations and data models.
package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/user/gitwatch/internal/event"
)

// Storage errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyWatching = errors.New("already watching")
)

// WatchMode says how activity for a subscription is ingested.
type WatchMode string

const (
	WatchModeWebhook WatchMode = "webhook"
	WatchModePolling WatchMode = "polling"
)

// Subscriber is a Telegram chat receiving notifications.
type Subscriber struct {
	ID             int64          `db:"id"`
	ChatID         int64          `db:"chat_id"`
	GitHubToken    sql.NullString `db:"github_token"`
	GitHubUsername sql.NullString `db:"github_username"`
	CreatedAt      time.Time      `db:"created_at"`
}

// Linked reports whether account linking stored a usable GitHub token.
func (s *Subscriber) Linked() bool {
	return s.GitHubToken.Valid && s.GitHubToken.String != ""
}

// Subscription is one (subscriber, owner, repo) watch.
type Subscription struct {
	ID             int64         `db:"id"`
	SubscriberID   int64         `db:"subscriber_id"`
	Owner          string        `db:"owner"`
	Repo           string        `db:"repo"`
	Active         bool          `db:"active"`
	WatchMode      WatchMode     `db:"watch_mode"`
	WebhookID      sql.NullInt64 `db:"webhook_id"`
	LastPolled     sql.NullTime  `db:"last_polled"`
	NotifyIssues   bool          `db:"notify_issues"`
	NotifyPRs      bool          `db:"notify_prs"`
	NotifyCommits  bool          `db:"notify_commits"`
	NotifyComments bool          `db:"notify_comments"`
	CreatedAt      time.Time     `db:"created_at"`
}

// FullName returns "owner/repo".
func (s *Subscription) FullName() string {
	return s.Owner + "/" + s.Repo
}

// Kinds returns the enabled notification kinds derived from the stored flags.
func (s *Subscription) Kinds() event.KindSet {
	return event.FromFlags(s.NotifyIssues, s.NotifyPRs, s.NotifyCommits, s.NotifyComments)
}

// Enabled reports whether the toggle for c is on.
func (s *Subscription) Enabled(c event.Category) bool {
	switch c {
	case event.CategoryIssues:
		return s.NotifyIssues
	case event.CategoryPRs:
		return s.NotifyPRs
	case event.CategoryCommits:
		return s.NotifyCommits
	case event.CategoryComments:
		return s.NotifyComments
	}
	return false
}

// Target is a subscription joined with the subscriber fields needed to poll
// and to deliver.
type Target struct {
	Subscription
	ChatID         int64          `db:"chat_id"`
	GitHubToken    sql.NullString `db:"github_token"`
	GitHubUsername sql.NullString `db:"github_username"`
}

// NewSubscription holds the fields chosen when a watch is created.
type NewSubscription struct {
	SubscriberID int64
	Owner        string
	Repo         string
	WatchMode    WatchMode
	WebhookID    *int64
}
