// Package watch implements the subscription commands behind the chat bot.
package watch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/user/gitwatch/internal/event"
	"github.com/user/gitwatch/internal/github"
	"github.com/user/gitwatch/internal/storage"
	"github.com/user/gitwatch/pkg/logger"
)

// Errors returned to the command layer.
var (
	ErrNotLinked       = errors.New("github account not linked")
	ErrInvalidRepo     = errors.New("invalid repository")
	ErrRepoNotFound    = errors.New("repository not found or not accessible")
	ErrNotWatching     = errors.New("not watching repository")
	ErrAlreadyWatching = storage.ErrAlreadyWatching
)

// Store is the persistence the service needs.
type Store interface {
	EnsureSubscriber(ctx context.Context, chatID int64) (*storage.Subscriber, error)
	GetSubscriberByChat(ctx context.Context, chatID int64) (*storage.Subscriber, error)
	AddSubscription(ctx context.Context, n storage.NewSubscription) (*storage.Subscription, error)
	GetSubscription(ctx context.Context, subscriberID int64, owner, repo string) (*storage.Subscription, error)
	ListBySubscriber(ctx context.Context, subscriberID int64) ([]storage.Subscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
	SetPreference(ctx context.Context, id int64, c event.Category, enabled bool) error
	Disconnect(ctx context.Context, subscriberID int64) (int64, error)
}

// Host is the repository host API used to validate repositories and manage
// webhooks.
type Host interface {
	RepoAccess(ctx context.Context, token, owner, repo string) (github.Access, error)
	CreateHook(ctx context.Context, token, owner, repo string, cfg github.HookConfig) (int64, error)
	DeleteHook(ctx context.Context, token, owner, repo string, id int64) error
	AuthenticatedLogin(ctx context.Context, token string) (string, error)
}

// Service carries out watch management on behalf of a chat.
type Service struct {
	store Store
	host  Host
	hook  github.HookConfig
}

// NewService creates a service. Webhooks are only installed when hook has
// both a URL and a secret; otherwise every watch is polled.
func NewService(store Store, host Host, hook github.HookConfig) *Service {
	return &Service{store: store, host: host, hook: hook}
}

func (s *Service) webhooksEnabled() bool {
	return s.hook.URL != "" && s.hook.Secret != ""
}

var (
	repoURLPattern  = regexp.MustCompile(`github\.com/([^/\s]+)/([^/\s#?]+)`)
	repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// ParseRepo accepts "owner/repo" or a github.com repository URL.
func ParseRepo(input string) (owner, repo string, err error) {
	input = strings.TrimSpace(input)
	if m := repoURLPattern.FindStringSubmatch(input); m != nil {
		owner, repo = m[1], strings.TrimSuffix(m[2], ".git")
	} else {
		parts := strings.Split(input, "/")
		if len(parts) != 2 {
			return "", "", ErrInvalidRepo
		}
		owner, repo = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}

	if !repoNamePattern.MatchString(owner) || !repoNamePattern.MatchString(repo) {
		return "", "", ErrInvalidRepo
	}
	return owner, repo, nil
}

// Start registers the chat on first contact.
func (s *Service) Start(ctx context.Context, chatID int64) (*storage.Subscriber, error) {
	return s.store.EnsureSubscriber(ctx, chatID)
}

func (s *Service) linkedSubscriber(ctx context.Context, chatID int64) (*storage.Subscriber, error) {
	sub, err := s.store.EnsureSubscriber(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !sub.Linked() {
		return nil, ErrNotLinked
	}
	return sub, nil
}

// Watch subscribes the chat to a repository. A webhook is installed when the
// linked account may manage hooks; any failure on that path falls back to
// polling.
func (s *Service) Watch(ctx context.Context, chatID int64, input string) (*storage.Subscription, error) {
	owner, repo, err := ParseRepo(input)
	if err != nil {
		return nil, err
	}
	sub, err := s.linkedSubscriber(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetSubscription(ctx, sub.ID, owner, repo); err == nil {
		return nil, ErrAlreadyWatching
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	token := sub.GitHubToken.String
	access, err := s.host.RepoAccess(ctx, token, owner, repo)
	if err != nil {
		if github.IsNotFound(err) {
			return nil, ErrRepoNotFound
		}
		return nil, fmt.Errorf("check access to %s/%s: %w", owner, repo, err)
	}

	n := storage.NewSubscription{
		SubscriberID: sub.ID,
		Owner:        owner,
		Repo:         repo,
		WatchMode:    storage.WatchModePolling,
	}
	if access.CanManageHooks() && s.webhooksEnabled() {
		id, err := s.host.CreateHook(ctx, token, owner, repo, s.hook)
		if err != nil {
			logger.Warn().Err(err).Str("repo", owner+"/"+repo).Msg("Webhook creation failed, falling back to polling")
		} else {
			n.WatchMode = storage.WatchModeWebhook
			n.WebhookID = &id
		}
	}

	created, err := s.store.AddSubscription(ctx, n)
	if err != nil {
		if n.WebhookID != nil {
			s.removeHook(ctx, token, owner, repo, *n.WebhookID)
		}
		return nil, err
	}

	logger.Info().
		Int64("chat_id", chatID).
		Str("repo", created.FullName()).
		Str("mode", string(created.WatchMode)).
		Msg("Watch created")
	return created, nil
}

// Unwatch removes a watch, deleting its webhook when one was installed.
func (s *Service) Unwatch(ctx context.Context, chatID int64, input string) (*storage.Subscription, error) {
	owner, repo, err := ParseRepo(input)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubscriberByChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotWatching
	} else if err != nil {
		return nil, err
	}

	w, err := s.store.GetSubscription(ctx, sub.ID, owner, repo)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotWatching
	} else if err != nil {
		return nil, err
	}

	if w.WebhookID.Valid && sub.Linked() {
		s.removeHook(ctx, sub.GitHubToken.String, owner, repo, w.WebhookID.Int64)
	}
	if err := s.store.DeleteSubscription(ctx, w.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return w, nil
}

// List returns the chat's active watches, newest first.
func (s *Service) List(ctx context.Context, chatID int64) ([]storage.Subscription, error) {
	sub, err := s.store.GetSubscriberByChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	all, err := s.store.ListBySubscriber(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, w := range all {
		if w.Active {
			active = append(active, w)
		}
	}
	return active, nil
}

// SetPreference toggles one notification category of a watch.
func (s *Service) SetPreference(ctx context.Context, chatID int64, input string, c event.Category, enabled bool) error {
	owner, repo, err := ParseRepo(input)
	if err != nil {
		return err
	}
	sub, err := s.store.GetSubscriberByChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotWatching
	} else if err != nil {
		return err
	}

	w, err := s.store.GetSubscription(ctx, sub.ID, owner, repo)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotWatching
	} else if err != nil {
		return err
	}
	return s.store.SetPreference(ctx, w.ID, c, enabled)
}

// Disconnect deletes every watch and its webhook and forgets the linked
// account. It returns the number of watches removed.
func (s *Service) Disconnect(ctx context.Context, chatID int64) (int64, error) {
	sub, err := s.store.GetSubscriberByChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrNotLinked
	} else if err != nil {
		return 0, err
	}
	if !sub.Linked() {
		return 0, ErrNotLinked
	}

	watches, err := s.store.ListBySubscriber(ctx, sub.ID)
	if err != nil {
		return 0, err
	}
	for _, w := range watches {
		if w.WebhookID.Valid {
			s.removeHook(ctx, sub.GitHubToken.String, w.Owner, w.Repo, w.WebhookID.Int64)
		}
	}
	return s.store.Disconnect(ctx, sub.ID)
}

// Status summarizes a chat's account and watches.
type Status struct {
	Registered bool
	Linked     bool
	Username   string
	TokenValid bool
	Watches    []storage.Subscription
}

// Status reports the chat's link state. When an account is linked the token
// is checked against GitHub.
func (s *Service) Status(ctx context.Context, chatID int64) (Status, error) {
	sub, err := s.store.GetSubscriberByChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return Status{}, nil
	} else if err != nil {
		return Status{}, err
	}

	st := Status{Registered: true, Linked: sub.Linked(), Username: sub.GitHubUsername.String}
	if st.Linked {
		login, err := s.host.AuthenticatedLogin(ctx, sub.GitHubToken.String)
		if err != nil {
			logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Linked token rejected")
		} else {
			st.TokenValid = true
			if st.Username == "" {
				st.Username = login
			}
		}
	}

	if st.Watches, err = s.List(ctx, chatID); err != nil {
		return Status{}, err
	}
	return st, nil
}

func (s *Service) removeHook(ctx context.Context, token, owner, repo string, id int64) {
	if err := s.host.DeleteHook(ctx, token, owner, repo, id); err != nil {
		logger.Warn().Err(err).
			Str("repo", owner+"/"+repo).
			Int64("hook_id", id).
			Msg("Failed to delete webhook")
	}
}
