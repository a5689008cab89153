package watch

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gitwatch/internal/event"
	"github.com/user/gitwatch/internal/github"
	"github.com/user/gitwatch/internal/storage"
)

type fakeHost struct {
	access     map[string]github.Access
	createErr  error
	deleteErr  error
	loginErr   error
	nextHookID int64
	created    []string
	deleted    []int64
}

func newFakeHost() *fakeHost {
	return &fakeHost{access: map[string]github.Access{}, nextHookID: 100}
}

func (h *fakeHost) RepoAccess(_ context.Context, _, owner, repo string) (github.Access, error) {
	a, ok := h.access[owner+"/"+repo]
	if !ok {
		return github.Access{}, &github.UpstreamError{StatusCode: http.StatusNotFound, Err: errors.New("Not Found")}
	}
	return a, nil
}

func (h *fakeHost) CreateHook(_ context.Context, _, owner, repo string, _ github.HookConfig) (int64, error) {
	if h.createErr != nil {
		return 0, h.createErr
	}
	h.nextHookID++
	h.created = append(h.created, owner+"/"+repo)
	return h.nextHookID, nil
}

func (h *fakeHost) DeleteHook(_ context.Context, _, _, _ string, id int64) error {
	h.deleted = append(h.deleted, id)
	return h.deleteErr
}

func (h *fakeHost) AuthenticatedLogin(context.Context, string) (string, error) {
	if h.loginErr != nil {
		return "", h.loginErr
	}
	return "octocat", nil
}

var hookCfg = github.HookConfig{URL: "https://bot.example.com/api/webhooks/github", Secret: "shh"}

func newTestService(t *testing.T, host *fakeHost, hook github.HookConfig) (*Service, *storage.SubscriptionStore) {
	t.Helper()
	db, err := storage.NewDatabase(storage.DriverSQLite, filepath.Join(t.TempDir(), "watch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewSubscriptionStore(db)
	return NewService(store, host, hook), store
}

func linked(t *testing.T, store *storage.SubscriptionStore, chatID int64) {
	t.Helper()
	ctx := context.Background()
	_, err := store.EnsureSubscriber(ctx, chatID)
	require.NoError(t, err)
	require.NoError(t, store.LinkAccount(ctx, chatID, "gho_token", "octocat"))
}

func TestParseRepo(t *testing.T) {
	tests := []struct {
		input   string
		owner   string
		repo    string
		wantErr bool
	}{
		{input: "golang/go", owner: "golang", repo: "go"},
		{input: "  golang/go  ", owner: "golang", repo: "go"},
		{input: "https://github.com/golang/go", owner: "golang", repo: "go"},
		{input: "https://github.com/golang/go.git", owner: "golang", repo: "go"},
		{input: "github.com/golang/go/issues/1", owner: "golang", repo: "go"},
		{input: "golang", wantErr: true},
		{input: "a/b/c", wantErr: true},
		{input: "/go", wantErr: true},
		{input: "golang/", wantErr: true},
		{input: "bad owner/go", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			owner, repo, err := ParseRepo(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRepo)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestWatch_RequiresLinkedAccount(t *testing.T) {
	svc, _ := newTestService(t, newFakeHost(), hookCfg)

	_, err := svc.Watch(context.Background(), 10, "golang/go")
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestWatch_WebhookWhenAdmin(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{Admin: true}
	svc, store := newTestService(t, host, hookCfg)
	linked(t, store, 10)

	w, err := svc.Watch(context.Background(), 10, "golang/go")
	require.NoError(t, err)
	assert.Equal(t, storage.WatchModeWebhook, w.WatchMode)
	assert.True(t, w.WebhookID.Valid)
	assert.Equal(t, int64(101), w.WebhookID.Int64)
	assert.Equal(t, []string{"golang/go"}, host.created)
}

func TestWatch_PollingWithoutHookPermission(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{}
	svc, store := newTestService(t, host, hookCfg)
	linked(t, store, 10)

	w, err := svc.Watch(context.Background(), 10, "golang/go")
	require.NoError(t, err)
	assert.Equal(t, storage.WatchModePolling, w.WatchMode)
	assert.False(t, w.WebhookID.Valid)
	assert.Empty(t, host.created)
}

func TestWatch_PollingWhenHookCreationFails(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{Push: true}
	host.createErr = &github.UpstreamError{StatusCode: http.StatusForbidden, Err: errors.New("forbidden")}
	svc, store := newTestService(t, host, hookCfg)
	linked(t, store, 10)

	w, err := svc.Watch(context.Background(), 10, "golang/go")
	require.NoError(t, err)
	assert.Equal(t, storage.WatchModePolling, w.WatchMode)
}

func TestWatch_PollingWhenWebhooksDisabled(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{Admin: true}
	svc, store := newTestService(t, host, github.HookConfig{})
	linked(t, store, 10)

	w, err := svc.Watch(context.Background(), 10, "golang/go")
	require.NoError(t, err)
	assert.Equal(t, storage.WatchModePolling, w.WatchMode)
	assert.Empty(t, host.created)
}

func TestWatch_AlreadyWatching(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{Admin: true}
	svc, store := newTestService(t, host, hookCfg)
	linked(t, store, 10)
	ctx := context.Background()

	_, err := svc.Watch(ctx, 10, "golang/go")
	require.NoError(t, err)

	_, err = svc.Watch(ctx, 10, "https://github.com/golang/go")
	assert.ErrorIs(t, err, ErrAlreadyWatching)
	assert.Len(t, host.created, 1, "no second hook for the same repository")

	list, err := svc.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWatch_RepoNotFound(t *testing.T) {
	svc, store := newTestService(t, newFakeHost(), hookCfg)
	linked(t, store, 10)

	_, err := svc.Watch(context.Background(), 10, "golang/missing")
	assert.ErrorIs(t, err, ErrRepoNotFound)
}

func TestUnwatch(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{Admin: true}
	host.access["golang/tools"] = github.Access{}
	svc, store := newTestService(t, host, hookCfg)
	linked(t, store, 10)
	ctx := context.Background()

	_, err := svc.Watch(ctx, 10, "golang/go")
	require.NoError(t, err)
	_, err = svc.Watch(ctx, 10, "golang/tools")
	require.NoError(t, err)

	removed, err := svc.Unwatch(ctx, 10, "golang/go")
	require.NoError(t, err)
	assert.Equal(t, "golang/go", removed.FullName())
	assert.Equal(t, []int64{101}, host.deleted)

	// Polling watches have no hook to delete.
	_, err = svc.Unwatch(ctx, 10, "golang/tools")
	require.NoError(t, err)
	assert.Len(t, host.deleted, 1)

	_, err = svc.Unwatch(ctx, 10, "golang/go")
	assert.ErrorIs(t, err, ErrNotWatching)

	_, err = svc.Unwatch(ctx, 99, "golang/go")
	assert.ErrorIs(t, err, ErrNotWatching)
}

func TestUnwatch_HookDeletionFailureStillRemoves(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{Admin: true}
	svc, store := newTestService(t, host, hookCfg)
	linked(t, store, 10)
	ctx := context.Background()

	_, err := svc.Watch(ctx, 10, "golang/go")
	require.NoError(t, err)
	host.deleteErr = errors.New("boom")

	_, err = svc.Unwatch(ctx, 10, "golang/go")
	require.NoError(t, err)

	list, err := svc.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetPreference(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{}
	svc, store := newTestService(t, host, hookCfg)
	linked(t, store, 10)
	ctx := context.Background()

	_, err := svc.Watch(ctx, 10, "golang/go")
	require.NoError(t, err)

	require.NoError(t, svc.SetPreference(ctx, 10, "golang/go", event.CategoryCommits, false))

	list, err := svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].NotifyCommits)
	assert.True(t, list[0].NotifyIssues)
	assert.False(t, list[0].Kinds().Has(event.Push))

	assert.ErrorIs(t, svc.SetPreference(ctx, 10, "golang/tools", event.CategoryIssues, false), ErrNotWatching)
}

func TestDisconnect(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{Admin: true}
	host.access["golang/tools"] = github.Access{}
	svc, store := newTestService(t, host, hookCfg)
	linked(t, store, 10)
	ctx := context.Background()

	_, err := svc.Watch(ctx, 10, "golang/go")
	require.NoError(t, err)
	_, err = svc.Watch(ctx, 10, "golang/tools")
	require.NoError(t, err)

	removed, err := svc.Disconnect(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, []int64{101}, host.deleted)

	sub, err := store.GetSubscriberByChat(ctx, 10)
	require.NoError(t, err)
	assert.False(t, sub.Linked())
	assert.False(t, sub.GitHubUsername.Valid)

	_, err = svc.Disconnect(ctx, 10)
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestStatus(t *testing.T) {
	host := newFakeHost()
	host.access["golang/go"] = github.Access{}
	svc, store := newTestService(t, host, hookCfg)
	ctx := context.Background()

	st, err := svc.Status(ctx, 10)
	require.NoError(t, err)
	assert.False(t, st.Registered)

	_, err = svc.Start(ctx, 10)
	require.NoError(t, err)
	st, err = svc.Status(ctx, 10)
	require.NoError(t, err)
	assert.True(t, st.Registered)
	assert.False(t, st.Linked)

	require.NoError(t, store.LinkAccount(ctx, 10, "gho_token", "octocat"))
	_, err = svc.Watch(ctx, 10, "golang/go")
	require.NoError(t, err)

	st, err = svc.Status(ctx, 10)
	require.NoError(t, err)
	assert.True(t, st.Linked)
	assert.True(t, st.TokenValid)
	assert.Equal(t, "octocat", st.Username)
	assert.Len(t, st.Watches, 1)

	host.loginErr = errors.New("bad credentials")
	st, err = svc.Status(ctx, 10)
	require.NoError(t, err)
	assert.True(t, st.Linked)
	assert.False(t, st.TokenValid)
}
