package github

import (
	"encoding/json"
	"testing"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gitwatch/internal/event"
)

func parse(t *testing.T, eventType, body string) interface{} {
	t.Helper()
	payload, err := gh.ParseWebHook(eventType, []byte(body))
	require.NoError(t, err)
	return payload
}

func TestNormalize_Issues(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind event.Kind
		wantNil  bool
		assignee string
		url      string
		title    string
	}{
		{
			name:     "opened",
			body:     `{"action":"opened","issue":{"number":7,"title":"Crash on start","html_url":"https://github.com/o/r/issues/7"}}`,
			wantKind: event.IssueOpened,
			url:      "https://github.com/o/r/issues/7",
			title:    "Crash on start",
		},
		{
			name:     "closed without url or title",
			body:     `{"action":"closed","issue":{"number":8}}`,
			wantKind: event.IssueClosed,
			url:      "https://github.com/o/r/issues/8",
			title:    "#8",
		},
		{
			name:     "assigned",
			body:     `{"action":"assigned","issue":{"number":9,"title":"t"},"assignee":{"login":"alice"}}`,
			wantKind: event.IssueAssigned,
			assignee: "alice",
			url:      "https://github.com/o/r/issues/9",
			title:    "t",
		},
		{
			name:    "assigned without assignee",
			body:    `{"action":"assigned","issue":{"number":9}}`,
			wantNil: true,
		},
		{
			name:    "labeled is ignored",
			body:    `{"action":"labeled","issue":{"number":9}}`,
			wantNil: true,
		},
		{
			name:     "no number",
			body:     `{"action":"opened","issue":{}}`,
			wantKind: event.IssueOpened,
			url:      "https://github.com/o/r/issues",
			title:    "#unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Normalize("o", "r", "bob", parse(t, "issues", tt.body))
			if tt.wantNil {
				assert.Nil(t, ev)
				return
			}
			require.NotNil(t, ev)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.assignee, ev.Assignee)
			assert.Equal(t, tt.url, ev.URL)
			assert.Equal(t, tt.title, ev.Title)
			assert.Equal(t, "bob", ev.Actor)
		})
	}
}

func TestNormalize_PullRequestClosedVsMerged(t *testing.T) {
	merged := Normalize("o", "r", "bob", parse(t, "pull_request",
		`{"action":"closed","number":3,"pull_request":{"number":3,"title":"Add x","merged":true}}`))
	require.NotNil(t, merged)
	assert.Equal(t, event.PRMerged, merged.Kind)
	assert.Equal(t, "https://github.com/o/r/pull/3", merged.URL)

	closed := Normalize("o", "r", "bob", parse(t, "pull_request",
		`{"action":"closed","number":3,"pull_request":{"number":3,"title":"Add x","merged":false}}`))
	require.NotNil(t, closed)
	assert.Equal(t, event.PRClosed, closed.Kind)
}

func TestNormalize_PullRequestOther(t *testing.T) {
	opened := Normalize("o", "r", "", parse(t, "pull_request",
		`{"action":"opened","pull_request":{"html_url":"https://github.com/o/r/pull/5","title":"T"}}`))
	require.NotNil(t, opened)
	assert.Equal(t, event.PROpened, opened.Kind)
	assert.Equal(t, "someone", opened.Actor)
	assert.Equal(t, "https://github.com/o/r/pull/5", opened.URL)

	noNumber := Normalize("o", "r", "bob", parse(t, "pull_request", `{"action":"opened","pull_request":{}}`))
	require.NotNil(t, noNumber)
	assert.Equal(t, "https://github.com/o/r/pulls", noNumber.URL)

	assigned := Normalize("o", "r", "bob", parse(t, "pull_request",
		`{"action":"assigned","number":2,"pull_request":{"number":2},"assignee":{"login":"carol"}}`))
	require.NotNil(t, assigned)
	assert.Equal(t, event.PRAssigned, assigned.Kind)
	assert.Equal(t, "carol", assigned.Assignee)

	assert.Nil(t, Normalize("o", "r", "bob", parse(t, "pull_request",
		`{"action":"assigned","number":2,"pull_request":{"number":2}}`)))
	assert.Nil(t, Normalize("o", "r", "bob", parse(t, "pull_request",
		`{"action":"synchronize","number":2,"pull_request":{"number":2}}`)))
}

func TestNormalize_PushZeroCommitsDropped(t *testing.T) {
	assert.Nil(t, Normalize("o", "r", "bob", parse(t, "push",
		`{"ref":"refs/heads/main","commits":[]}`)))
	assert.Nil(t, Normalize("o", "r", "bob", parse(t, "push",
		`{"ref":"refs/heads/main","size":0,"commits":[{"message":"x"}]}`)))
}

func TestNormalize_Push(t *testing.T) {
	ev := Normalize("o", "r", "bob", parse(t, "push", `{
		"ref":"refs/heads/feature/x",
		"before":"aaa","after":"bbb",
		"commits":[
			{"message":"first line\n\nbody"},
			{"message":""},
			{"message":"this commit message is definitely longer than fifty characters in total"},
			{"message":"fourth"}
		]}`))
	require.NotNil(t, ev)

	assert.Equal(t, event.Push, ev.Kind)
	assert.Equal(t, "feature/x", ev.Branch)
	assert.Equal(t, 4, ev.CommitCount)
	require.Len(t, ev.CommitSummaries, 3)
	assert.Equal(t, "first line", ev.CommitSummaries[0])
	assert.Equal(t, "No message", ev.CommitSummaries[1])
	assert.Equal(t, "this commit message is definitely longer than fift", ev.CommitSummaries[2])
	assert.Equal(t, "https://github.com/o/r/compare/aaa...bbb", ev.URL)
}

func TestNormalize_PushURLFallbacks(t *testing.T) {
	withCompare := Normalize("o", "r", "bob", parse(t, "push",
		`{"ref":"refs/heads/main","compare":"https://github.com/o/r/compare/x","commits":[{"message":"m"}]}`))
	require.NotNil(t, withCompare)
	assert.Equal(t, "https://github.com/o/r/compare/x", withCompare.URL)

	branchOnly := Normalize("o", "r", "bob", parse(t, "push",
		`{"ref":"refs/heads/main","commits":[{"message":"m"}]}`))
	require.NotNil(t, branchOnly)
	assert.Equal(t, "https://github.com/o/r/commits/main", branchOnly.URL)
}

func TestNormalize_PushSizeOverridesCommitList(t *testing.T) {
	ev := Normalize("o", "r", "bob", parse(t, "push",
		`{"ref":"refs/heads/main","size":25,"commits":[{"message":"a"},{"message":"b"}]}`))
	require.NotNil(t, ev)
	assert.Equal(t, 25, ev.CommitCount)
	assert.Len(t, ev.CommitSummaries, 2)
}

func TestNormalize_Comment(t *testing.T) {
	onPR := Normalize("o", "r", "bob", parse(t, "issue_comment", `{
		"action":"created",
		"issue":{"number":4,"title":"Fix","pull_request":{"url":"https://api.github.com/repos/o/r/pulls/4"}},
		"comment":{"id":99}}`))
	require.NotNil(t, onPR)
	assert.Equal(t, event.Comment, onPR.Kind)
	assert.True(t, onPR.OnPullRequest)
	assert.Equal(t, "https://github.com/o/r/issues/4#issuecomment-99", onPR.URL)

	onIssue := Normalize("o", "r", "bob", parse(t, "issue_comment", `{
		"action":"created",
		"issue":{"number":4},
		"comment":{"html_url":"https://github.com/o/r/issues/4#issuecomment-1"}}`))
	require.NotNil(t, onIssue)
	assert.False(t, onIssue.OnPullRequest)
	assert.Equal(t, "#4", onIssue.Title)
	assert.Equal(t, "https://github.com/o/r/issues/4#issuecomment-1", onIssue.URL)

	assert.Nil(t, Normalize("o", "r", "bob", parse(t, "issue_comment",
		`{"action":"edited","issue":{"number":4},"comment":{"id":1}}`)))
}

func TestNormalize_UnsupportedPayload(t *testing.T) {
	assert.Nil(t, Normalize("o", "r", "bob", parse(t, "star", `{"action":"created"}`)))
	assert.Nil(t, Normalize("o", "r", "bob", nil))
}

func feedEvent(t *testing.T, typ, actor string, at time.Time, payload string) *gh.Event {
	t.Helper()
	raw := json.RawMessage(payload)
	return &gh.Event{
		Type:       gh.String(typ),
		Actor:      &gh.User{Login: gh.String(actor)},
		CreatedAt:  &gh.Timestamp{Time: at},
		RawPayload: &raw,
	}
}

func TestNormalizeFeedEvent(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	push := feedEvent(t, "PushEvent", "dave", at,
		`{"ref":"refs/heads/main","size":2,"before":"b1","head":"h2","commits":[{"message":"a"},{"message":"b"}]}`)
	ev, err := NormalizeFeedEvent("o", "r", push)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, event.Push, ev.Kind)
	assert.Equal(t, "dave", ev.Actor)
	assert.Equal(t, "https://github.com/o/r/compare/b1...h2", ev.URL)
	assert.True(t, ev.CreatedAt.Equal(at))

	watch := feedEvent(t, "WatchEvent", "dave", at, `{"action":"started"}`)
	ev, err = NormalizeFeedEvent("o", "r", watch)
	require.NoError(t, err)
	assert.Nil(t, ev)
}
