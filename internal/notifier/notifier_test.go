package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gitwatch/internal/event"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn map[int64]error
	panics bool
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string) error {
	if f.panics {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[chatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func sampleEvent(k event.Kind) *event.Event {
	return &event.Event{
		Kind:            k,
		Owner:           "golang",
		Repo:            "go",
		Actor:           "gopher",
		Title:           "cmd/go: flaky test",
		URL:             "https://github.com/golang/go/issues/1",
		Branch:          "master",
		CommitCount:     1,
		CommitSummaries: []string{"fix build"},
		Assignee:        "rsc",
	}
}

func allKinds() event.KindSet {
	return event.FromFlags(true, true, true, true)
}

func TestNotify_FlagOffNeverSends(t *testing.T) {
	for _, k := range event.AllKinds() {
		t.Run(k.String(), func(t *testing.T) {
			sender := &fakeSender{}
			n := NewNotifier(sender)

			off := event.CategoryOf(k)
			flags := map[event.Category]bool{
				event.CategoryIssues:   off != event.CategoryIssues,
				event.CategoryPRs:      off != event.CategoryPRs,
				event.CategoryCommits:  off != event.CategoryCommits,
				event.CategoryComments: off != event.CategoryComments,
			}
			kinds := event.FromFlags(flags[event.CategoryIssues], flags[event.CategoryPRs],
				flags[event.CategoryCommits], flags[event.CategoryComments])

			out := n.Notify(context.Background(), Recipient{ChatID: 1, Kinds: kinds}, sampleEvent(k))

			assert.Equal(t, Filtered, out)
			assert.Empty(t, sender.sent)
		})
	}
}

func TestNotify_Delivers(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender)

	out := n.Notify(context.Background(), Recipient{ChatID: 7, Kinds: allKinds()}, sampleEvent(event.IssueOpened))

	assert.Equal(t, Delivered, out)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(7), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].text, "<b>New Issue</b>")
	assert.Contains(t, sender.sent[0].text, `<a href="https://github.com/golang/go/issues/1">View Issue</a>`)
}

func TestNotifyAll_FailureIsolated(t *testing.T) {
	sender := &fakeSender{failOn: map[int64]error{
		2: fmt.Errorf("send: %w", ErrRecipientBlocked),
		3: errors.New("network down"),
	}}
	n := NewNotifier(sender)

	recipients := []Recipient{
		{ChatID: 1, Kinds: allKinds()},
		{ChatID: 2, Kinds: allKinds()},
		{ChatID: 3, Kinds: allKinds()},
		{ChatID: 4, Kinds: allKinds()},
		{ChatID: 5, Kinds: event.FromFlags(false, false, false, false)},
	}
	tally := n.NotifyAll(context.Background(), recipients, sampleEvent(event.Push))

	assert.Equal(t, Tally{Delivered: 2, Failed: 2, Filtered: 1}, tally)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(1), sender.sent[0].chatID)
	assert.Equal(t, int64(4), sender.sent[1].chatID)
}

func TestNotify_PanicBecomesFailure(t *testing.T) {
	n := NewNotifier(&fakeSender{panics: true})

	out := n.Notify(context.Background(), Recipient{ChatID: 1, Kinds: allKinds()}, sampleEvent(event.Comment))

	assert.Equal(t, Failed, out)
}

func TestBuild_PullRequestClosedVsMerged(t *testing.T) {
	m := NewMessageBuilder()
	r := Recipient{ChatID: 1}

	merged := m.Build(r, sampleEvent(event.PRMerged))
	assert.Contains(t, merged, "<b>PR Merged</b>")
	assert.NotContains(t, merged, "PR Closed")

	closed := m.Build(r, sampleEvent(event.PRClosed))
	assert.Contains(t, closed, "<b>PR Closed</b>")
	assert.NotContains(t, closed, "PR Merged")
}

func TestBuild_AssigneePhrase(t *testing.T) {
	m := NewMessageBuilder()
	e := sampleEvent(event.IssueAssigned)

	self := m.Build(Recipient{GitHubUsername: "rsc"}, e)
	assert.Contains(t, self, "You have been assigned by @gopher")

	other := m.Build(Recipient{GitHubUsername: "someone-else"}, e)
	assert.Contains(t, other, "@rsc has been assigned by @gopher")

	unlinked := m.Build(Recipient{}, sampleEvent(event.PRAssigned))
	assert.Contains(t, unlinked, "@rsc has been assigned")
	assert.Contains(t, unlinked, "<b>PR Assigned</b>")
}

func TestBuild_PushListsCommits(t *testing.T) {
	m := NewMessageBuilder()
	e := sampleEvent(event.Push)
	e.CommitCount = 5
	e.CommitSummaries = []string{"one", "two", "three"}

	text := m.Build(Recipient{}, e)

	assert.Contains(t, text, "Branch: <code>master</code>")
	assert.Contains(t, text, "5 new commits by @gopher")
	assert.Contains(t, text, "• one\n• two\n• three\n... and 2 more")

	e.CommitCount = 1
	e.CommitSummaries = []string{"one"}
	assert.Contains(t, m.Build(Recipient{}, e), "1 new commit by")
}

func TestBuild_CommentParent(t *testing.T) {
	m := NewMessageBuilder()
	e := sampleEvent(event.Comment)

	assert.Contains(t, m.Build(Recipient{}, e), "New Comment (Issue)")
	e.OnPullRequest = true
	assert.Contains(t, m.Build(Recipient{}, e), "New Comment (PR)")
}

func TestBuild_EscapesHTML(t *testing.T) {
	m := NewMessageBuilder()
	e := sampleEvent(event.IssueOpened)
	e.Title = `<script>alert("x")</script> & more`

	text := m.Build(Recipient{}, e)

	assert.NotContains(t, text, "<script>")
	assert.Contains(t, text, "&lt;script&gt;")
	assert.Contains(t, text, "&amp; more")
}

func TestAllows(t *testing.T) {
	set := event.NewKindSet(event.Push)
	assert.True(t, Allows(set, event.Push))
	assert.False(t, Allows(set, event.Comment))
}
