// Package event defines the canonical notification model shared by the
// webhook and polling ingestion paths.
package event

import "time"

// Kind identifies what happened in a repository.
type Kind uint8

const (
	IssueOpened Kind = iota + 1
	IssueClosed
	IssueAssigned
	PROpened
	PRClosed
	PRMerged
	PRAssigned
	Push
	Comment
)

var kindNames = map[Kind]string{
	IssueOpened:   "issue_opened",
	IssueClosed:   "issue_closed",
	IssueAssigned: "issue_assigned",
	PROpened:      "pr_opened",
	PRClosed:      "pr_closed",
	PRMerged:      "pr_merged",
	PRAssigned:    "pr_assigned",
	Push:          "push",
	Comment:       "comment",
}

// AllKinds lists every kind in declaration order.
func AllKinds() []Kind {
	return []Kind{
		IssueOpened, IssueClosed, IssueAssigned,
		PROpened, PRClosed, PRMerged, PRAssigned,
		Push, Comment,
	}
}

// String returns the metric/log label of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a normalized repository activity item, ready to be filtered and
// delivered. It is never persisted.
type Event struct {
	Kind  Kind
	Owner string
	Repo  string
	Actor string
	Title string
	URL   string

	// Push only.
	Branch          string
	CommitCount     int
	CommitSummaries []string

	// Assignment kinds only.
	Assignee string

	// Comment only: true when the commented issue is a pull request.
	OnPullRequest bool

	CreatedAt time.Time
}

// FullName returns "owner/repo".
func (e *Event) FullName() string {
	return e.Owner + "/" + e.Repo
}
