package github

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	gh "github.com/google/go-github/v57/github"

	"github.com/user/gitwatch/internal/event"
)

const (
	webBaseURL       = "https://github.com"
	maxCommitLines   = 3
	maxSummaryLength = 50
)

// Normalize maps a typed GitHub payload onto the notification model. It
// returns nil for kinds and actions that never notify.
//
// Payloads come from ParseWebHook on the webhook path and from
// Event.ParsePayload on the polling path, so both produce identical events.
func Normalize(owner, repo, actor string, payload interface{}) *event.Event {
	if actor == "" {
		actor = "someone"
	}
	base := event.Event{Owner: owner, Repo: repo, Actor: actor}

	switch p := payload.(type) {
	case *gh.IssuesEvent:
		return normalizeIssue(base, p)
	case *gh.PullRequestEvent:
		return normalizePullRequest(base, p)
	case *gh.PushEvent:
		return normalizePush(base, p)
	case *gh.IssueCommentEvent:
		return normalizeComment(base, p)
	}
	return nil
}

// NormalizeFeedEvent decodes and normalizes one item of the repository event
// feed. Unsupported types yield (nil, nil).
func NormalizeFeedEvent(owner, repo string, e *gh.Event) (*event.Event, error) {
	switch e.GetType() {
	case "IssuesEvent", "PullRequestEvent", "PushEvent", "IssueCommentEvent":
	default:
		return nil, nil
	}

	payload, err := e.ParsePayload()
	if err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", e.GetType(), err)
	}

	ev := Normalize(owner, repo, e.GetActor().GetLogin(), payload)
	if ev != nil {
		ev.CreatedAt = e.GetCreatedAt().Time
	}
	return ev, nil
}

func normalizeIssue(e event.Event, p *gh.IssuesEvent) *event.Event {
	issue := p.GetIssue()
	number := issue.GetNumber()

	switch p.GetAction() {
	case "opened":
		e.Kind = event.IssueOpened
	case "closed":
		e.Kind = event.IssueClosed
	case "assigned":
		assignee := p.GetAssignee().GetLogin()
		if assignee == "" {
			return nil
		}
		e.Kind = event.IssueAssigned
		e.Assignee = assignee
	default:
		return nil
	}

	e.Title = titleOr(issue.GetTitle(), number)
	e.URL = firstNonEmpty(issue.GetHTMLURL(), numberedURL(e.Owner, e.Repo, "issues", "issues", number))
	return &e
}

func normalizePullRequest(e event.Event, p *gh.PullRequestEvent) *event.Event {
	pr := p.GetPullRequest()
	number := p.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}

	switch p.GetAction() {
	case "opened":
		e.Kind = event.PROpened
	case "closed":
		if pr.GetMerged() {
			e.Kind = event.PRMerged
		} else {
			e.Kind = event.PRClosed
		}
	case "assigned":
		assignee := p.GetAssignee().GetLogin()
		if assignee == "" {
			return nil
		}
		e.Kind = event.PRAssigned
		e.Assignee = assignee
	default:
		return nil
	}

	e.Title = titleOr(pr.GetTitle(), number)
	e.URL = firstNonEmpty(pr.GetHTMLURL(), numberedURL(e.Owner, e.Repo, "pull", "pulls", number))
	return &e
}

func normalizePush(e event.Event, p *gh.PushEvent) *event.Event {
	count := len(p.Commits)
	if p.Size != nil {
		count = p.GetSize()
	}
	if count <= 0 {
		return nil
	}

	branch := strings.TrimPrefix(p.GetRef(), "refs/heads/")
	if branch == "" {
		branch = "unknown"
	}

	e.Kind = event.Push
	e.Branch = branch
	e.CommitCount = count
	for i, c := range p.Commits {
		if i == maxCommitLines {
			break
		}
		e.CommitSummaries = append(e.CommitSummaries, summarize(c.GetMessage()))
	}

	// Feed payloads carry the new tip as "head" instead of "after".
	after := firstNonEmpty(p.GetAfter(), p.GetHead())
	switch {
	case p.GetCompare() != "":
		e.URL = p.GetCompare()
	case p.GetBefore() != "" && after != "":
		e.URL = fmt.Sprintf("%s/compare/%s...%s", repoURL(e.Owner, e.Repo), p.GetBefore(), after)
	default:
		e.URL = fmt.Sprintf("%s/commits/%s", repoURL(e.Owner, e.Repo), branch)
	}
	return &e
}

func normalizeComment(e event.Event, p *gh.IssueCommentEvent) *event.Event {
	if p.GetAction() != "created" {
		return nil
	}

	issue := p.GetIssue()
	number := issue.GetNumber()
	commentID := p.GetComment().GetID()

	e.Kind = event.Comment
	e.OnPullRequest = issue.IsPullRequest()
	e.Title = titleOr(issue.GetTitle(), number)

	switch {
	case p.GetComment().GetHTMLURL() != "":
		e.URL = p.GetComment().GetHTMLURL()
	case number > 0 && commentID > 0:
		e.URL = fmt.Sprintf("%s/issues/%d#issuecomment-%d", repoURL(e.Owner, e.Repo), number, commentID)
	case number > 0:
		e.URL = fmt.Sprintf("%s/issues/%d", repoURL(e.Owner, e.Repo), number)
	default:
		e.URL = repoURL(e.Owner, e.Repo)
	}
	return &e
}

// summarize returns the first line of a commit message, capped in length.
func summarize(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "No message"
	}
	if utf8.RuneCountInString(line) > maxSummaryLength {
		line = string([]rune(line)[:maxSummaryLength])
	}
	return line
}

func repoURL(owner, repo string) string {
	return webBaseURL + "/" + owner + "/" + repo
}

func numberedURL(owner, repo, single, plural string, number int) string {
	if number > 0 {
		return repoURL(owner, repo) + "/" + single + "/" + strconv.Itoa(number)
	}
	return repoURL(owner, repo) + "/" + plural
}

func titleOr(title string, number int) string {
	if title != "" {
		return title
	}
	if number > 0 {
		return "#" + strconv.Itoa(number)
	}
	return "#unknown"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
