package notifier

import (
	"fmt"
	"html"
	"strings"

	"github.com/user/gitwatch/internal/event"
)

// MessageBuilder renders notification events as Telegram HTML messages.
type MessageBuilder struct{}

// NewMessageBuilder creates a new message builder.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{}
}

// Headline returns the bold first line for a kind.
func Headline(e *event.Event) string {
	switch e.Kind {
	case event.IssueOpened:
		return "New Issue"
	case event.IssueClosed:
		return "Issue Closed"
	case event.IssueAssigned:
		return "Issue Assigned"
	case event.PROpened:
		return "New Pull Request"
	case event.PRClosed:
		return "PR Closed"
	case event.PRMerged:
		return "PR Merged"
	case event.PRAssigned:
		return "PR Assigned"
	case event.Push:
		return "New Push"
	case event.Comment:
		if e.OnPullRequest {
			return "New Comment (PR)"
		}
		return "New Comment (Issue)"
	}
	return "Repository Activity"
}

// Build renders e for recipient r. The assignment line is personalised when
// r is the assignee.
func (m *MessageBuilder) Build(r Recipient, e *event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", esc(Headline(e)))
	fmt.Fprintf(&b, "Repo: %s/%s\n", esc(e.Owner), esc(e.Repo))

	switch e.Kind {
	case event.IssueOpened, event.IssueClosed:
		fmt.Fprintf(&b, "Issue: %s\n", esc(e.Title))
		fmt.Fprintf(&b, "By: @%s\n\n", esc(e.Actor))
		b.WriteString(link(e.URL, "View Issue"))

	case event.IssueAssigned:
		fmt.Fprintf(&b, "Issue: %s\n", esc(e.Title))
		fmt.Fprintf(&b, "%s been assigned by @%s\n\n", assigneePhrase(r, e.Assignee), esc(e.Actor))
		b.WriteString(link(e.URL, "View Issue"))

	case event.PROpened, event.PRClosed, event.PRMerged:
		fmt.Fprintf(&b, "PR: %s\n", esc(e.Title))
		fmt.Fprintf(&b, "By: @%s\n\n", esc(e.Actor))
		b.WriteString(link(e.URL, "View PR"))

	case event.PRAssigned:
		fmt.Fprintf(&b, "PR: %s\n", esc(e.Title))
		fmt.Fprintf(&b, "%s been assigned by @%s\n\n", assigneePhrase(r, e.Assignee), esc(e.Actor))
		b.WriteString(link(e.URL, "View PR"))

	case event.Push:
		fmt.Fprintf(&b, "Branch: <code>%s</code>\n", esc(e.Branch))
		fmt.Fprintf(&b, "%s by @%s\n", commitCountText(e.CommitCount), esc(e.Actor))
		if len(e.CommitSummaries) > 0 {
			b.WriteString("\n<b>Commits:</b>\n")
			for _, s := range e.CommitSummaries {
				fmt.Fprintf(&b, "• %s\n", esc(s))
			}
			if more := e.CommitCount - len(e.CommitSummaries); more > 0 {
				fmt.Fprintf(&b, "... and %d more\n", more)
			}
		}
		b.WriteString("\n")
		b.WriteString(link(e.URL, "View Changes"))

	case event.Comment:
		fmt.Fprintf(&b, "On: %s\n", esc(e.Title))
		fmt.Fprintf(&b, "By: @%s\n\n", esc(e.Actor))
		b.WriteString(link(e.URL, "View Comment"))

	default:
		fmt.Fprintf(&b, "By: @%s\n\n", esc(e.Actor))
		b.WriteString(link(e.URL, "View"))
	}

	return b.String()
}

func assigneePhrase(r Recipient, assignee string) string {
	if r.GitHubUsername != "" && strings.EqualFold(r.GitHubUsername, assignee) {
		return "You have"
	}
	return "@" + esc(assignee) + " has"
}

func commitCountText(n int) string {
	if n == 1 {
		return "1 new commit"
	}
	return fmt.Sprintf("%d new commits", n)
}

func link(url, text string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, esc(url), esc(text))
}

func esc(s string) string {
	return html.EscapeString(s)
}
