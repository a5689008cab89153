package event

// Category groups kinds under one subscriber preference toggle.
type Category string

const (
	CategoryIssues   Category = "issues"
	CategoryPRs      Category = "prs"
	CategoryCommits  Category = "commits"
	CategoryComments Category = "comments"
)

// Categories returns the toggles in display order.
func Categories() []Category {
	return []Category{CategoryIssues, CategoryPRs, CategoryCommits, CategoryComments}
}

// ParseCategory accepts the toggle names used in chat commands.
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "issues", "issue":
		return CategoryIssues, true
	case "prs", "pr", "pulls", "pull_requests":
		return CategoryPRs, true
	case "commits", "commit", "pushes", "push":
		return CategoryCommits, true
	case "comments", "comment":
		return CategoryComments, true
	}
	return "", false
}

// CategoryOf maps a kind to the toggle that gates it.
func CategoryOf(k Kind) Category {
	switch k {
	case IssueOpened, IssueClosed, IssueAssigned:
		return CategoryIssues
	case PROpened, PRClosed, PRMerged, PRAssigned:
		return CategoryPRs
	case Push:
		return CategoryCommits
	case Comment:
		return CategoryComments
	}
	return ""
}

// KindSet is a set of enabled kinds.
type KindSet uint16

// NewKindSet builds a set from kinds.
func NewKindSet(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	return s&(1<<k) != 0
}

// With returns the set with k added.
func (s KindSet) With(k Kind) KindSet {
	return s | 1<<k
}

// WithCategory returns the set with every kind of c added.
func (s KindSet) WithCategory(c Category) KindSet {
	for _, k := range AllKinds() {
		if CategoryOf(k) == c {
			s = s.With(k)
		}
	}
	return s
}

// FromFlags builds the set from the four stored preference flags.
func FromFlags(issues, prs, commits, comments bool) KindSet {
	var s KindSet
	if issues {
		s = s.WithCategory(CategoryIssues)
	}
	if prs {
		s = s.WithCategory(CategoryPRs)
	}
	if commits {
		s = s.WithCategory(CategoryCommits)
	}
	if comments {
		s = s.WithCategory(CategoryComments)
	}
	return s
}
