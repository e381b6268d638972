package domain

// EventType identifies the type of a document mutation event.
type EventType string

const (
	// EventIssueCreated records the creation of an issue.
	EventIssueCreated EventType = "issue.created"
	// EventIssueCommented records a comment appended to an issue.
	EventIssueCommented EventType = "issue.commented"
	// EventIssueStatusChanged records an issue status transition.
	EventIssueStatusChanged EventType = "issue.status_changed"
)

// Event is the unit broadcast to subscribers and labelled in the audit
// trail: a tagged variant with exactly one payload populated per type.
type Event struct {
	Type EventType `json:"type"`

	// Issue carries the full issue for issue.created and
	// issue.status_changed events.
	Issue *Issue `json:"issue,omitempty"`

	// IssueID and Comment carry the issue.commented payload.
	IssueID int      `json:"issue_id,omitempty"`
	Comment *Comment `json:"comment,omitempty"`
}

// NewCreatedEvent describes a freshly created issue.
func NewCreatedEvent(issue Issue) Event {
	return Event{Type: EventIssueCreated, Issue: &issue}
}

// NewCommentedEvent describes a comment appended to the given issue.
func NewCommentedEvent(issueID int, comment Comment) Event {
	return Event{Type: EventIssueCommented, IssueID: issueID, Comment: &comment}
}

// NewStatusChangedEvent describes an issue status transition.
func NewStatusChangedEvent(issue Issue) Event {
	return Event{Type: EventIssueStatusChanged, Issue: &issue}
}
