package domain

import (
	"strings"
	"time"

	apperrors "github.com/tracklight/tracklight/internal/platform/errors"
)

// Status describes the lifecycle of a tracked issue.
type Status string

const (
	// StatusOpen indicates a newly reported, unclaimed issue.
	StatusOpen Status = "open"
	// StatusInProgress indicates someone is actively working the issue.
	StatusInProgress Status = "in_progress"
	// StatusClosed indicates the issue is resolved or discarded.
	StatusClosed Status = "closed"
)

var (
	// ErrEmptyTitle indicates a missing issue title.
	ErrEmptyTitle = apperrors.New(apperrors.CodeIssueTitleEmpty, "issue title is required")
	// ErrInvalidStatus indicates an unknown issue status value.
	ErrInvalidStatus = apperrors.New(apperrors.CodeIssueInvalidStatus, "issue status is not recognized")
	// ErrEmptyCommentText indicates a missing comment body.
	ErrEmptyCommentText = apperrors.New(apperrors.CodeCommentTextEmpty, "comment text is required")
	// ErrIssueNotFound indicates the referenced issue id does not exist.
	ErrIssueNotFound = apperrors.New(apperrors.CodeNotFound, "issue not found")
)

// ParseStatus validates a raw status value from a form or API payload.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.TrimSpace(raw)) {
	case StatusOpen:
		return StatusOpen, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusClosed:
		return StatusClosed, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Comment is a single remark appended to an issue. Comments have no identity
// of their own; ordering is append order within the parent issue.
type Comment struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue is one tracked issue. Identity is ID, immutable once assigned.
type Issue struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Comments    []Comment  `json:"comments"`
}

// clone returns a deep copy of the issue so mutations never alias the
// comments slice of a published snapshot.
func (i Issue) clone() Issue {
	copied := i
	if i.UpdatedAt != nil {
		at := *i.UpdatedAt
		copied.UpdatedAt = &at
	}
	copied.Comments = make([]Comment, len(i.Comments))
	copy(copied.Comments, i.Comments)
	return copied
}
