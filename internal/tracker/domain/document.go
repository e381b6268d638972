// Package domain holds the tracked-issue document model and its pure
// mutations. Document values are immutable once produced: every mutation
// returns a fresh document with copied spines, so snapshots handed to
// renderers and subscribers can be read without locks.
package domain

import (
	"strings"
	"time"
)

// Document is the single shared collection of issues plus the id counter.
// NextID is monotonically increasing and never reused; it is assigned
// exactly once per created issue at submission time.
type Document struct {
	NextID int     `json:"next_id"`
	Issues []Issue `json:"issues"`
}

// NewDocument returns the initial empty document.
func NewDocument() Document {
	return Document{NextID: 1}
}

// Issue returns the issue with the given id.
func (d Document) Issue(id int) (Issue, bool) {
	for _, issue := range d.Issues {
		if issue.ID == id {
			return issue, true
		}
	}
	return Issue{}, false
}

// CreateIssue assigns the next id and appends a new open issue. The returned
// issue is the one added to the returned document.
func (d Document) CreateIssue(title, description, createdBy string, now time.Time) (Document, Issue, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Document{}, Issue{}, ErrEmptyTitle
	}

	issue := Issue{
		ID:          d.NextID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      StatusOpen,
		CreatedBy:   strings.TrimSpace(createdBy),
		CreatedAt:   now.UTC(),
		Comments:    []Comment{},
	}

	next := d
	next.NextID = d.NextID + 1
	next.Issues = make([]Issue, len(d.Issues), len(d.Issues)+1)
	copy(next.Issues, d.Issues)
	next.Issues = append(next.Issues, issue)
	return next, issue, nil
}

// AddComment appends a comment to the issue with the given id.
func (d Document) AddComment(id int, author, text string, now time.Time) (Document, Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Document{}, Comment{}, ErrEmptyCommentText
	}

	idx := d.indexOf(id)
	if idx < 0 {
		return Document{}, Comment{}, ErrIssueNotFound
	}

	comment := Comment{
		Author:    strings.TrimSpace(author),
		Text:      text,
		CreatedAt: now.UTC(),
	}

	next := d.withClonedIssue(idx)
	issue := &next.Issues[idx]
	issue.Comments = append(issue.Comments, comment)
	at := now.UTC()
	issue.UpdatedAt = &at
	return next, comment, nil
}

// SetStatus moves the issue with the given id to the provided status. The
// returned issue reflects the change. Last writer wins for concurrent status
// edits; the serializer orders them.
func (d Document) SetStatus(id int, status Status, now time.Time) (Document, Issue, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Document{}, Issue{}, err
	}

	idx := d.indexOf(id)
	if idx < 0 {
		return Document{}, Issue{}, ErrIssueNotFound
	}

	next := d.withClonedIssue(idx)
	issue := &next.Issues[idx]
	issue.Status = status
	at := now.UTC()
	issue.UpdatedAt = &at
	return next, *issue, nil
}

func (d Document) indexOf(id int) int {
	for i, issue := range d.Issues {
		if issue.ID == id {
			return i
		}
	}
	return -1
}

// withClonedIssue copies the issues slice and deep-copies the issue at idx,
// leaving every other issue shared with the previous document value.
func (d Document) withClonedIssue(idx int) Document {
	next := d
	next.Issues = make([]Issue, len(d.Issues))
	copy(next.Issues, d.Issues)
	next.Issues[idx] = d.Issues[idx].clone()
	return next
}
