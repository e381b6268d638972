// Package errors provides structured error handling for tracker operations.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Issue errors
	CodeIssueTitleEmpty    Code = "ISSUE_TITLE_EMPTY"
	CodeIssueInvalidStatus Code = "ISSUE_INVALID_STATUS"
	CodeIssueInvalidID     Code = "ISSUE_INVALID_ID"

	// Comment errors
	CodeCommentTextEmpty Code = "COMMENT_TEXT_EMPTY"

	// Audit errors
	CodeAuditLabelEmpty Code = "AUDIT_LABEL_EMPTY"
	CodeAuditLogFailure Code = "AUDIT_LOG_FAILURE"

	// Storage errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed input
	case CodeIssueTitleEmpty,
		CodeIssueInvalidStatus,
		CodeIssueInvalidID,
		CodeCommentTextEmpty,
		CodeAuditLabelEmpty:
		return http.StatusBadRequest

	// Not found - referenced record does not exist
	case CodeNotFound:
		return http.StatusNotFound

	// Bad gateway - the durable store rejected or failed the write
	case CodeStoreUnavailable:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
