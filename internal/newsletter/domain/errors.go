package domain

import "errors"

var (
	ErrInvalidTitle     = errors.New("invalid_title")
	ErrInvalidContent   = errors.New("invalid_content")
	ErrInvalidIssueID   = errors.New("invalid_issue_id")
	ErrIssueNotFound    = errors.New("issue_not_found")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
