package domain

import "strings"

const MaxTitleLength = 256

// ValidateCommand trims and checks everything except the idempotency key.
func ValidateCommand(cmd PublishCommand) (PublishCommand, error) {
	cmd.Title = strings.TrimSpace(cmd.Title)
	if cmd.Title == "" || len([]rune(cmd.Title)) > MaxTitleLength {
		return cmd, ErrInvalidTitle
	}
	if strings.TrimSpace(cmd.TextContent) == "" || strings.TrimSpace(cmd.HTMLContent) == "" {
		return cmd, ErrInvalidContent
	}
	return cmd, nil
}
