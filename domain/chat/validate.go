package chat

import (
	"fmt"
	"strings"

	"herdchat/domain"
	"herdchat/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateSend applies local validation before any network call.
// An empty or whitespace-only body is a user error, never a system failure.
func ValidateSend(cmd SendMessageCommand, maxContentLength int) error {
	if !domain.ValidBody(cmd.Body) {
		return errors.ErrEmptyBody
	}
	if maxContentLength > 0 && len(strings.TrimSpace(cmd.Body)) > maxContentLength {
		return errors.ErrBodyTooLong
	}
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("invalid send command: %w", err)
	}
	return nil
}

// ValidateEdit mirrors ValidateSend for message edits.
func ValidateEdit(cmd EditMessageCommand, maxContentLength int) error {
	if !domain.ValidBody(cmd.Body) {
		return errors.ErrEmptyBody
	}
	if maxContentLength > 0 && len(strings.TrimSpace(cmd.Body)) > maxContentLength {
		return errors.ErrBodyTooLong
	}
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("invalid edit command: %w", err)
	}
	return nil
}
