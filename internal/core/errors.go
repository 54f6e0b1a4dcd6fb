package core

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors. These are the only errors the council returns
// instead of degrading to a Failure entry.
var (
	ErrEmptyRoster     = errors.New("council roster is empty")
	ErrDuplicateModel  = errors.New("duplicate model in council roster")
	ErrInvalidModel    = errors.New("invalid model spec")
	ErrMissingChairman = errors.New("chairman model is not configured")
	ErrEmptyHistory    = errors.New("message history is empty")
	ErrInvalidHistory  = errors.New("invalid message history")
)

// Store errors.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationExists   = errors.New("conversation already exists")
	ErrInvalidConversation  = errors.New("invalid conversation id")
)

// ValidateRoster checks that roster is non-empty and that every model has a
// unique, non-empty name.
func ValidateRoster(roster []ModelSpec) error {
	if len(roster) == 0 {
		return ErrEmptyRoster
	}
	seen := make(map[string]struct{}, len(roster))
	for i, spec := range roster {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return fmt.Errorf("%w: roster entry %d has no name", ErrInvalidModel, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ValidateChairman checks that a chairman model is configured.
func ValidateChairman(chairman ModelSpec) error {
	if strings.TrimSpace(chairman.Name) == "" {
		return ErrMissingChairman
	}
	return nil
}

// ValidateHistory checks that history is usable as model input.
func ValidateHistory(history []Message) error {
	if len(history) == 0 {
		return ErrEmptyHistory
	}
	for i, msg := range history {
		if !ValidRole(msg.Role) {
			return fmt.Errorf("%w: invalid role %q at message %d", ErrInvalidHistory, msg.Role, i)
		}
	}
	return nil
}

// IsConfigError reports whether err is one of the council configuration errors.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrEmptyRoster) ||
		errors.Is(err, ErrDuplicateModel) ||
		errors.Is(err, ErrInvalidModel) ||
		errors.Is(err, ErrMissingChairman)
}
