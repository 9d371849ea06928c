package model

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSessionNotReady   = errors.New("write session not ready")
	ErrRemoteUnavailable = errors.New("remote store unavailable")
)

// ValidationError lists every problem found in a piece of input.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Add(problem string) {
	e.Problems = append(e.Problems, problem)
}

// Err returns nil when no problems were recorded.
func (e *ValidationError) Err() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
