package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrTestNotFound        = errors.New("test not found")
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrNotAttemptOwner     = errors.New("attempt belongs to another user")
	ErrAlreadyCompleted    = errors.New("attempt already completed")
	ErrAttemptNotCompleted = errors.New("attempt not completed")
	ErrInvalidAnswer       = errors.New("invalid answer")
	ErrSubmitFailed        = errors.New("submit failed")
	ErrTransientIO         = errors.New("transient storage failure")

	// ErrExpiredOnLoad marks an attempt found past its deadline on resume. It
	// is converted into a time_expired submit and only ever logged.
	ErrExpiredOnLoad = errors.New("attempt expired before resume")
)

// AlreadyCompletedError is returned by Start when the user already finished
// the test. It matches ErrAlreadyCompleted.
type AlreadyCompletedError struct {
	AttemptID uuid.UUID
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("attempt %s already completed", e.AttemptID)
}

func (e *AlreadyCompletedError) Is(target error) bool {
	return target == ErrAlreadyCompleted
}
