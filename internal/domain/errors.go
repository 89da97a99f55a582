package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means no valid session exists where one is required.
	// Callers redirect to the sign-in entry point.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRequestFailed matches every RequestError via errors.Is.
	ErrRequestFailed = errors.New("request failed")

	// ErrSubscriptionDropped means the change-feed connection was lost.
	// The list stays as it was until the next full fetch.
	ErrSubscriptionDropped = errors.New("change-feed subscription dropped")

	// ErrNotFound is returned by the store when a row is absent or owned by someone else.
	ErrNotFound = errors.New("bookmark not found")
)

// RequestError reports a failed fetch, create or delete against the bookmark store.
type RequestError struct {
	Op  string // "fetch" | "create" | "delete" | "update"
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s bookmark: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRequestFailed) match any RequestError.
func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}

// RequestFailed wraps err as a RequestError for op. A nil err stays nil.
func RequestFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RequestError{Op: op, Err: err}
}
