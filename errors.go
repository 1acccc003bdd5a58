package main

import (
	"errors"
	"fmt"
)

var (
	// ErrVerification matches every VerificationError via errors.Is
	ErrVerification = errors.New("webhook verification failed")

	// ErrUserNotFound is returned by the store when no record matches an external id
	ErrUserNotFound = errors.New("user not found")

	// ErrUnsupportedEvent is returned for authentic events that are not user lifecycle events
	ErrUnsupportedEvent = errors.New("unsupported event type")
)

// VerificationError means the request is not an authentic provider event.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrVerification, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrVerification, e.Reason)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerification
}

func verificationError(reason string, err error) error {
	return &VerificationError{Reason: reason, Err: err}
}

// StoreError wraps a failed upsert or delete against the directory store.
type StoreError struct {
	Op         string
	ExternalID string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s for %s failed: %v", e.Op, e.ExternalID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// CorrelationError is a failed metadata write. It is logged and never returned to the webhook caller.
type CorrelationError struct {
	ExternalID string
	LocalID    string
	Err        error
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("correlation of %s -> %s failed: %v", e.ExternalID, e.LocalID, e.Err)
}

func (e *CorrelationError) Unwrap() error {
	return e.Err
}
