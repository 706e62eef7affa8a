package service

import (
	"errors"
	"fmt"
)

var (
	// ErrGmailNotConnected means the user has no stored Gmail credential.
	ErrGmailNotConnected = errors.New("gmail account not connected, connect your Gmail account first")
	// ErrInvalidRequest marks caller input that failed validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// UnrecordedDeliveryError means Gmail accepted the message but its metadata
// could not be saved. The message was delivered and must not be resent.
type UnrecordedDeliveryError struct {
	MessageID string
	ThreadID  string
	Err       error
}

func (e *UnrecordedDeliveryError) Error() string {
	return fmt.Sprintf("email %s in thread %s was sent but not recorded: %v", e.MessageID, e.ThreadID, e.Err)
}

func (e *UnrecordedDeliveryError) Unwrap() error { return e.Err }

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
