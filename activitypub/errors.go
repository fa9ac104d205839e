package activitypub

import (
	"errors"
	"fmt"
)

// ErrSignature marks every failed HTTP or LD signature check.
var ErrSignature = errors.New("invalid signature")

// FetchError is returned when a remote GET fails or does not yield a JSON object.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("fetching %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetching %s: status %d", e.URL, e.Status)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeliveryError is returned when a remote inbox does not answer 204.
type DeliveryError struct {
	Inbox  string
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivering to %s: %v", e.Inbox, e.Err)
	}
	return fmt.Sprintf("delivering to %s: remote answered %d", e.Inbox, e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ReconciliationConflict reports an Update or Delete for a video that is not
// mirrored locally. It is logged, never returned to the task layer.
type ReconciliationConflict struct {
	APID   string
	Action string
}

func (e *ReconciliationConflict) Error() string {
	return fmt.Sprintf("%s of unknown external video %s", e.Action, e.APID)
}

// ProtocolViolation reports an inbound payload with an unexpected shape.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return "protocol violation: " + e.Reason
}

func violation(format string, args ...any) *ProtocolViolation {
	return &ProtocolViolation{Reason: fmt.Sprintf(format, args...)}
}
