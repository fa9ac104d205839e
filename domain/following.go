package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type FollowingStatus int

const (
	FollowingNone FollowingStatus = iota
	FollowingRequested
	FollowingAccepted
	FollowingRefused
)

func (s FollowingStatus) String() string {
	switch s {
	case FollowingNone:
		return "NONE"
	case FollowingRequested:
		return "REQUESTED"
	case FollowingAccepted:
		return "ACCEPTED"
	case FollowingRefused:
		return "REFUSED"
	default:
		return fmt.Sprintf("FollowingStatus(%d)", int(s))
	}
}

func ParseFollowingStatus(s string) (FollowingStatus, error) {
	switch strings.ToUpper(s) {
	case "NONE":
		return FollowingNone, nil
	case "REQUESTED":
		return FollowingRequested, nil
	case "ACCEPTED":
		return FollowingAccepted, nil
	case "REFUSED":
		return FollowingRefused, nil
	}
	return FollowingNone, fmt.Errorf("unknown following status %q", s)
}

// FollowEvent drives the following status machine.
type FollowEvent int

const (
	EventFollowSent FollowEvent = iota
	EventAcceptReceived
	EventRejectReceived
)

func (e FollowEvent) String() string {
	switch e {
	case EventFollowSent:
		return "follow-sent"
	case EventAcceptReceived:
		return "accept-received"
	case EventRejectReceived:
		return "reject-received"
	default:
		return fmt.Sprintf("FollowEvent(%d)", int(e))
	}
}

var ErrInvalidTransition = errors.New("invalid following transition")

// Next returns the status after ev. Sending a Follow is allowed from any state
// and resets to REQUESTED. A repeated Accept or Reject keeps the same status.
func (s FollowingStatus) Next(ev FollowEvent) (FollowingStatus, error) {
	switch ev {
	case EventFollowSent:
		return FollowingRequested, nil
	case EventAcceptReceived:
		if s == FollowingRequested || s == FollowingAccepted {
			return FollowingAccepted, nil
		}
	case EventRejectReceived:
		if s == FollowingRequested || s == FollowingRefused {
			return FollowingRefused, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, s)
}

// Following is a remote instance this instance follows.
type Following struct {
	Id        uuid.UUID
	Object    string
	Status    FollowingStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Origin reduces an IRI to scheme://host, the granularity at which remote
// Accept, Reject, Announce and Update activities are matched to a Following.
func Origin(iri string) (string, error) {
	u, err := url.Parse(iri)
	if err != nil {
		return "", fmt.Errorf("invalid IRI %q: %w", iri, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid IRI %q: missing scheme or host", iri)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
