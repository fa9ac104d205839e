package domain

import (
	"time"

	"github.com/google/uuid"
)

// RemoteActor is a cached remote actor document, used to resolve inboxes and
// the public keys inbound signatures are checked against.
type RemoteActor struct {
	Id            uuid.UUID
	ActorURI      string
	Type          string
	Username      string
	Domain        string
	InboxURI      string
	SharedInbox   string
	OutboxURI     string
	PublicKeyId   string
	PublicKeyPem  string
	LastFetchedAt time.Time
}

// PreferredInbox is the shared inbox when the actor advertises one.
func (ra *RemoteActor) PreferredInbox() string {
	if ra.SharedInbox != "" {
		return ra.SharedInbox
	}
	return ra.InboxURI
}

// Follower is a remote actor following this instance. Existence means the
// follow is active.
type Follower struct {
	Id        uuid.UUID
	Actor     string
	Inbox     string
	FollowURI string
	CreatedAt time.Time
}

// DeliveryQueueItem represents an item in the delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string // unsigned; signatures are computed per attempt
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// VideoEvent is appended in the same transaction as a local video write and
// drained after commit by the broadcaster.
type VideoEvent struct {
	Id          int64
	VideoId     uuid.UUID
	Slug        string
	WasPublic   bool
	IsPublic    bool
	Deleted     bool
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// BroadcastKind is the activity a video event fans out as.
type BroadcastKind int

const (
	BroadcastNone BroadcastKind = iota
	BroadcastAnnounce
	BroadcastUpdate
	BroadcastDelete
)

func (k BroadcastKind) String() string {
	switch k {
	case BroadcastAnnounce:
		return "Announce"
	case BroadcastUpdate:
		return "Update"
	case BroadcastDelete:
		return "Delete"
	default:
		return "None"
	}
}

// Broadcast maps a visibility transition to the activity followers must receive.
func (e *VideoEvent) Broadcast() BroadcastKind {
	switch {
	case e.Deleted && e.WasPublic:
		return BroadcastDelete
	case e.Deleted:
		return BroadcastNone
	case !e.WasPublic && e.IsPublic:
		return BroadcastAnnounce
	case e.WasPublic && e.IsPublic:
		return BroadcastUpdate
	case e.WasPublic && !e.IsPublic:
		return BroadcastDelete
	default:
		return BroadcastNone
	}
}
