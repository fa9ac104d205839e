package tasks

import (
	"time"

	"github.com/google/uuid"
)

// Kind names the handler a task is routed to.
type Kind string

const (
	KindInbox     Kind = "inbox"
	KindFollow    Kind = "follow"
	KindIndex     Kind = "index"
	KindBroadcast Kind = "broadcast"
)

// Task is one unit of background work. Inbox tasks carry the raw activity
// body in Payload; follow and index tasks name a following in Ref.
type Task struct {
	ID         string    `cbor:"id"`
	Kind       Kind      `cbor:"kind"`
	Payload    []byte    `cbor:"payload,omitempty"`
	Ref        string    `cbor:"ref,omitempty"`
	Attempt    int       `cbor:"attempt"`
	EnqueuedAt time.Time `cbor:"enqueued_at"`
}

func newTask(kind Kind) Task {
	return Task{ID: uuid.NewString(), Kind: kind, EnqueuedAt: time.Now().UTC()}
}

func NewInboxTask(body []byte) Task {
	t := newTask(KindInbox)
	t.Payload = body
	return t
}

func NewFollowTask(followingID uuid.UUID) Task {
	t := newTask(KindFollow)
	t.Ref = followingID.String()
	return t
}

func NewIndexTask(followingID uuid.UUID) Task {
	t := newTask(KindIndex)
	t.Ref = followingID.String()
	return t
}

func NewBroadcastTask() Task {
	return newTask(KindBroadcast)
}

// FollowingID parses Ref as a following id.
func (t Task) FollowingID() (uuid.UUID, error) {
	return uuid.Parse(t.Ref)
}
