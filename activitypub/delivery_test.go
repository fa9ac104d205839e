package activitypub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/vidfed/domain"
)

// recordingPoster records deliveries and fails them while err is set.
type recordingPoster struct {
	mu         sync.Mutex
	err        error
	inboxes    []string
	activities []map[string]any
}

func (p *recordingPoster) Post(_ context.Context, inbox string, activity map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inboxes = append(p.inboxes, inbox)
	p.activities = append(p.activities, activity)
	return p.err
}

func TestProcessQueueDelivers(t *testing.T) {
	database := newTestDB(t)
	poster := &recordingPoster{}
	w := NewDeliveryWorker(database, poster)
	ctx := context.Background()

	for _, inbox := range []string{"https://a.example/inbox", "https://b.example/inbox"} {
		if err := database.EnqueueDelivery(ctx, &domain.DeliveryQueueItem{InboxURI: inbox, ActivityJSON: `{"type":"Announce"}`}); err != nil {
			t.Fatalf("EnqueueDelivery failed: %v", err)
		}
	}

	if n := w.ProcessQueue(ctx); n != 2 {
		t.Errorf("Expected 2 deliveries, got %d", n)
	}
	if len(poster.inboxes) != 2 || poster.activities[0]["type"] != "Announce" {
		t.Errorf("Unexpected posts %v %v", poster.inboxes, poster.activities)
	}
	if n, _ := database.CountDeliveries(ctx); n != 0 {
		t.Errorf("Delivered items must be removed, %d left", n)
	}
}

func TestProcessQueueReschedulesFailures(t *testing.T) {
	database := newTestDB(t)
	poster := &recordingPoster{err: &DeliveryError{Inbox: "https://a.example/inbox", Status: 500}}
	w := NewDeliveryWorker(database, poster)
	ctx := context.Background()

	if err := database.EnqueueDelivery(ctx, &domain.DeliveryQueueItem{InboxURI: "https://a.example/inbox", ActivityJSON: `{"type":"Delete"}`}); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	if n := w.ProcessQueue(ctx); n != 0 {
		t.Errorf("Expected no successful delivery, got %d", n)
	}
	if n, _ := database.CountDeliveries(ctx); n != 1 {
		t.Fatalf("Failed item must stay queued, got %d", n)
	}
	pending, err := database.ReadPendingDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Rescheduled item must not be due yet, got %d", len(pending))
	}

	// nothing is due, so nothing is posted
	w.ProcessQueue(ctx)
	if len(poster.inboxes) != 1 {
		t.Errorf("Expected a single attempt, got %d", len(poster.inboxes))
	}
}

func TestRetryBackoff(t *testing.T) {
	database := newTestDB(t)
	w := NewDeliveryWorker(database, &recordingPoster{})
	ctx := context.Background()
	cause := errors.New("connection refused")

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 5 * time.Minute},
		{2, 15 * time.Minute},
		{3, time.Hour},
		{4, 4 * time.Hour},
		{5, 24 * time.Hour},
		{8, 24 * time.Hour},
	}

	for _, tt := range tests {
		item := &domain.DeliveryQueueItem{InboxURI: "https://a.example/inbox", ActivityJSON: `{}`, Attempts: tt.attempts}
		if err := database.EnqueueDelivery(ctx, item); err != nil {
			t.Fatalf("EnqueueDelivery failed: %v", err)
		}
		before := time.Now()
		w.retry(ctx, item, cause)

		if item.Attempts != tt.attempts+1 {
			t.Errorf("attempts %d: expected %d attempts, got %d", tt.attempts, tt.attempts+1, item.Attempts)
		}
		wait := item.NextRetryAt.Sub(before)
		if wait < tt.want || wait > tt.want+time.Minute {
			t.Errorf("attempts %d: expected retry in %s, got %s", tt.attempts, tt.want, wait)
		}
	}
}

func TestRetryGivesUp(t *testing.T) {
	database := newTestDB(t)
	w := NewDeliveryWorker(database, &recordingPoster{})
	ctx := context.Background()

	item := &domain.DeliveryQueueItem{InboxURI: "https://a.example/inbox", ActivityJSON: `{}`, Attempts: maxDeliveryAttempts - 1}
	if err := database.EnqueueDelivery(ctx, item); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}
	w.retry(ctx, item, errors.New("gone"))

	if n, _ := database.CountDeliveries(ctx); n != 0 {
		t.Errorf("Item must be dropped after %d attempts, %d left", maxDeliveryAttempts, n)
	}
}

func TestProcessQueueDropsMalformedActivity(t *testing.T) {
	database := newTestDB(t)
	poster := &recordingPoster{}
	w := NewDeliveryWorker(database, poster)
	ctx := context.Background()

	if err := database.EnqueueDelivery(ctx, &domain.DeliveryQueueItem{InboxURI: "https://a.example/inbox", ActivityJSON: `not json`}); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}
	w.ProcessQueue(ctx)
	if len(poster.inboxes) != 0 {
		t.Error("Malformed activity must not be posted")
	}
}
