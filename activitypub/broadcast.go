package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/domain"
	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/tasks"
	"go.uber.org/zap"
)

const broadcastBatch = 100

// Broadcaster drains the video_events table written alongside catalog
// changes and turns each committed event into deliveries to every follower.
type Broadcaster struct {
	db         *db.DB
	urls       *URLs
	serializer *Serializer
	log        *zap.Logger
}

func NewBroadcaster(database *db.DB, urls *URLs, serializer *Serializer) *Broadcaster {
	return &Broadcaster{
		db:         database,
		urls:       urls,
		serializer: serializer,
		log:        logging.WithComponent("broadcaster"),
	}
}

// Drain processes pending video events and returns how many deliveries it
// queued. Followers sharing an inbox get one delivery per event.
func (b *Broadcaster) Drain(ctx context.Context) (int, error) {
	events, err := b.db.ReadPendingVideoEvents(ctx, broadcastBatch)
	if err != nil || len(events) == 0 {
		return 0, err
	}
	followers, err := b.db.ReadFollowers(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	for i := range events {
		ev := &events[i]
		activity, err := b.activityFor(ctx, ev)
		if err != nil {
			return queued, err
		}

		var deliveries []domain.DeliveryQueueItem
		if activity != nil {
			raw, err := json.Marshal(activity)
			if err != nil {
				return queued, err
			}
			seen := make(map[string]bool, len(followers))
			for _, f := range followers {
				if f.Inbox == "" || seen[f.Inbox] {
					continue
				}
				seen[f.Inbox] = true
				deliveries = append(deliveries, domain.DeliveryQueueItem{
					InboxURI:     f.Inbox,
					ActivityJSON: string(raw),
				})
			}
		}

		if err := b.db.CompleteVideoEvent(ctx, ev.Id, deliveries); err != nil {
			return queued, err
		}
		queued += len(deliveries)
		if activity != nil {
			b.log.Info("Broadcasting video change",
				zap.String("slug", ev.Slug),
				zap.Stringer("activity", ev.Broadcast()),
				zap.Int("inboxes", len(deliveries)))
		}
	}
	return queued, nil
}

// activityFor builds the activity for ev from the committed catalog state.
// An Update whose video has since been removed or restricted is skipped: the
// later event carries the retraction.
func (b *Broadcaster) activityFor(ctx context.Context, ev *domain.VideoEvent) (map[string]any, error) {
	var video *domain.Video
	if ev.Broadcast() == domain.BroadcastUpdate {
		v, err := b.db.ReadVideoById(ctx, ev.VideoId)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !v.IsPublic() {
			return nil, nil
		}
		video = v
	}
	return broadcastActivity(b.urls, b.serializer, ev, video), nil
}

func (b *Broadcaster) HandleTask(ctx context.Context, _ tasks.Task) error {
	_, err := b.Drain(ctx)
	return err
}

// Run drains every interval until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration) {
	b.log.Info("Starting broadcaster", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := b.Drain(ctx); err != nil && ctx.Err() == nil {
			b.log.Warn("Failed to drain video events", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
