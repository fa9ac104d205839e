package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/domain"
	"github.com/deemkeen/vidfed/logging"
	"go.uber.org/zap"
)

const (
	deliveryBatch       = 50
	maxDeliveryAttempts = 10
)

// backoff is the wait before the nth retry; later retries reuse the last step.
var backoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	240 * time.Minute,
	1440 * time.Minute,
}

// DeliveryWorker POSTs queued activities one by one and reschedules failed
// deliveries with exponential backoff.
type DeliveryWorker struct {
	db     *db.DB
	poster Poster
	log    *zap.Logger
}

func NewDeliveryWorker(database *db.DB, poster Poster) *DeliveryWorker {
	return &DeliveryWorker{
		db:     database,
		poster: poster,
		log:    logging.WithComponent("delivery"),
	}
}

// Run processes the queue every interval until ctx is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context, interval time.Duration) {
	w.log.Info("Starting delivery worker", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue attempts every delivery whose retry time has come and returns
// how many succeeded.
func (w *DeliveryWorker) ProcessQueue(ctx context.Context) int {
	items, err := w.db.ReadPendingDeliveries(ctx, deliveryBatch)
	if err != nil {
		w.log.Warn("Failed to read delivery queue", zap.Error(err))
		return 0
	}
	if len(items) == 0 {
		return 0
	}
	w.log.Debug("Processing pending deliveries", zap.Int("count", len(items)))

	delivered := 0
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		item := &items[i]
		if err := w.deliver(ctx, item); err != nil {
			w.retry(ctx, item, err)
			continue
		}
		delivered++
		if err := w.db.DeleteDelivery(ctx, item.Id); err != nil {
			w.log.Warn("Failed to remove delivered item", zap.String("inbox", item.InboxURI), zap.Error(err))
		}
	}
	return delivered
}

func (w *DeliveryWorker) deliver(ctx context.Context, item *domain.DeliveryQueueItem) error {
	var activity map[string]any
	if err := json.Unmarshal([]byte(item.ActivityJSON), &activity); err != nil {
		return fmt.Errorf("failed to parse activity JSON: %w", err)
	}
	return w.poster.Post(ctx, item.InboxURI, activity)
}

func (w *DeliveryWorker) retry(ctx context.Context, item *domain.DeliveryQueueItem, cause error) {
	item.Attempts++
	if item.Attempts >= maxDeliveryAttempts {
		w.log.Warn("Giving up on delivery",
			zap.String("inbox", item.InboxURI), zap.Int("attempts", item.Attempts), zap.Error(cause))
		if err := w.db.DeleteDelivery(ctx, item.Id); err != nil {
			w.log.Warn("Failed to remove abandoned delivery", zap.String("inbox", item.InboxURI), zap.Error(err))
		}
		return
	}

	wait := backoff[min(item.Attempts, len(backoff))-1]
	item.NextRetryAt = time.Now().Add(wait)
	w.log.Info("Delivery failed, will retry",
		zap.String("inbox", item.InboxURI),
		zap.Int("attempt", item.Attempts),
		zap.Duration("retry_in", wait),
		zap.Error(cause))
	if err := w.db.UpdateDeliveryAttempt(ctx, item.Id, item.Attempts, item.NextRetryAt); err != nil {
		w.log.Warn("Failed to reschedule delivery", zap.String("inbox", item.InboxURI), zap.Error(err))
	}
}
