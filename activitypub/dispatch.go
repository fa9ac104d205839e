package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/telemetry"
	"github.com/deemkeen/vidfed/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Dispatcher signs and POSTs activities to remote inboxes. It never retries;
// the delivery queue and the task pool own retry policy.
type Dispatcher struct {
	client   *http.Client
	identity *Identity
	log      *zap.Logger
}

func NewDispatcher(client *http.Client, identity *Identity) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{
		client:   client,
		identity: identity,
		log:      logging.WithComponent("dispatcher"),
	}
}

// Post delivers activity to inbox. It succeeds only when the remote answers
// 204 No Content; any other outcome is a *DeliveryError.
func (d *Dispatcher) Post(ctx context.Context, inbox string, activity map[string]any) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "activitypub.post")
	defer span.End()

	start := time.Now()
	metrics := telemetry.Default()
	defer func() {
		telemetry.Count(ctx, metrics.Deliveries, telemetry.Outcome(err))
		if metrics.DeliverySeconds != nil {
			metrics.DeliverySeconds.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("outcome", outcomeName(err))))
		}
	}()

	creator, _ := activity["actor"].(string)
	if creator == "" {
		creator = d.identity.Owner
	}
	signed, err := LDSign(activity, d.identity.Key, creator)
	if err != nil {
		return &DeliveryError{Inbox: inbox, Err: err}
	}
	body, err := json.Marshal(signed)
	if err != nil {
		return &DeliveryError{Inbox: inbox, Err: fmt.Errorf("failed to marshal activity: %w", err)}
	}

	headers, err := SignedHeaders(body, inbox, d.identity)
	if err != nil {
		return &DeliveryError{Inbox: inbox, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Inbox: inbox, Err: err}
	}
	for name, values := range headers {
		if name == "Host" {
			req.Host = headers.Get("Host")
			continue
		}
		req.Header[name] = values
	}
	req.Header.Set("Accept", AcceptHeader)
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Inbox: inbox, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusNoContent {
		d.log.Warn("Remote inbox refused activity",
			zap.String("inbox", inbox),
			zap.Any("type", activity["type"]),
			zap.Int("status", resp.StatusCode))
		return &DeliveryError{Inbox: inbox, Status: resp.StatusCode}
	}

	d.log.Info("Delivered activity", zap.String("inbox", inbox), zap.Any("type", activity["type"]))
	return nil
}

func outcomeName(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
