package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/tasks"
	"github.com/deemkeen/vidfed/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Inbox authenticates inbound deliveries on the HTTP path and applies them
// later, on the task workers.
type Inbox struct {
	follows    *FollowManager
	reconciler *Reconciler
	fetcher    *Fetcher
	log        *zap.Logger
}

func NewInbox(follows *FollowManager, reconciler *Reconciler, fetcher *Fetcher) *Inbox {
	return &Inbox{
		follows:    follows,
		reconciler: reconciler,
		fetcher:    fetcher,
		log:        logging.WithComponent("inbox"),
	}
}

// Authenticate checks the HTTP signature of an inbox POST against the key
// its keyId names, and that the activity's actor lives on the key owner's
// instance. Every failure wraps ErrSignature.
func (i *Inbox) Authenticate(ctx context.Context, r *http.Request, body []byte) error {
	keyID, err := SignatureKeyID(r)
	if err != nil {
		return err
	}
	publicKey, owner, err := i.fetcher.LookupKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrSignature) {
			return err
		}
		return fmt.Errorf("%w: resolving key %s: %v", ErrSignature, keyID, err)
	}
	if err := VerifyRequest(r, body, publicKey); err != nil {
		// the key may have been rotated since the owner was cached
		if time.Since(owner.LastFetchedAt) < keyRefreshInterval {
			return err
		}
		i.log.Debug("Signature check failed, refetching key", zap.String("key_id", keyID))
		fresh, refreshed, rerr := i.fetcher.RefreshKey(ctx, keyID)
		if rerr != nil || fresh.Equal(publicKey) {
			return err
		}
		if err := VerifyRequest(r, body, fresh); err != nil {
			return err
		}
		owner = refreshed
	}

	var envelope struct {
		Actor any `json:"actor"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if actor := idOf(envelope.Actor); actor != "" && !sameOrigin(actor, owner.ActorURI) {
			return fmt.Errorf("%w: %s signed an activity of %s", ErrSignature, owner.ActorURI, actor)
		}
	}
	return nil
}

// HandleTask parses and applies one queued inbox delivery. Protocol
// violations and reconciliation conflicts are logged and dropped; other
// errors are returned so the task is retried.
func (i *Inbox) HandleTask(ctx context.Context, t tasks.Task) error {
	activity, err := ParseActivity(t.Payload)
	if err != nil {
		i.logDropped(err)
		return nil
	}
	err = i.Process(ctx, activity)
	var pv *ProtocolViolation
	var conflict *ReconciliationConflict
	switch {
	case errors.As(err, &pv):
		i.logDropped(err)
		return nil
	case errors.As(err, &conflict):
		i.log.Warn("Reconciliation conflict", zap.String("ap_id", conflict.APID), zap.String("action", conflict.Action))
		return nil
	}
	return err
}

// Process applies one inbound activity.
func (i *Inbox) Process(ctx context.Context, activity Activity) (err error) {
	env := activity.Base()
	ctx, span := telemetry.StartSpan(ctx, "inbox."+env.Type)
	defer span.End()
	defer func() {
		telemetry.Count(ctx, telemetry.Default().InboxActivities,
			attribute.String("type", env.Type), telemetry.Outcome(err))
	}()

	i.log.Debug("Processing activity",
		zap.String("type", env.Type), zap.String("id", env.ID), zap.String("actor", env.Actor))

	switch a := activity.(type) {
	case *Follow:
		return i.follows.HandleFollow(ctx, a)
	case *Accept:
		return i.follows.HandleAccept(ctx, a)
	case *Reject:
		return i.follows.HandleReject(ctx, a)
	case *Undo:
		return i.follows.HandleUndo(ctx, a)
	case *Announce:
		return i.reconciler.HandleAnnounce(ctx, a)
	case *Update:
		return i.reconciler.HandleUpdate(ctx, a)
	case *Delete:
		return i.reconciler.HandleDelete(ctx, a)
	case *Unknown:
		i.log.Debug("Ignoring activity", zap.String("type", a.Type), zap.String("reason", a.Reason))
		return nil
	default:
		return fmt.Errorf("unhandled activity variant %T", activity)
	}
}

func (i *Inbox) logDropped(err error) {
	i.log.Debug("Dropping inbound activity", zap.Error(err))
}
