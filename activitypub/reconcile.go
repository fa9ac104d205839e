package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/domain"
	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/tasks"
	"github.com/deemkeen/vidfed/telemetry"
	"github.com/deemkeen/vidfed/util"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// IndexResult summarizes one walk over a remote outbox.
type IndexResult struct {
	Seen     int
	Upserted int
	Skipped  int
	Pruned   []string
}

// Reconciler keeps the external_videos mirror in line with the catalogs of
// the instances this one follows.
type Reconciler struct {
	db      *db.DB
	fetcher *Fetcher
	langs   util.Languages
	log     *zap.Logger
}

func NewReconciler(database *db.DB, fetcher *Fetcher, langs util.Languages) *Reconciler {
	return &Reconciler{
		db:      database,
		fetcher: fetcher,
		langs:   langs,
		log:     logging.WithComponent("reconciler"),
	}
}

// Upsert stores the Video payload as a mirror owned by following. A video
// already mirrored for another following keeps its owner.
func (r *Reconciler) Upsert(ctx context.Context, payload map[string]any, following *domain.Following) (*domain.ExternalVideo, error) {
	return r.store(ctx, payload, following, r.db.UpsertExternalVideo)
}

// Create stores the Video payload unless its ap_id is already mirrored.
func (r *Reconciler) Create(ctx context.Context, payload map[string]any, following *domain.Following) (*domain.ExternalVideo, error) {
	return r.store(ctx, payload, following, r.db.CreateExternalVideo)
}

func (r *Reconciler) store(ctx context.Context, payload map[string]any, following *domain.Following,
	write func(context.Context, *domain.ExternalVideo) (bool, error)) (*domain.ExternalVideo, error) {
	video, err := ExternalVideoFromPayload(payload, r.langs)
	if err != nil {
		return nil, err
	}
	video.SourceInstance = following.Id

	created, err := write(ctx, video)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", video.APID, err)
	}
	action := "updated"
	if created {
		action = "created"
	}
	telemetry.Count(ctx, telemetry.Default().MirrorChanges, attribute.String("action", action))
	r.log.Info("External video "+action,
		zap.String("ap_id", video.APID),
		zap.String("source", following.Object))
	return video, nil
}

// resolveOwned resolves ref to an object whose id can be trusted. Inline
// objects that do not live on trusted's origin are fetched again from their
// id, and a fetched object must live on the origin it was fetched from.
func (r *Reconciler) resolveOwned(ctx context.Context, ref any, trusted string) (map[string]any, error) {
	if iri, ok := ref.(string); ok {
		return r.fetchOwned(ctx, iri)
	}
	obj, err := r.fetcher.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	id := idOf(obj["id"])
	if id == "" {
		return nil, violation("inline %s has no id", stringField(obj, "type"))
	}
	if sameOrigin(id, trusted) {
		return obj, nil
	}
	return r.fetchOwned(ctx, id)
}

func (r *Reconciler) fetchOwned(ctx context.Context, iri string) (map[string]any, error) {
	obj, err := r.fetcher.Get(ctx, iri)
	if err != nil {
		return nil, err
	}
	if id := idOf(obj["id"]); !sameOrigin(id, iri) {
		return nil, violation("%s served an object with id %q", iri, id)
	}
	return obj, nil
}

// Delete removes the mirror of apID. A missing mirror is reported as a
// *ReconciliationConflict and nothing is changed.
func (r *Reconciler) Delete(ctx context.Context, apID string) error {
	deleted, err := r.db.DeleteExternalVideoByAPID(ctx, apID)
	if err != nil {
		return err
	}
	if !deleted {
		return &ReconciliationConflict{APID: apID, Action: "Delete"}
	}
	telemetry.Count(ctx, telemetry.Default().MirrorChanges, attribute.String("action", "deleted"))
	r.log.Info("External video deleted", zap.String("ap_id", apID))
	return nil
}

// IndexExternalVideos walks the outbox of following's Application actor,
// upserts every Video it announces, then prunes mirrors the outbox no longer
// lists. A failed page aborts the walk before anything is pruned; a failed
// item is kept as it was.
func (r *Reconciler) IndexExternalVideos(ctx context.Context, following *domain.Following) (*IndexResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "reconciler.index")
	defer span.End()

	actorURL, err := r.fetcher.ApplicationActorURL(ctx, following.Object)
	if err != nil {
		return nil, err
	}
	actor, err := r.fetcher.FetchActor(ctx, actorURL)
	if err != nil {
		return nil, err
	}
	if actor.OutboxURI == "" {
		return nil, violation("actor %s has no outbox", actor.ActorURI)
	}

	result := &IndexResult{}
	seen := make(map[string]struct{})
	it := NewCollectionIterator(r.fetcher, actor.OutboxURI)
	for it.Next(ctx) {
		ref := it.Ref()
		if id := idOf(ref); id != "" {
			seen[id] = struct{}{}
		}

		obj, err := r.resolveOwned(ctx, ref, following.Object)
		if err != nil {
			r.log.Warn("Skipping unreachable outbox item", zap.String("ref", idOf(ref)), zap.Error(err))
			result.Skipped++
			continue
		}
		if stringField(obj, "type") != "Video" {
			continue
		}
		if id := idOf(obj["id"]); id != "" {
			seen[id] = struct{}{}
		}
		if _, err := r.Upsert(ctx, obj, following); err != nil {
			r.log.Warn("Skipping malformed video", zap.String("ref", idOf(ref)), zap.Error(err))
			result.Skipped++
			continue
		}
		result.Upserted++
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("walking outbox of %s: %w", following.Object, err)
	}

	result.Seen = len(seen)
	result.Pruned, err = r.db.PruneExternalVideos(ctx, following.Id, seen)
	if err != nil {
		return nil, err
	}
	if len(result.Pruned) > 0 {
		telemetry.Count(ctx, telemetry.Default().MirrorChanges, attribute.String("action", "pruned"))
	}
	r.log.Info("Indexed external videos",
		zap.String("source", following.Object),
		zap.Int("seen", result.Seen),
		zap.Int("upserted", result.Upserted),
		zap.Int("skipped", result.Skipped),
		zap.Int("pruned", len(result.Pruned)))
	return result, nil
}

// HandleIndexTask reindexes one following.
func (r *Reconciler) HandleIndexTask(ctx context.Context, t tasks.Task) error {
	id, err := t.FollowingID()
	if err != nil {
		return fmt.Errorf("index task %s: %w", t.ID, err)
	}
	following, err := r.db.ReadFollowingById(ctx, id)
	if err != nil {
		return err
	}
	if following.Status != domain.FollowingAccepted {
		r.log.Debug("Skipping index of a following that is not accepted",
			zap.String("object", following.Object), zap.Stringer("status", following.Status))
		return nil
	}
	_, err = r.IndexExternalVideos(ctx, following)
	return err
}

// ScheduleReindex enqueues an index task for every accepted following each
// interval, until ctx is cancelled.
func (r *Reconciler) ScheduleReindex(ctx context.Context, queue tasks.Queue, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			followings, err := r.db.ReadFollowingsByStatus(ctx, domain.FollowingAccepted)
			if err != nil {
				r.log.Warn("Failed to list followings for reindex", zap.Error(err))
				continue
			}
			for _, f := range followings {
				if err := queue.Enqueue(ctx, tasks.NewIndexTask(f.Id)); err != nil {
					r.log.Warn("Failed to schedule reindex", zap.String("object", f.Object), zap.Error(err))
				}
			}
		}
	}
}

// HandleAnnounce mirrors a Video announced by an instance this one follows,
// unless it is mirrored already. Announces by a Group attribute the video to
// a channel; the mirror is the same either way.
func (r *Reconciler) HandleAnnounce(ctx context.Context, a *Announce) error {
	following, err := r.acceptedFollowing(ctx, a.Actor)
	if err != nil || following == nil {
		return err
	}

	actor, err := r.fetcher.FetchActor(ctx, a.Actor)
	if err != nil {
		return err
	}
	switch actor.Type {
	case "Application", "Person", "Group":
	default:
		r.log.Debug("Ignoring Announce by unsupported actor type",
			zap.String("actor", a.Actor), zap.String("type", actor.Type))
		return nil
	}

	obj, err := r.resolveOwned(ctx, a.Object, a.Actor)
	if err != nil {
		return err
	}
	if t := stringField(obj, "type"); t != "Video" {
		r.log.Debug("Ignoring Announce of non-Video object", zap.String("type", t), zap.String("actor", a.Actor))
		return nil
	}
	_, err = r.Create(ctx, obj, following)
	return err
}

// HandleUpdate refreshes a mirror from the Video carried by the Update. Only
// the origin of a video may update it.
func (r *Reconciler) HandleUpdate(ctx context.Context, u *Update) error {
	if !sameOrigin(idOf(u.Object["id"]), u.Actor) {
		return violation("%s cannot update %s", u.Actor, idOf(u.Object["id"]))
	}
	following, err := r.acceptedFollowing(ctx, u.Actor)
	if err != nil || following == nil {
		return err
	}
	_, err = r.Upsert(ctx, u.Object, following)
	return err
}

// HandleDelete removes the mirror of the deleted object. Deleting something
// that is not mirrored changes nothing.
func (r *Reconciler) HandleDelete(ctx context.Context, d *Delete) error {
	if !sameOrigin(d.ObjectID, d.Actor) {
		return violation("%s cannot delete %s", d.Actor, d.ObjectID)
	}
	err := r.Delete(ctx, d.ObjectID)
	var conflict *ReconciliationConflict
	if errors.As(err, &conflict) {
		r.log.Warn("Reconciliation conflict", zap.String("ap_id", conflict.APID), zap.String("action", conflict.Action))
		return nil
	}
	return err
}

// acceptedFollowing returns the accepted following actor belongs to, or nil
// when this instance does not mirror it.
func (r *Reconciler) acceptedFollowing(ctx context.Context, actor string) (*domain.Following, error) {
	following, err := followingByOrigin(ctx, r.db, r.log, actor)
	if err != nil {
		return nil, err
	}
	if following == nil || following.Status != domain.FollowingAccepted {
		r.log.Debug("Ignoring video activity from an instance that is not followed", zap.String("actor", actor))
		return nil, nil
	}
	return following, nil
}
