package activitypub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/domain"
	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/tasks"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Poster delivers one activity to one inbox.
type Poster interface {
	Post(ctx context.Context, inbox string, activity map[string]any) error
}

// FollowManager owns the Follower and Following registries: it answers
// remote Follows and drives the status of the instances this one follows.
type FollowManager struct {
	db      *db.DB
	fetcher *Fetcher
	poster  Poster
	urls    *URLs
	queue   tasks.Queue
	log     *zap.Logger
}

func NewFollowManager(database *db.DB, fetcher *Fetcher, poster Poster, urls *URLs, queue tasks.Queue) *FollowManager {
	return &FollowManager{
		db:      database,
		fetcher: fetcher,
		poster:  poster,
		urls:    urls,
		queue:   queue,
		log:     logging.WithComponent("follows"),
	}
}

// Follow registers instanceURL as an instance to follow and schedules the
// Follow request.
func (m *FollowManager) Follow(ctx context.Context, instanceURL string) (*domain.Following, error) {
	instanceURL = strings.TrimRight(instanceURL, "/")
	if _, err := domain.Origin(instanceURL); err != nil {
		return nil, err
	}
	following, err := m.db.GetOrCreateFollowing(ctx, instanceURL)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", instanceURL, err)
	}
	if err := m.queue.Enqueue(ctx, tasks.NewFollowTask(following.Id)); err != nil {
		return nil, fmt.Errorf("scheduling follow of %s: %w", instanceURL, err)
	}
	return following, nil
}

// HandleFollowTask runs a scheduled Follow request.
func (m *FollowManager) HandleFollowTask(ctx context.Context, t tasks.Task) error {
	id, err := t.FollowingID()
	if err != nil {
		return fmt.Errorf("follow task %s: %w", t.ID, err)
	}
	return m.SendFollow(ctx, id)
}

// SendFollow discovers the Application actor of the followed instance and
// POSTs a Follow to it. The following moves to REQUESTED only once the
// remote inbox accepted the delivery.
func (m *FollowManager) SendFollow(ctx context.Context, followingID uuid.UUID) error {
	following, err := m.db.ReadFollowingById(ctx, followingID)
	if err != nil {
		return err
	}

	actorURL, err := m.fetcher.ApplicationActorURL(ctx, following.Object)
	if err != nil {
		return err
	}
	actor, err := m.fetcher.FetchActor(ctx, actorURL)
	if err != nil {
		return err
	}

	if err := m.poster.Post(ctx, actor.InboxURI, NewFollow(m.urls, following.Id, actor.ActorURI)); err != nil {
		return err
	}

	from, to, err := m.db.TransitionFollowing(ctx, following.Id, domain.EventFollowSent)
	if err != nil {
		return err
	}
	m.log.Info("Follow sent",
		zap.String("object", following.Object),
		zap.String("actor", actor.ActorURI),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	return nil
}

// HandleFollow records the remote actor as a follower and accepts the
// Follow. Repeated Follows from the same actor keep a single follower.
func (m *FollowManager) HandleFollow(ctx context.Context, f *Follow) error {
	if _, ok := m.urls.LocalActor(f.Object); !ok {
		return violation("Follow of %s, which is not a local actor", f.Object)
	}

	actor, err := m.fetcher.FetchActor(ctx, f.Actor)
	if err != nil {
		return err
	}

	follower, created, err := m.db.SaveFollower(ctx, &domain.Follower{
		Actor:     f.Actor,
		Inbox:     actor.PreferredInbox(),
		FollowURI: f.ID,
	})
	if err != nil {
		return fmt.Errorf("saving follower %s: %w", f.Actor, err)
	}
	if created {
		m.log.Info("New follower", zap.String("actor", f.Actor))
	}

	return m.poster.Post(ctx, actor.InboxURI, NewAccept(m.urls, follower.Id, f))
}

func (m *FollowManager) HandleAccept(ctx context.Context, a *Accept) error {
	return m.transition(ctx, &a.Envelope, a.Follow, domain.EventAcceptReceived)
}

func (m *FollowManager) HandleReject(ctx context.Context, r *Reject) error {
	return m.transition(ctx, &r.Envelope, r.Follow, domain.EventRejectReceived)
}

// HandleUndo removes the follower that sent the Undo. An Undo naming its
// object by IRI only counts when the IRI is the Follow the actor sent us.
func (m *FollowManager) HandleUndo(ctx context.Context, u *Undo) error {
	if u.Follow.Actor != "" && u.Follow.Actor != u.Actor {
		return violation("%s cannot undo a Follow of %s", u.Actor, u.Follow.Actor)
	}
	if !u.Follow.Inline {
		follower, err := m.db.ReadFollowerByActor(ctx, u.Actor)
		if errors.Is(err, sql.ErrNoRows) {
			m.log.Debug("Undo from an actor that was not following", zap.String("actor", u.Actor))
			return nil
		}
		if err != nil {
			return err
		}
		if follower.FollowURI == "" || follower.FollowURI != u.Follow.ID {
			m.log.Debug("Ignoring Undo of an object that is not a Follow",
				zap.String("actor", u.Actor), zap.String("object", u.Follow.ID))
			return nil
		}
	}
	deleted, err := m.db.DeleteFollowerByActor(ctx, u.Actor)
	if err != nil {
		return err
	}
	if deleted {
		m.log.Info("Follower removed", zap.String("actor", u.Actor))
	} else {
		m.log.Debug("Undo from an actor that was not following", zap.String("actor", u.Actor))
	}
	return nil
}

// transition applies an inbound Accept or Reject to the matching following.
func (m *FollowManager) transition(ctx context.Context, env *Envelope, ref FollowRef, ev domain.FollowEvent) error {
	following, err := m.followingForRef(ctx, ref)
	if err != nil {
		return err
	}
	if following == nil {
		m.log.Debug("No following matches "+env.Type, zap.String("actor", env.Actor), zap.String("follow", ref.ID))
		return nil
	}
	if !sameOrigin(env.Actor, following.Object) {
		return violation("%s from %s does not match following %s", env.Type, env.Actor, following.Object)
	}

	from, to, err := m.db.TransitionFollowing(ctx, following.Id, ev)
	if errors.Is(err, domain.ErrInvalidTransition) {
		m.log.Warn("Ignoring "+env.Type, zap.String("object", following.Object), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if from == to {
		m.log.Debug("Repeated "+env.Type, zap.String("object", following.Object))
		return nil
	}

	m.log.Info("Following status changed",
		zap.String("object", following.Object),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	if to == domain.FollowingAccepted {
		if err := m.queue.Enqueue(ctx, tasks.NewIndexTask(following.Id)); err != nil {
			m.log.Warn("Failed to schedule first index", zap.String("object", following.Object), zap.Error(err))
		}
	}
	return nil
}

// followingForRef finds the following an Accept or Reject answers: by the
// origin of the followed actor, or by our own Follow id when the remote only
// referenced it.
func (m *FollowManager) followingForRef(ctx context.Context, ref FollowRef) (*domain.Following, error) {
	if ref.Object != "" {
		return followingByOrigin(ctx, m.db, m.log, ref.Object)
	}
	prefix := m.urls.Following() + "/"
	if !strings.HasPrefix(ref.ID, prefix) {
		return nil, violation("cannot match Follow %q to a following", ref.ID)
	}
	id, err := uuid.Parse(strings.TrimPrefix(ref.ID, prefix))
	if err != nil {
		return nil, violation("cannot match Follow %q to a following", ref.ID)
	}
	following, err := m.db.ReadFollowingById(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return following, err
}

// followingByOrigin returns the following whose object shares the scheme and
// host of iri. Several instances behind one host cannot be told apart; the
// oldest one wins.
func followingByOrigin(ctx context.Context, database *db.DB, log *zap.Logger, iri string) (*domain.Following, error) {
	origin, err := domain.Origin(iri)
	if err != nil {
		return nil, violation("%v", err)
	}
	matches, err := database.ReadFollowingsByOrigin(ctx, origin)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		log.Warn("Several followings share an origin, using the oldest",
			zap.String("origin", origin), zap.Int("count", len(matches)))
	}
	return &matches[0], nil
}

func sameOrigin(a, b string) bool {
	oa, err := domain.Origin(a)
	if err != nil {
		return false
	}
	ob, err := domain.Origin(b)
	return err == nil && oa == ob
}
