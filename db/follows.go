package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/vidfed/domain"
	"github.com/google/uuid"
)

const (
	sqlUpsertFollower = `INSERT INTO followers(id, actor, inbox, follow_uri, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(actor) DO UPDATE SET inbox = excluded.inbox, follow_uri = excluded.follow_uri`
	sqlSelectFollowerByActor = `SELECT id, actor, inbox, follow_uri, created_at FROM followers WHERE actor = ?`
	sqlSelectFollowers       = `SELECT id, actor, inbox, follow_uri, created_at FROM followers ORDER BY created_at, id`
	sqlCountFollowers        = `SELECT COUNT(*) FROM followers`
	sqlDeleteFollowerByActor = `DELETE FROM followers WHERE actor = ?`

	sqlInsertFollowing = `INSERT INTO followings(id, object, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(object) DO NOTHING`
	sqlSelectFollowingColumns  = `SELECT id, object, status, created_at, updated_at FROM followings`
	sqlSelectFollowingById     = sqlSelectFollowingColumns + ` WHERE id = ?`
	sqlSelectFollowingByObject = sqlSelectFollowingColumns + ` WHERE object = ?`
	sqlSelectFollowingsByOrigin = sqlSelectFollowingColumns +
		` WHERE object = ? OR substr(object, 1, ?) = ? ORDER BY created_at, id`
	sqlSelectFollowings         = sqlSelectFollowingColumns + ` ORDER BY created_at, id`
	sqlSelectFollowingsByStatus = sqlSelectFollowingColumns + ` WHERE status = ? ORDER BY created_at, id`
	sqlCountFollowingsByStatus  = `SELECT COUNT(*) FROM followings WHERE status = ?`
	sqlUpdateFollowingStatus    = `UPDATE followings SET status = ?, updated_at = ? WHERE id = ?`
	sqlDeleteFollowing          = `DELETE FROM followings WHERE id = ?`
)

// SaveFollower records a remote follower. Concurrent Follows from the same actor
// converge on one row; the returned follower is the stored one and created
// reports whether this call inserted it.
func (db *DB) SaveFollower(ctx context.Context, f *domain.Follower) (*domain.Follower, bool, error) {
	if f.Id == uuid.Nil {
		f.Id = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	var stored *domain.Follower
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlUpsertFollower, f.Id.String(), f.Actor, f.Inbox, f.FollowURI, f.CreatedAt); err != nil {
			return err
		}
		var err error
		stored, err = scanFollower(tx.QueryRowContext(ctx, sqlSelectFollowerByActor, f.Actor))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, stored.Id == f.Id, nil
}

func (db *DB) ReadFollowerByActor(ctx context.Context, actor string) (*domain.Follower, error) {
	return scanFollower(db.db.QueryRowContext(ctx, sqlSelectFollowerByActor, actor))
}

func (db *DB) ReadFollowers(ctx context.Context) ([]domain.Follower, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		f, err := scanFollower(rows)
		if err != nil {
			return nil, err
		}
		followers = append(followers, *f)
	}
	return followers, rows.Err()
}

func (db *DB) CountFollowers(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountFollowers).Scan(&n)
	return n, err
}

// DeleteFollowerByActor reports whether a follower was removed.
func (db *DB) DeleteFollowerByActor(ctx context.Context, actor string) (bool, error) {
	var n int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteFollowerByActor, actor)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

// GetOrCreateFollowing returns the following for object, inserting it with
// status NONE if it does not exist yet.
func (db *DB) GetOrCreateFollowing(ctx context.Context, object string) (*domain.Following, error) {
	var stored *domain.Following
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, sqlInsertFollowing, uuid.New().String(), object, int(domain.FollowingNone), now, now); err != nil {
			return err
		}
		var err error
		stored, err = scanFollowing(tx.QueryRowContext(ctx, sqlSelectFollowingByObject, object))
		return err
	})
	return stored, err
}

func (db *DB) ReadFollowingById(ctx context.Context, id uuid.UUID) (*domain.Following, error) {
	return scanFollowing(db.db.QueryRowContext(ctx, sqlSelectFollowingById, id.String()))
}

func (db *DB) ReadFollowingByObject(ctx context.Context, object string) (*domain.Following, error) {
	return scanFollowing(db.db.QueryRowContext(ctx, sqlSelectFollowingByObject, object))
}

// ReadFollowingsByOrigin returns followings whose object is origin itself or a
// path below it, oldest first.
func (db *DB) ReadFollowingsByOrigin(ctx context.Context, origin string) ([]domain.Following, error) {
	prefix := origin + "/"
	return db.queryFollowings(ctx, sqlSelectFollowingsByOrigin, origin, len(prefix), prefix)
}

func (db *DB) ReadFollowings(ctx context.Context) ([]domain.Following, error) {
	return db.queryFollowings(ctx, sqlSelectFollowings)
}

func (db *DB) ReadFollowingsByStatus(ctx context.Context, status domain.FollowingStatus) ([]domain.Following, error) {
	return db.queryFollowings(ctx, sqlSelectFollowingsByStatus, int(status))
}

func (db *DB) CountFollowingsByStatus(ctx context.Context, status domain.FollowingStatus) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountFollowingsByStatus, int(status)).Scan(&n)
	return n, err
}

// TransitionFollowing applies ev to the stored status inside one transaction and
// returns the status before and after. An invalid transition leaves the row
// untouched and returns an error wrapping domain.ErrInvalidTransition.
func (db *DB) TransitionFollowing(ctx context.Context, id uuid.UUID, ev domain.FollowEvent) (domain.FollowingStatus, domain.FollowingStatus, error) {
	var from, to domain.FollowingStatus
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		f, err := scanFollowing(tx.QueryRowContext(ctx, sqlSelectFollowingById, id.String()))
		if err != nil {
			return err
		}
		from = f.Status
		to, err = from.Next(ev)
		if err != nil {
			return err
		}
		if to == from {
			return nil
		}
		_, err = tx.ExecContext(ctx, sqlUpdateFollowingStatus, int(to), time.Now().UTC(), id.String())
		return err
	})
	return from, to, err
}

// DeleteFollowing removes the following and, by cascade, its mirrored videos.
func (db *DB) DeleteFollowing(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteFollowing, id.String())
		return err
	})
}

func (db *DB) queryFollowings(ctx context.Context, query string, args ...any) ([]domain.Following, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followings []domain.Following
	for rows.Next() {
		f, err := scanFollowing(rows)
		if err != nil {
			return nil, err
		}
		followings = append(followings, *f)
	}
	return followings, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFollower(row scanner) (*domain.Follower, error) {
	var f domain.Follower
	if err := row.Scan(&f.Id, &f.Actor, &f.Inbox, &f.FollowURI, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func scanFollowing(row scanner) (*domain.Following, error) {
	var f domain.Following
	var status int
	if err := row.Scan(&f.Id, &f.Object, &status, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Status = domain.FollowingStatus(status)
	return &f, nil
}

func notFound(what, key string) error {
	return fmt.Errorf("%s %q: %w", what, key, sql.ErrNoRows)
}
