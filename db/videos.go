package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/vidfed/domain"
	"github.com/google/uuid"
)

const (
	sqlVideoColumns = `id, slug, title, description, owner, date_added, duration, viewcount, thumbnail, tags,
		renditions, main_lang, licence, is_restricted, allow_downloading, disable_comment, encoding_in_progress,
		channels, tracks, chapters, updated_at`
	sqlUpsertVideo = `INSERT INTO videos(` + sqlVideoColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			owner = excluded.owner,
			date_added = excluded.date_added,
			duration = excluded.duration,
			viewcount = excluded.viewcount,
			thumbnail = excluded.thumbnail,
			tags = excluded.tags,
			renditions = excluded.renditions,
			main_lang = excluded.main_lang,
			licence = excluded.licence,
			is_restricted = excluded.is_restricted,
			allow_downloading = excluded.allow_downloading,
			disable_comment = excluded.disable_comment,
			encoding_in_progress = excluded.encoding_in_progress,
			channels = excluded.channels,
			tracks = excluded.tracks,
			chapters = excluded.chapters,
			updated_at = excluded.updated_at`
	sqlSelectVideoBySlug  = `SELECT ` + sqlVideoColumns + ` FROM videos WHERE slug = ?`
	sqlSelectVideoById    = `SELECT ` + sqlVideoColumns + ` FROM videos WHERE id = ?`
	sqlPublicVideos       = ` FROM videos WHERE is_restricted = 0 AND encoding_in_progress = 0 AND (? = '' OR owner = ?)`
	sqlSelectPublicVideos = `SELECT ` + sqlVideoColumns + sqlPublicVideos + ` ORDER BY date_added DESC, id LIMIT ? OFFSET ?`
	sqlCountPublicVideos  = `SELECT COUNT(*)` + sqlPublicVideos
	sqlDeleteVideo        = `DELETE FROM videos WHERE slug = ?`

	sqlInsertVideoEvent = `INSERT INTO video_events(video_id, slug, was_public, is_public, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPendingVideoEvents = `SELECT id, video_id, slug, was_public, is_public, deleted, created_at FROM video_events
		WHERE processed_at IS NULL ORDER BY id LIMIT ?`
	sqlMarkVideoEventProcessed = `UPDATE video_events SET processed_at = ? WHERE id = ?`

	sqlUpsertAccount = `INSERT INTO accounts(id, username, display_name, summary, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET display_name = excluded.display_name, summary = excluded.summary`
	sqlSelectAccountByUsername = `SELECT id, username, display_name, summary, created_at FROM accounts WHERE username = ?`
	sqlCountAccounts           = `SELECT COUNT(*) FROM accounts`

	sqlUpsertChannel = `INSERT INTO channels(id, slug, title, description, owner, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET title = excluded.title, description = excluded.description, owner = excluded.owner`
	sqlSelectChannelBySlug = `SELECT id, slug, title, description, owner, created_at FROM channels WHERE slug = ?`
)

// SaveVideo writes a catalog video and, in the same transaction, appends a
// video event carrying its visibility before and after the write.
func (db *DB) SaveVideo(ctx context.Context, v *domain.Video) error {
	cols, err := encodeVideoJSON(v)
	if err != nil {
		return err
	}
	if v.DateAdded.IsZero() {
		v.DateAdded = time.Now().UTC()
	}
	v.UpdatedAt = time.Now().UTC()

	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		wasPublic := false
		existing, err := scanVideo(tx.QueryRowContext(ctx, sqlSelectVideoBySlug, v.Slug))
		switch {
		case err == nil:
			v.Id = existing.Id
			wasPublic = existing.IsPublic()
		case errors.Is(err, sql.ErrNoRows):
			if v.Id == uuid.Nil {
				v.Id = uuid.New()
			}
		default:
			return err
		}

		_, err = tx.ExecContext(ctx, sqlUpsertVideo,
			v.Id.String(), v.Slug, v.Title, v.Description, v.Owner, v.DateAdded, v.Duration, v.Viewcount,
			cols.thumbnail, cols.tags, cols.renditions, v.MainLang, v.Licence,
			boolToInt(v.IsRestricted), boolToInt(v.AllowDownloading), boolToInt(v.DisableComment),
			boolToInt(v.EncodingInProgress), cols.channels, cols.tracks, cols.chapters, v.UpdatedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, sqlInsertVideoEvent, v.Id.String(), v.Slug,
			boolToInt(wasPublic), boolToInt(v.IsPublic()), 0, time.Now().UTC())
		return err
	})
}

// DeleteVideo removes a catalog video and records the deletion as a video event.
func (db *DB) DeleteVideo(ctx context.Context, slug string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		existing, err := scanVideo(tx.QueryRowContext(ctx, sqlSelectVideoBySlug, slug))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("video", slug)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlDeleteVideo, slug); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlInsertVideoEvent, existing.Id.String(), slug,
			boolToInt(existing.IsPublic()), 0, 1, time.Now().UTC())
		return err
	})
}

func (db *DB) ReadVideoBySlug(ctx context.Context, slug string) (*domain.Video, error) {
	return scanVideo(db.db.QueryRowContext(ctx, sqlSelectVideoBySlug, slug))
}

func (db *DB) ReadVideoById(ctx context.Context, id uuid.UUID) (*domain.Video, error) {
	return scanVideo(db.db.QueryRowContext(ctx, sqlSelectVideoById, id.String()))
}

// ReadPublicVideos pages through federable videos, newest first. An empty owner
// selects the whole catalog.
func (db *DB) ReadPublicVideos(ctx context.Context, owner string, limit, offset int) ([]domain.Video, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPublicVideos, owner, owner, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []domain.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

func (db *DB) CountPublicVideos(ctx context.Context, owner string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountPublicVideos, owner, owner).Scan(&n)
	return n, err
}

func (db *DB) ReadPendingVideoEvents(ctx context.Context, limit int) ([]domain.VideoEvent, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPendingVideoEvents, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.VideoEvent
	for rows.Next() {
		var e domain.VideoEvent
		if err := rows.Scan(&e.Id, &e.VideoId, &e.Slug, &e.WasPublic, &e.IsPublic, &e.Deleted, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CompleteVideoEvent enqueues the event's deliveries and marks it processed
// atomically, so a crash never fans out the same event twice.
func (db *DB) CompleteVideoEvent(ctx context.Context, eventId int64, deliveries []domain.DeliveryQueueItem) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for i := range deliveries {
			if err := insertDelivery(ctx, tx, &deliveries[i]); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, sqlMarkVideoEventProcessed, time.Now().UTC(), eventId)
		return err
	})
}

func (db *DB) SaveAccount(ctx context.Context, acc *domain.Account) error {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertAccount, acc.Id.String(), acc.Username, acc.DisplayName, acc.Summary, acc.CreatedAt)
		return err
	})
}

func (db *DB) ReadAccByUsername(ctx context.Context, username string) (*domain.Account, error) {
	var acc domain.Account
	err := db.db.QueryRowContext(ctx, sqlSelectAccountByUsername, username).
		Scan(&acc.Id, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (db *DB) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountAccounts).Scan(&n)
	return n, err
}

func (db *DB) SaveChannel(ctx context.Context, ch *domain.Channel) error {
	if ch.Id == uuid.Nil {
		ch.Id = uuid.New()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertChannel, ch.Id.String(), ch.Slug, ch.Title, ch.Description, ch.Owner, ch.CreatedAt)
		return err
	})
}

func (db *DB) ReadChannelBySlug(ctx context.Context, slug string) (*domain.Channel, error) {
	var ch domain.Channel
	err := db.db.QueryRowContext(ctx, sqlSelectChannelBySlug, slug).
		Scan(&ch.Id, &ch.Slug, &ch.Title, &ch.Description, &ch.Owner, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

type videoJSON struct {
	thumbnail, tags, renditions, channels, tracks, chapters string
}

func encodeVideoJSON(v *domain.Video) (*videoJSON, error) {
	out := &videoJSON{}
	for _, f := range []struct {
		dst *string
		src any
	}{
		{&out.thumbnail, v.Thumbnail},
		{&out.tags, nonNil(v.Tags)},
		{&out.renditions, nonNil(v.Renditions)},
		{&out.channels, nonNil(v.Channels)},
		{&out.tracks, nonNil(v.Tracks)},
		{&out.chapters, nonNil(v.Chapters)},
	} {
		b, err := json.Marshal(f.src)
		if err != nil {
			return nil, fmt.Errorf("encoding video %s: %w", v.Slug, err)
		}
		*f.dst = string(b)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanVideo(row scanner) (*domain.Video, error) {
	var v domain.Video
	var cols videoJSON
	var dateAdded sql.NullTime
	err := row.Scan(&v.Id, &v.Slug, &v.Title, &v.Description, &v.Owner, &dateAdded, &v.Duration, &v.Viewcount,
		&cols.thumbnail, &cols.tags, &cols.renditions, &v.MainLang, &v.Licence,
		&v.IsRestricted, &v.AllowDownloading, &v.DisableComment, &v.EncodingInProgress,
		&cols.channels, &cols.tracks, &cols.chapters, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if dateAdded.Valid {
		v.DateAdded = dateAdded.Time
	}
	for _, f := range []struct {
		src string
		dst any
	}{
		{cols.thumbnail, &v.Thumbnail},
		{cols.tags, &v.Tags},
		{cols.renditions, &v.Renditions},
		{cols.channels, &v.Channels},
		{cols.tracks, &v.Tracks},
		{cols.chapters, &v.Chapters},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decoding video %s: %w", v.Slug, err)
		}
	}
	return &v, nil
}
