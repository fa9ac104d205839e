package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/vidfed/domain"
	"github.com/google/uuid"
)

const (
	sqlUpsertExternalVideo = `INSERT INTO external_videos(id, ap_id, title, description, date_added, duration, viewcount,
		thumbnail, videos, main_lang, source_instance, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			date_added = excluded.date_added,
			duration = excluded.duration,
			viewcount = excluded.viewcount,
			thumbnail = excluded.thumbnail,
			videos = excluded.videos,
			main_lang = excluded.main_lang,
			updated_at = excluded.updated_at`
	sqlInsertExternalVideo = `INSERT INTO external_videos(id, ap_id, title, description, date_added, duration, viewcount,
		thumbnail, videos, main_lang, source_instance, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO NOTHING`
	sqlSelectExternalVideoOwner   = `SELECT id, source_instance FROM external_videos WHERE ap_id = ?`
	sqlSelectExternalVideoColumns = `SELECT id, ap_id, title, description, date_added, duration, viewcount,
		thumbnail, videos, main_lang, source_instance, updated_at FROM external_videos`
	sqlSelectExternalVideoByAPID    = sqlSelectExternalVideoColumns + ` WHERE ap_id = ?`
	sqlSelectExternalVideosBySource = sqlSelectExternalVideoColumns + ` WHERE source_instance = ? ORDER BY date_added DESC, ap_id`
	sqlSelectExternalAPIDsBySource  = `SELECT ap_id FROM external_videos WHERE source_instance = ?`
	sqlCountExternalVideosBySource  = `SELECT COUNT(*) FROM external_videos WHERE source_instance = ?`
	sqlDeleteExternalVideoByAPID    = `DELETE FROM external_videos WHERE ap_id = ?`
)

// UpsertExternalVideo inserts or updates the mirror keyed by ap_id. created
// reports whether the row is new. An existing mirror keeps its source
// instance; v.SourceInstance is set to the stored one.
func (db *DB) UpsertExternalVideo(ctx context.Context, v *domain.ExternalVideo) (bool, error) {
	videos, err := json.Marshal(v.Videos)
	if err != nil {
		return false, fmt.Errorf("encoding renditions: %w", err)
	}
	if v.Id == uuid.Nil {
		v.Id = uuid.New()
	}
	v.UpdatedAt = time.Now().UTC()

	var created bool
	err = db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var id, source uuid.UUID
		switch err := tx.QueryRowContext(ctx, sqlSelectExternalVideoOwner, v.APID).Scan(&id, &source); {
		case err == sql.ErrNoRows:
			created = true
		case err != nil:
			return err
		default:
			v.Id, v.SourceInstance = id, source
		}
		_, err := tx.ExecContext(ctx, sqlUpsertExternalVideo,
			v.Id.String(), v.APID, v.Title, v.Description, v.DateAdded, v.Duration, v.Viewcount,
			v.Thumbnail, string(videos), v.MainLang, v.SourceInstance.String(), v.UpdatedAt)
		return err
	})
	return created, err
}

// CreateExternalVideo stores v unless a mirror of its ap_id already exists,
// and reports whether it did.
func (db *DB) CreateExternalVideo(ctx context.Context, v *domain.ExternalVideo) (bool, error) {
	videos, err := json.Marshal(v.Videos)
	if err != nil {
		return false, fmt.Errorf("encoding renditions: %w", err)
	}
	if v.Id == uuid.Nil {
		v.Id = uuid.New()
	}
	v.UpdatedAt = time.Now().UTC()

	var n int64
	err = db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertExternalVideo,
			v.Id.String(), v.APID, v.Title, v.Description, v.DateAdded, v.Duration, v.Viewcount,
			v.Thumbnail, string(videos), v.MainLang, v.SourceInstance.String(), v.UpdatedAt)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

func (db *DB) ReadExternalVideoByAPID(ctx context.Context, apID string) (*domain.ExternalVideo, error) {
	return scanExternalVideo(db.db.QueryRowContext(ctx, sqlSelectExternalVideoByAPID, apID))
}

func (db *DB) ReadExternalVideosBySource(ctx context.Context, source uuid.UUID) ([]domain.ExternalVideo, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectExternalVideosBySource, source.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []domain.ExternalVideo
	for rows.Next() {
		v, err := scanExternalVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

func (db *DB) CountExternalVideosBySource(ctx context.Context, source uuid.UUID) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountExternalVideosBySource, source.String()).Scan(&n)
	return n, err
}

// DeleteExternalVideoByAPID reports whether a row was removed.
func (db *DB) DeleteExternalVideoByAPID(ctx context.Context, apID string) (bool, error) {
	var n int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteExternalVideoByAPID, apID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

// PruneExternalVideos deletes every mirror of source whose ap_id is not in
// seen and returns the removed ap_ids.
func (db *DB) PruneExternalVideos(ctx context.Context, source uuid.UUID, seen map[string]struct{}) ([]string, error) {
	var pruned []string
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		pruned = pruned[:0]
		rows, err := tx.QueryContext(ctx, sqlSelectExternalAPIDsBySource, source.String())
		if err != nil {
			return err
		}
		var stale []string
		for rows.Next() {
			var apID string
			if err := rows.Scan(&apID); err != nil {
				rows.Close()
				return err
			}
			if _, ok := seen[apID]; !ok {
				stale = append(stale, apID)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, apID := range stale {
			if _, err := tx.ExecContext(ctx, sqlDeleteExternalVideoByAPID, apID); err != nil {
				return err
			}
		}
		pruned = append(pruned, stale...)
		return nil
	})
	return pruned, err
}

func scanExternalVideo(row scanner) (*domain.ExternalVideo, error) {
	var v domain.ExternalVideo
	var videos string
	var dateAdded sql.NullTime
	if err := row.Scan(&v.Id, &v.APID, &v.Title, &v.Description, &dateAdded, &v.Duration, &v.Viewcount,
		&v.Thumbnail, &videos, &v.MainLang, &v.SourceInstance, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if dateAdded.Valid {
		v.DateAdded = dateAdded.Time
	}
	if err := json.Unmarshal([]byte(videos), &v.Videos); err != nil {
		return nil, fmt.Errorf("decoding renditions of %s: %w", v.APID, err)
	}
	return &v, nil
}
