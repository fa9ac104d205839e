package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/vidfed/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertDelivery        = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDelivery = `SELECT id, inbox_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue
		WHERE next_retry_at <= ? ORDER BY next_retry_at, created_at LIMIT ?`
	sqlUpdateDeliveryAttempt = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery        = `DELETE FROM delivery_queue WHERE id = ?`
	sqlCountDeliveries       = `SELECT COUNT(*) FROM delivery_queue`

	sqlUpsertRemoteActor = `INSERT INTO remote_actors(id, actor_uri, type, username, domain, inbox_uri, shared_inbox,
		outbox_uri, public_key_id, public_key_pem, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_uri) DO UPDATE SET
			type = excluded.type,
			username = excluded.username,
			domain = excluded.domain,
			inbox_uri = excluded.inbox_uri,
			shared_inbox = excluded.shared_inbox,
			outbox_uri = excluded.outbox_uri,
			public_key_id = excluded.public_key_id,
			public_key_pem = excluded.public_key_pem,
			last_fetched_at = excluded.last_fetched_at`
	sqlSelectRemoteActorColumns = `SELECT id, actor_uri, type, username, domain, inbox_uri, shared_inbox, outbox_uri,
		public_key_id, public_key_pem, last_fetched_at FROM remote_actors`
	sqlSelectRemoteActorByURI   = sqlSelectRemoteActorColumns + ` WHERE actor_uri = ?`
	sqlSelectRemoteActorByKeyId = sqlSelectRemoteActorColumns + ` WHERE public_key_id = ?`
)

func (db *DB) EnqueueDelivery(ctx context.Context, item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		return insertDelivery(ctx, tx, item)
	})
}

func insertDelivery(ctx context.Context, tx *sql.Tx, item *domain.DeliveryQueueItem) error {
	now := time.Now().UTC()
	if item.Id == uuid.Nil {
		item.Id = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.NextRetryAt.IsZero() {
		item.NextRetryAt = now
	}
	_, err := tx.ExecContext(ctx, sqlInsertDelivery,
		item.Id.String(), item.InboxURI, item.ActivityJSON, item.Attempts, item.NextRetryAt, item.CreatedAt)
	return err
}

// ReadPendingDeliveries returns items whose retry time has come, oldest first.
func (db *DB) ReadPendingDeliveries(ctx context.Context, limit int) ([]domain.DeliveryQueueItem, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPendingDelivery, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		if err := rows.Scan(&item.Id, &item.InboxURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (db *DB) UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateDeliveryAttempt, attempts, nextRetry.UTC(), id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteDelivery, id.String())
		return err
	})
}

func (db *DB) CountDeliveries(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountDeliveries).Scan(&n)
	return n, err
}

func (db *DB) UpsertRemoteActor(ctx context.Context, ra *domain.RemoteActor) error {
	if ra.Id == uuid.Nil {
		ra.Id = uuid.New()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertRemoteActor,
			ra.Id.String(), ra.ActorURI, ra.Type, ra.Username, ra.Domain, ra.InboxURI, ra.SharedInbox,
			ra.OutboxURI, ra.PublicKeyId, ra.PublicKeyPem, ra.LastFetchedAt.UTC())
		return err
	})
}

func (db *DB) ReadRemoteActorByURI(ctx context.Context, uri string) (*domain.RemoteActor, error) {
	return scanRemoteActor(db.db.QueryRowContext(ctx, sqlSelectRemoteActorByURI, uri))
}

func (db *DB) ReadRemoteActorByKeyId(ctx context.Context, keyId string) (*domain.RemoteActor, error) {
	return scanRemoteActor(db.db.QueryRowContext(ctx, sqlSelectRemoteActorByKeyId, keyId))
}

func scanRemoteActor(row scanner) (*domain.RemoteActor, error) {
	var ra domain.RemoteActor
	err := row.Scan(&ra.Id, &ra.ActorURI, &ra.Type, &ra.Username, &ra.Domain, &ra.InboxURI, &ra.SharedInbox,
		&ra.OutboxURI, &ra.PublicKeyId, &ra.PublicKeyPem, &ra.LastFetchedAt)
	if err != nil {
		return nil, err
	}
	return &ra, nil
}
