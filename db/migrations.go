package db

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

const (
	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers (
		id TEXT NOT NULL PRIMARY KEY,
		actor TEXT NOT NULL UNIQUE,
		inbox TEXT NOT NULL,
		follow_uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowingsTable = `CREATE TABLE IF NOT EXISTS followings (
		id TEXT NOT NULL PRIMARY KEY,
		object TEXT NOT NULL UNIQUE,
		status INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateExternalVideosTable = `CREATE TABLE IF NOT EXISTS external_videos (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		date_added TIMESTAMP,
		duration INTEGER NOT NULL DEFAULT 0,
		viewcount INTEGER NOT NULL DEFAULT 0,
		thumbnail TEXT NOT NULL DEFAULT '',
		videos TEXT NOT NULL DEFAULT '[]',
		main_lang TEXT NOT NULL DEFAULT '',
		source_instance TEXT NOT NULL REFERENCES followings(id) ON DELETE CASCADE,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateExternalVideosIndices = `
		CREATE INDEX IF NOT EXISTS idx_external_videos_source ON external_videos(source_instance);
	`

	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateChannelsTable = `CREATE TABLE IF NOT EXISTS channels (
		id TEXT NOT NULL PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateVideosTable = `CREATE TABLE IF NOT EXISTS videos (
		id TEXT NOT NULL PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		date_added TIMESTAMP,
		duration INTEGER NOT NULL DEFAULT 0,
		viewcount INTEGER NOT NULL DEFAULT 0,
		thumbnail TEXT NOT NULL DEFAULT '{}',
		tags TEXT NOT NULL DEFAULT '[]',
		renditions TEXT NOT NULL DEFAULT '[]',
		main_lang TEXT NOT NULL DEFAULT '',
		licence TEXT NOT NULL DEFAULT '',
		is_restricted INTEGER NOT NULL DEFAULT 0,
		allow_downloading INTEGER NOT NULL DEFAULT 1,
		disable_comment INTEGER NOT NULL DEFAULT 0,
		encoding_in_progress INTEGER NOT NULL DEFAULT 0,
		channels TEXT NOT NULL DEFAULT '[]',
		tracks TEXT NOT NULL DEFAULT '[]',
		chapters TEXT NOT NULL DEFAULT '[]',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateVideosIndices = `
		CREATE INDEX IF NOT EXISTS idx_videos_owner ON videos(owner);
		CREATE INDEX IF NOT EXISTS idx_videos_date_added ON videos(date_added DESC);
	`

	sqlCreateVideoEventsTable = `CREATE TABLE IF NOT EXISTS video_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id TEXT NOT NULL,
		slug TEXT NOT NULL,
		was_public INTEGER NOT NULL,
		is_public INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		processed_at TIMESTAMP
	)`

	sqlCreateVideoEventsIndices = `
		CREATE INDEX IF NOT EXISTS idx_video_events_pending ON video_events(processed_at, id);
	`

	sqlCreateRemoteActorsTable = `CREATE TABLE IF NOT EXISTS remote_actors (
		id TEXT NOT NULL PRIMARY KEY,
		actor_uri TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL,
		shared_inbox TEXT NOT NULL DEFAULT '',
		outbox_uri TEXT NOT NULL DEFAULT '',
		public_key_id TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateRemoteActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_actors_key_id ON remote_actors(public_key_id);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	tables := []struct {
		name    string
		create  string
		indices string
	}{
		{"followings", sqlCreateFollowingsTable, ""},
		{"followers", sqlCreateFollowersTable, ""},
		{"external_videos", sqlCreateExternalVideosTable, sqlCreateExternalVideosIndices},
		{"accounts", sqlCreateAccountsTable, ""},
		{"channels", sqlCreateChannelsTable, ""},
		{"videos", sqlCreateVideosTable, sqlCreateVideosIndices},
		{"video_events", sqlCreateVideoEventsTable, sqlCreateVideoEventsIndices},
		{"remote_actors", sqlCreateRemoteActorsTable, sqlCreateRemoteActorsIndices},
		{"delivery_queue", sqlCreateDeliveryQueueTable, sqlCreateDeliveryQueueIndices},
	}

	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if err := db.createTableIfNotExists(tx, t.create, t.name); err != nil {
				return err
			}
			if t.indices == "" {
				continue
			}
			if _, err := tx.Exec(t.indices); err != nil {
				db.log.Warn("Failed to create indices", zap.String("table", t.name), zap.Error(err))
			}
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	if _, err := tx.Exec(createSQL); err != nil {
		db.log.Error("Error creating table", zap.String("table", tableName), zap.Error(err))
		return err
	}
	db.log.Debug("Table created or already exists", zap.String("table", tableName))
	return nil
}
