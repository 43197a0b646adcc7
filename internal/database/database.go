package database

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}

	// Initialize tables and run migrations
	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	db.migrateSchema()

	return db, nil
}

// Wrap uses an already opened connection without touching the schema.
func Wrap(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// createTables creates the necessary tables
func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pods (
			channel_id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			original_owner_id TEXT NOT NULL,
			panel_message_id TEXT NOT NULL DEFAULT '',
			reclaim_pending BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS pods_guild_owner_idx ON pods (guild_id, owner_id)`,
		`CREATE TABLE IF NOT EXISTS auto_whitelist_presets (
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			target_user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, guild_id, target_user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pod_templates (
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			name TEXT NOT NULL,
			user_limit INTEGER NOT NULL DEFAULT 0,
			auto_lock BOOLEAN NOT NULL DEFAULT FALSE,
			whitelist_user_ids TEXT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, guild_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS voice_hours (
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			total_seconds BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, guild_id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// migrateSchema applies additive migrations to databases created by older
// versions. Failures are logged and do not stop startup.
func (db *DB) migrateSchema() {
	migrations := []string{
		// Session counting came after the first voice_hours schema
		`ALTER TABLE voice_hours ADD COLUMN IF NOT EXISTS session_count BIGINT NOT NULL DEFAULT 0`,
		`UPDATE voice_hours SET session_count = 1 WHERE session_count = 0 AND total_seconds > 0`,

		// Reclaim and panel tracking
		`ALTER TABLE pods ADD COLUMN IF NOT EXISTS panel_message_id TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE pods ADD COLUMN IF NOT EXISTS reclaim_pending BOOLEAN NOT NULL DEFAULT FALSE`,

		`CREATE INDEX IF NOT EXISTS voice_hours_guild_total_idx ON voice_hours (guild_id, total_seconds DESC)`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			log.Printf("Warning: Migration failed (this might be expected): %v", err)
		}
	}
}
