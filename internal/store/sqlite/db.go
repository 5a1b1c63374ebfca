package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN. Times are written in
// SQLite's own format so they compare correctly in SQL. A single connection
// is used, which also keeps ":memory:" databases alive for the pool's
// lifetime.
func Open(dsn string) (*sql.DB, error) {
	if !strings.Contains(dsn, "_time_format=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent CREATE TABLE / CREATE INDEX statements.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT '',
			hashed_password VARCHAR(255) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			last_seen DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id INTEGER PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			created_by INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (created_by) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			room_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER DEFAULT NULL,
			body TEXT DEFAULT NULL,
			type VARCHAR(16) NOT NULL DEFAULT 'text',
			attachment_url TEXT NOT NULL DEFAULT '',
			attachment_name TEXT NOT NULL DEFAULT '',
			client_token VARCHAR(64) DEFAULT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME DEFAULT NULL,
			is_edited BOOLEAN NOT NULL DEFAULT 0,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			read_at DATETIME DEFAULT NULL,
			FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
			FOREIGN KEY (sender_id) REFERENCES users(id),
			FOREIGN KEY (receiver_id) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS room_presence (
			room_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			online_since DATETIME NOT NULL,
			last_heartbeat_at DATETIME NOT NULL,
			PRIMARY KEY (room_id, user_id),
			FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_token ON messages(sender_id, client_token) WHERE client_token IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(room_id, sender_id, receiver_id);`,
		`CREATE INDEX IF NOT EXISTS idx_presence_heartbeat ON room_presence(last_heartbeat_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
