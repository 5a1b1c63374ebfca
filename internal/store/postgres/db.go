package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL    PRIMARY KEY,
			username         VARCHAR(50)  UNIQUE NOT NULL,
			display_name     VARCHAR(100) NOT NULL DEFAULT '',
			avatar           TEXT         NOT NULL DEFAULT '',
			hashed_password  VARCHAR(255) NOT NULL,
			is_active        BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_seen        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS rooms (
			id         BIGSERIAL    PRIMARY KEY,
			name       VARCHAR(100) NOT NULL,
			created_by BIGINT       NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL    PRIMARY KEY,
			room_id         BIGINT       NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender_id       BIGINT       NOT NULL REFERENCES users(id),
			receiver_id     BIGINT       REFERENCES users(id),
			body            TEXT,
			type            VARCHAR(16)  NOT NULL DEFAULT 'text',
			attachment_url  TEXT         NOT NULL DEFAULT '',
			attachment_name TEXT         NOT NULL DEFAULT '',
			client_token    VARCHAR(64),
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ,
			is_edited       BOOLEAN      NOT NULL DEFAULT FALSE,
			is_read         BOOLEAN      NOT NULL DEFAULT FALSE,
			read_at         TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS room_presence (
			room_id           BIGINT      NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id           BIGINT      NOT NULL REFERENCES users(id),
			online_since      TIMESTAMPTZ NOT NULL,
			last_heartbeat_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (room_id, user_id)
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_token ON messages(sender_id, client_token) WHERE client_token IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(room_id, sender_id, receiver_id)`,
		`CREATE INDEX IF NOT EXISTS idx_presence_heartbeat ON room_presence(last_heartbeat_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
