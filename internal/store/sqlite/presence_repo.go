package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
)

type PresenceRepo struct {
	db *sql.DB
}

func NewPresenceRepo(db *sql.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

var _ domain.PresenceRepository = (*PresenceRepo)(nil)

func (r *PresenceRepo) Upsert(ctx context.Context, roomID, userID int64, at time.Time) (bool, error) {
	at = at.UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin presence upsert: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_presence WHERE room_id = ? AND user_id = ?`, roomID, userID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO room_presence (room_id, user_id, online_since, last_heartbeat_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (room_id, user_id) DO UPDATE SET last_heartbeat_at = excluded.last_heartbeat_at
	`, roomID, userID, at, at); err != nil {
		return false, fmt.Errorf("upsert presence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit presence: %w", err)
	}
	return n == 0, nil
}

func (r *PresenceRepo) Remove(ctx context.Context, roomID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM room_presence WHERE room_id = ? AND user_id = ?`, roomID, userID)
	if err != nil {
		return false, fmt.Errorf("remove presence: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PresenceRepo) ListOnline(ctx context.Context, roomID int64) ([]domain.OnlineMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.display_name, u.avatar, p.last_heartbeat_at
		FROM room_presence p
		JOIN users u ON u.id = p.user_id
		WHERE p.room_id = ?
		ORDER BY p.online_since, u.id
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	defer rows.Close()

	members := []domain.OnlineMember{}
	for rows.Next() {
		var (
			u  domain.User
			at time.Time
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Avatar, &at); err != nil {
			return nil, fmt.Errorf("scan online member: %w", err)
		}
		members = append(members, domain.OnlineMember{UserID: u.ID, Name: u.Name(), Avatar: u.Avatar, LastSeenAt: at})
	}
	return members, rows.Err()
}

func (r *PresenceRepo) Expire(ctx context.Context, cutoff time.Time) ([]int64, error) {
	cutoff = cutoff.UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin presence expiry: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT room_id FROM room_presence WHERE last_heartbeat_at < ? ORDER BY room_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale presence: %w", err)
	}
	var rooms []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale room: %w", err)
		}
		rooms = append(rooms, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_presence WHERE last_heartbeat_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("expire presence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit presence expiry: %w", err)
	}
	return rooms, nil
}
