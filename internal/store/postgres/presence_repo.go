package postgres

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
	var inserted bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO room_presence (room_id, user_id, online_since, last_heartbeat_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (room_id, user_id) DO UPDATE SET last_heartbeat_at = EXCLUDED.last_heartbeat_at
		RETURNING (xmax = 0)
	`, roomID, userID, at).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert presence: %w", err)
	}
	return inserted, nil
}

func (r *PresenceRepo) Remove(ctx context.Context, roomID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM room_presence WHERE room_id = $1 AND user_id = $2`, roomID, userID)
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
		WHERE p.room_id = $1
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
	rows, err := r.db.QueryContext(ctx, `
		WITH gone AS (
			DELETE FROM room_presence WHERE last_heartbeat_at < $1 RETURNING room_id
		)
		SELECT DISTINCT room_id FROM gone ORDER BY room_id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire presence: %w", err)
	}
	defer rows.Close()

	var rooms []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale room: %w", err)
		}
		rooms = append(rooms, id)
	}
	return rooms, rows.Err()
}
