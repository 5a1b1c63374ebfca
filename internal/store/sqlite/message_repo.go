package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, room_id, sender_id, receiver_id, body, type, attachment_url, attachment_name,
	client_token, created_at, updated_at, is_edited, is_read, read_at`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	query := `
		INSERT INTO messages (room_id, sender_id, receiver_id, body, type, attachment_url, attachment_name,
			client_token, created_at, is_edited, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
	`
	res, err := r.db.ExecContext(ctx, query,
		m.RoomID,
		m.SenderID,
		m.ReceiverID,
		m.Body,
		string(m.Type),
		m.AttachmentURL,
		m.AttachmentName,
		nullString(m.ClientToken),
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) GetByClientToken(ctx context.Context, senderID int64, token string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE sender_id = ? AND client_token = ?`, senderID, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message by token: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) UpdateBody(ctx context.Context, id int64, body string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET body = ?, is_edited = 1, updated_at = ? WHERE id = ?`, body, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (r *MessageRepo) List(ctx context.Context, q domain.HistoryQuery) ([]*domain.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q.PeerID == 0 {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE room_id = ? AND receiver_id IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT ? OFFSET ?
		`, q.RoomID, q.Limit, q.Offset)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE room_id = ?
			  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
			ORDER BY created_at DESC, id DESC
			LIMIT ? OFFSET ?
		`, q.RoomID, q.UserID, q.PeerID, q.PeerID, q.UserID, q.Limit, q.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *MessageRepo) MarkRead(ctx context.Context, roomID, senderID, readerID int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?
		WHERE room_id = ? AND sender_id = ? AND receiver_id = ? AND is_read = 0
	`, at.UTC(), roomID, senderID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepo) ListPeers(ctx context.Context, roomID, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT peer FROM (
			SELECT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS peer,
			       MAX(created_at) AS last_at
			FROM messages
			WHERE room_id = ? AND receiver_id IS NOT NULL AND (sender_id = ? OR receiver_id = ?)
			GROUP BY peer
		) AS peers
		ORDER BY last_at DESC
	`, userID, roomID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var peers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, id)
	}
	return peers, rows.Err()
}

// LastBetween returns nil when the pair has no messages.
func (r *MessageRepo) LastBetween(ctx context.Context, roomID, a, b int64) (*domain.Message, error) {
	msgs, err := r.List(ctx, domain.HistoryQuery{RoomID: roomID, UserID: a, PeerID: b, Limit: 1})
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, roomID, senderID, readerID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_id = ? AND sender_id = ? AND receiver_id = ? AND is_read = 0
	`, roomID, senderID, readerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	var (
		receiver sql.NullInt64
		body     sql.NullString
		typ      string
		token    sql.NullString
		updated  sql.NullTime
		readAt   sql.NullTime
	)
	if err := row.Scan(
		&m.ID,
		&m.RoomID,
		&m.SenderID,
		&receiver,
		&body,
		&typ,
		&m.AttachmentURL,
		&m.AttachmentName,
		&token,
		&m.CreatedAt,
		&updated,
		&m.IsEdited,
		&m.IsRead,
		&readAt,
	); err != nil {
		return nil, err
	}
	m.Type = domain.MessageType(typ)
	m.ClientToken = token.String
	if receiver.Valid {
		m.ReceiverID = &receiver.Int64
	}
	if body.Valid {
		m.Body = &body.String
	}
	if updated.Valid {
		m.UpdatedAt = &updated.Time
	}
	if readAt.Valid {
		m.ReadAt = &readAt.Time
	}
	return m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
