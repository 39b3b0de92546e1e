package repositories

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"classroom-relay/internal/models"
)

// RoomMessageRepository is the append log of relayed messages keyed by room.
type RoomMessageRepository interface {
	Append(ctx context.Context, roomID string, payload json.RawMessage) error
	ListRecent(ctx context.Context, roomID string, limit int) ([]models.ArchivedMessage, error)
}

// RoomMessageRepo is a sqlx implementation of RoomMessageRepository.
type RoomMessageRepo struct {
	db *sqlx.DB
}

// NewRoomMessageRepo constructs a RoomMessageRepo.
func NewRoomMessageRepo(db *sqlx.DB) *RoomMessageRepo {
	return &RoomMessageRepo{db: db}
}

// Append stores one payload as received by the relay.
func (r *RoomMessageRepo) Append(ctx context.Context, roomID string, payload json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_messages (room_id, payload) VALUES ($1, $2)`, roomID, []byte(payload))
	return err
}

// ListRecent returns up to limit most recent messages of a room, oldest first.
func (r *RoomMessageRepo) ListRecent(ctx context.Context, roomID string, limit int) ([]models.ArchivedMessage, error) {
	query := `SELECT id, room_id, payload, created_at FROM (
            SELECT id, room_id, payload, created_at FROM room_messages
            WHERE room_id=$1
            ORDER BY id DESC
            LIMIT $2
        ) recent ORDER BY id ASC`
	msgs := []models.ArchivedMessage{}
	err := r.db.SelectContext(ctx, &msgs, query, roomID, limit)
	return msgs, err
}
