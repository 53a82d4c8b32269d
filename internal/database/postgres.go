package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whiteboard-relay/internal/models"
	"whiteboard-relay/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id    TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	created_by TEXT NOT NULL,
	user_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS drawings (
	room_id   TEXT NOT NULL,
	seq       BIGSERIAL,
	op_id     TEXT NOT NULL,
	timestamp BIGINT NOT NULL,
	data      JSONB NOT NULL,
	PRIMARY KEY (room_id, seq)
);
CREATE TABLE IF NOT EXISTS room_users (
	room_id    TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	color      TEXT NOT NULL,
	last_seen  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (room_id, subject_id)
);`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresStore{pool: pool}, nil
}

func (db *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresStore) Close() error {
	db.pool.Close()
	return nil
}

// Room records
func (db *PostgresStore) GetRoom(ctx context.Context, roomID string) (RoomLookup, error) {
	query := `SELECT room_id, created_at, created_by, user_count FROM rooms WHERE room_id = $1`

	var room models.Room
	err := db.pool.QueryRow(ctx, query, roomID).Scan(&room.ID, &room.CreatedAt, &room.CreatedBy, &room.UserCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(), nil
	}
	if err != nil {
		return NotFound(), fmt.Errorf("failed to get room %s: %w", roomID, err)
	}

	return Found(room), nil
}

func (db *PostgresStore) CreateRoom(ctx context.Context, roomID, createdBy string, createdAt time.Time) error {
	query := `
		INSERT INTO rooms (room_id, created_at, created_by, user_count)
		VALUES ($1, $2, $3, 1)`

	_, err := db.pool.Exec(ctx, query, roomID, createdAt, createdBy)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrRoomExists
	}
	if err != nil {
		return fmt.Errorf("failed to create room %s: %w", roomID, err)
	}
	return nil
}

func (db *PostgresStore) IncrementCount(ctx context.Context, roomID string) error {
	return db.adjustCount(ctx, roomID, 1)
}

func (db *PostgresStore) DecrementCount(ctx context.Context, roomID string) error {
	return db.adjustCount(ctx, roomID, -1)
}

func (db *PostgresStore) adjustCount(ctx context.Context, roomID string, delta int) error {
	tag, err := db.pool.Exec(ctx, `UPDATE rooms SET user_count = user_count + $2 WHERE room_id = $1`, roomID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust user count for room %s: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (db *PostgresStore) DeleteRoom(ctx context.Context, roomID string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The count check and the delete are one statement, so a join committed by
	// another process after our re-read keeps the room.
	tag, err := tx.Exec(ctx, "DELETE FROM rooms WHERE room_id = $1 AND user_count <= 0", roomID)
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM rooms WHERE room_id = $1)", roomID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check room %s: %w", roomID, err)
		}
		if exists {
			return ErrRoomOccupied
		}
		// already torn down, together with its log and presence
		return nil
	}

	// Delete drawings
	if _, err := tx.Exec(ctx, "DELETE FROM drawings WHERE room_id = $1", roomID); err != nil {
		return fmt.Errorf("failed to delete drawings for room %s: %w", roomID, err)
	}

	// Delete presence
	if _, err := tx.Exec(ctx, "DELETE FROM room_users WHERE room_id = $1", roomID); err != nil {
		return fmt.Errorf("failed to delete presence for room %s: %w", roomID, err)
	}

	return tx.Commit(ctx)
}

// Drawing log
func (db *PostgresStore) AppendLogEntry(ctx context.Context, roomID string, op models.DrawingOp) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode drawing %s: %w", op.ID, err)
	}

	query := `INSERT INTO drawings (room_id, op_id, timestamp, data) VALUES ($1, $2, $3, $4)`
	if _, err := db.pool.Exec(ctx, query, roomID, op.ID, op.Timestamp, data); err != nil {
		return fmt.Errorf("failed to append drawing to room %s: %w", roomID, err)
	}
	return nil
}

func (db *PostgresStore) ReadLogOrdered(ctx context.Context, roomID string) ([]models.DrawingOp, error) {
	rows, err := db.pool.Query(ctx, `SELECT data FROM drawings WHERE room_id = $1 ORDER BY seq`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to read drawings for room %s: %w", roomID, err)
	}
	defer rows.Close()

	ops := make([]models.DrawingOp, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var op models.DrawingOp
		if err := json.Unmarshal(data, &op); err != nil {
			logger.Error("Skipping undecodable drawing in room %s: %v", roomID, err)
			continue
		}
		ops = append(ops, op)
	}

	return ops, rows.Err()
}

func (db *PostgresStore) ReplaceLog(ctx context.Context, roomID string, ops []models.DrawingOp) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM drawings WHERE room_id = $1", roomID); err != nil {
		return fmt.Errorf("failed to clear drawings for room %s: %w", roomID, err)
	}

	batch := &pgx.Batch{}
	for _, op := range ops {
		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to encode drawing %s: %w", op.ID, err)
		}
		batch.Queue(`INSERT INTO drawings (room_id, op_id, timestamp, data) VALUES ($1, $2, $3, $4)`,
			roomID, op.ID, op.Timestamp, data)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert drawings for room %s: %w", roomID, err)
		}
	}

	return tx.Commit(ctx)
}

func (db *PostgresStore) ClearLog(ctx context.Context, roomID string) error {
	if _, err := db.pool.Exec(ctx, "DELETE FROM drawings WHERE room_id = $1", roomID); err != nil {
		return fmt.Errorf("failed to clear drawings for room %s: %w", roomID, err)
	}
	return nil
}

// Presence
func (db *PostgresStore) UpsertPresence(ctx context.Context, roomID string, p models.Presence) error {
	query := `
		INSERT INTO room_users (room_id, subject_id, name, color, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id, subject_id)
		DO UPDATE SET name = EXCLUDED.name, color = EXCLUDED.color, last_seen = EXCLUDED.last_seen`

	_, err := db.pool.Exec(ctx, query, roomID, p.SubjectID, p.Name, p.Color, p.LastSeen)
	return err
}

func (db *PostgresStore) DeletePresence(ctx context.Context, roomID, subjectID string) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM room_users WHERE room_id = $1 AND subject_id = $2`, roomID, subjectID)
	return err
}

func (db *PostgresStore) ListPresence(ctx context.Context, roomID string) ([]models.Presence, error) {
	query := `
		SELECT subject_id, name, color, last_seen
		FROM room_users
		WHERE room_id = $1
		ORDER BY name`

	rows, err := db.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]models.Presence, 0)
	for rows.Next() {
		var p models.Presence
		if err := rows.Scan(&p.SubjectID, &p.Name, &p.Color, &p.LastSeen); err != nil {
			return nil, err
		}
		users = append(users, p)
	}

	return users, rows.Err()
}
