package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"whiteboard-relay/internal/models"
	"whiteboard-relay/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each room as a hash, a list of drawings and a hash of
// presence entries.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil for RedisStore")
	}
	if keyPrefix == "" {
		keyPrefix = "wb:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) roomKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s", r.keyPrefix, roomID)
}

func (r *RedisStore) drawingsKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:drawings", r.keyPrefix, roomID)
}

func (r *RedisStore) usersKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:users", r.keyPrefix, roomID)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) GetRoom(ctx context.Context, roomID string) (RoomLookup, error) {
	key := r.roomKey(roomID)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return NotFound(), fmt.Errorf("redis: failed to get room %s from %s: %w", roomID, key, err)
	}
	if len(fields) == 0 {
		return NotFound(), nil
	}

	room := models.Room{ID: roomID, CreatedBy: fields["createdBy"]}
	if ms, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		room.CreatedAt = time.UnixMilli(ms).UTC()
	}
	count, err := strconv.Atoi(fields["userCount"])
	if err != nil {
		return NotFound(), fmt.Errorf("redis: invalid userCount '%s' for room %s: %w", fields["userCount"], roomID, err)
	}
	room.UserCount = count

	return Found(room), nil
}

// createRoomScript writes the whole room hash only when the key is absent.
var createRoomScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "userCount", "1", "createdBy", ARGV[1], "createdAt", ARGV[2])
return 1
`)

// adjustCountScript applies HINCRBY only to an existing room, so a count
// change racing a teardown cannot recreate a bare hash.
var adjustCountScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return false
end
return redis.call("HINCRBY", KEYS[1], "userCount", ARGV[1])
`)

func (r *RedisStore) CreateRoom(ctx context.Context, roomID, createdBy string, createdAt time.Time) error {
	key := r.roomKey(roomID)
	created, err := createRoomScript.Run(ctx, r.client, []string{key},
		createdBy, strconv.FormatInt(createdAt.UnixMilli(), 10)).Int()
	if err != nil {
		return fmt.Errorf("redis: failed to create room %s on %s: %w", roomID, key, err)
	}
	if created == 0 {
		return ErrRoomExists
	}
	return nil
}

func (r *RedisStore) IncrementCount(ctx context.Context, roomID string) error {
	return r.adjustCount(ctx, roomID, 1)
}

func (r *RedisStore) DecrementCount(ctx context.Context, roomID string) error {
	return r.adjustCount(ctx, roomID, -1)
}

func (r *RedisStore) adjustCount(ctx context.Context, roomID string, delta int64) error {
	key := r.roomKey(roomID)
	err := adjustCountScript.Run(ctx, r.client, []string{key}, delta).Err()
	if errors.Is(err, redis.Nil) {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("redis: failed to adjust user count for room %s on %s: %w", roomID, key, err)
	}
	return nil
}

// DeleteRoom watches the room hash: a count change from another process
// between the check and EXEC aborts the teardown.
func (r *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	key := r.roomKey(roomID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		count, err := tx.HGet(ctx, key, "userCount").Int()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrRoomOccupied
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.drawingsKey(roomID))
			pipe.Del(ctx, r.usersKey(roomID))
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRoomOccupied), errors.Is(err, redis.TxFailedErr):
		return ErrRoomOccupied
	default:
		return fmt.Errorf("redis: failed to delete room %s: %w", roomID, err)
	}
}

func (r *RedisStore) AppendLogEntry(ctx context.Context, roomID string, op models.DrawingOp) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal drawing %s: %w", op.ID, err)
	}
	key := r.drawingsKey(roomID)
	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis: failed to append drawing to room %s on %s: %w", roomID, key, err)
	}
	return nil
}

func (r *RedisStore) ReadLogOrdered(ctx context.Context, roomID string) ([]models.DrawingOp, error) {
	key := r.drawingsKey(roomID)
	items, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read drawings for room %s from %s: %w", roomID, key, err)
	}

	ops := make([]models.DrawingOp, 0, len(items))
	for _, item := range items {
		var op models.DrawingOp
		if err := json.Unmarshal([]byte(item), &op); err != nil {
			logger.Warn("redis: failed to unmarshal drawing for room %s: %v", roomID, err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (r *RedisStore) ReplaceLog(ctx context.Context, roomID string, ops []models.DrawingOp) error {
	key := r.drawingsKey(roomID)
	values := make([]interface{}, 0, len(ops))
	for _, op := range ops {
		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("redis: failed to marshal drawing %s: %w", op.ID, err)
		}
		values = append(values, data)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		pipe.RPush(ctx, key, values...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to replace drawings for room %s on %s: %w", roomID, key, err)
	}
	return nil
}

func (r *RedisStore) ClearLog(ctx context.Context, roomID string) error {
	if err := r.client.Del(ctx, r.drawingsKey(roomID)).Err(); err != nil {
		return fmt.Errorf("redis: failed to clear drawings for room %s: %w", roomID, err)
	}
	return nil
}

func (r *RedisStore) UpsertPresence(ctx context.Context, roomID string, p models.Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal presence for %s: %w", p.SubjectID, err)
	}
	return r.client.HSet(ctx, r.usersKey(roomID), p.SubjectID, data).Err()
}

func (r *RedisStore) DeletePresence(ctx context.Context, roomID, subjectID string) error {
	return r.client.HDel(ctx, r.usersKey(roomID), subjectID).Err()
}

func (r *RedisStore) ListPresence(ctx context.Context, roomID string) ([]models.Presence, error) {
	entries, err := r.client.HGetAll(ctx, r.usersKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []models.Presence{}, nil
		}
		return nil, fmt.Errorf("redis: failed to list presence for room %s: %w", roomID, err)
	}

	users := make([]models.Presence, 0, len(entries))
	for subjectID, raw := range entries {
		var p models.Presence
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			logger.Warn("redis: failed to unmarshal presence %s in room %s: %v", subjectID, roomID, err)
			continue
		}
		users = append(users, p)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}
