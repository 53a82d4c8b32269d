package database

import (
	"context"
	"testing"
	"time"

	"whiteboard-relay/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(id string) models.DrawingOp {
	return models.DrawingOp{ID: id, Type: models.KindPen, Points: []models.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}
}

func ids(ops []models.DrawingOp) []string {
	out := make([]string, 0, len(ops))
	for _, o := range ops {
		out = append(out, o.ID)
	}
	return out
}

// testStoreContract runs the behaviour every Store implementation shares.
// Room ids are random so the cases can run against a shared database.
func testStoreContract(t *testing.T, store Store) {
	t.Run("RoomLifecycle", func(t *testing.T) {
		ctx := context.Background()
		roomID := uuid.NewString()

		lookup, err := store.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, RoomMissing, lookup.Status)

		createdAt := time.UnixMilli(time.Now().UnixMilli()).UTC()
		require.NoError(t, store.CreateRoom(ctx, roomID, "user-a", createdAt))
		assert.ErrorIs(t, store.CreateRoom(ctx, roomID, "user-b", createdAt), ErrRoomExists)

		require.NoError(t, store.IncrementCount(ctx, roomID))
		lookup, err = store.GetRoom(ctx, roomID)
		require.NoError(t, err)
		require.Equal(t, RoomFound, lookup.Status)
		assert.Equal(t, 2, lookup.Room.UserCount)
		assert.Equal(t, "user-a", lookup.Room.CreatedBy)
		assert.True(t, createdAt.Equal(lookup.Room.CreatedAt))

		require.NoError(t, store.DecrementCount(ctx, roomID))
		assert.ErrorIs(t, store.DeleteRoom(ctx, roomID), ErrRoomOccupied)
		lookup, err = store.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, RoomFound, lookup.Status)

		require.NoError(t, store.DecrementCount(ctx, roomID))
		require.NoError(t, store.DeleteRoom(ctx, roomID))
		lookup, err = store.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, RoomMissing, lookup.Status)

		assert.ErrorIs(t, store.IncrementCount(ctx, roomID), ErrRoomNotFound)
		assert.ErrorIs(t, store.DecrementCount(ctx, roomID), ErrRoomNotFound)
		lookup, err = store.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, RoomMissing, lookup.Status, "count changes must not recreate a room")

		assert.NoError(t, store.DeleteRoom(ctx, roomID))
	})

	t.Run("LogOrdering", func(t *testing.T) {
		ctx := context.Background()
		roomID := uuid.NewString()
		require.NoError(t, store.CreateRoom(ctx, roomID, "a", time.Now()))

		ops, err := store.ReadLogOrdered(ctx, roomID)
		require.NoError(t, err)
		assert.NotNil(t, ops)
		assert.Empty(t, ops)

		for _, id := range []string{"1", "2", "3"} {
			require.NoError(t, store.AppendLogEntry(ctx, roomID, op(id)))
		}
		// duplicate ids are kept
		require.NoError(t, store.AppendLogEntry(ctx, roomID, op("2")))

		ops, err = store.ReadLogOrdered(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "3", "2"}, ids(ops))
		assert.Equal(t, op("1").Points, ops[0].Points)

		require.NoError(t, store.ReplaceLog(ctx, roomID, []models.DrawingOp{op("9"), op("3"), op("1")}))
		ops, err = store.ReadLogOrdered(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, []string{"9", "3", "1"}, ids(ops))

		require.NoError(t, store.ReplaceLog(ctx, roomID, []models.DrawingOp{}))
		ops, err = store.ReadLogOrdered(ctx, roomID)
		require.NoError(t, err)
		assert.Empty(t, ops)

		require.NoError(t, store.AppendLogEntry(ctx, roomID, op("4")))
		require.NoError(t, store.ClearLog(ctx, roomID))
		ops, err = store.ReadLogOrdered(ctx, roomID)
		require.NoError(t, err)
		assert.Empty(t, ops)
	})

	t.Run("Presence", func(t *testing.T) {
		ctx := context.Background()
		roomID := uuid.NewString()
		require.NoError(t, store.CreateRoom(ctx, roomID, "a", time.Now()))

		seen := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.UpsertPresence(ctx, roomID, models.Presence{SubjectID: "b", Name: "Bob", Color: "#FF6B6B", LastSeen: seen}))
		require.NoError(t, store.UpsertPresence(ctx, roomID, models.Presence{SubjectID: "a", Name: "Alice", LastSeen: seen}))
		require.NoError(t, store.UpsertPresence(ctx, roomID, models.Presence{SubjectID: "a", Name: "Alicia", LastSeen: seen}))

		users, err := store.ListPresence(ctx, roomID)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "Alicia", users[0].Name)
		assert.Equal(t, "Bob", users[1].Name)
		assert.Equal(t, "#FF6B6B", users[1].Color)
		assert.True(t, seen.Equal(users[1].LastSeen))

		require.NoError(t, store.DeletePresence(ctx, roomID, "a"))
		require.NoError(t, store.DeletePresence(ctx, roomID, "nobody"))
		users, err = store.ListPresence(ctx, roomID)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("TeardownRemovesLogAndPresence", func(t *testing.T) {
		ctx := context.Background()
		roomID := uuid.NewString()
		require.NoError(t, store.CreateRoom(ctx, roomID, "a", time.Now()))
		require.NoError(t, store.AppendLogEntry(ctx, roomID, op("1")))
		require.NoError(t, store.UpsertPresence(ctx, roomID, models.Presence{SubjectID: "a", Name: "Alice", LastSeen: time.Now()}))

		require.NoError(t, store.DecrementCount(ctx, roomID))
		require.NoError(t, store.DeleteRoom(ctx, roomID))

		ops, err := store.ReadLogOrdered(ctx, roomID)
		require.NoError(t, err)
		assert.Empty(t, ops)
		users, err := store.ListPresence(ctx, roomID)
		require.NoError(t, err)
		assert.Empty(t, users)
	})
}
