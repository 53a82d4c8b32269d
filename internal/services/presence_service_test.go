package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"whiteboard-relay/internal/database"
	"whiteboard-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.Identity{SubjectID: "a", DisplayName: "Alice"}
	bob   = models.Identity{SubjectID: "b", DisplayName: "Bob"}
)

func roomCount(t *testing.T, store database.Store, roomID string) (int, bool) {
	t.Helper()
	lookup, err := store.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	if lookup.Status == database.RoomMissing {
		return 0, false
	}
	return lookup.Room.UserCount, true
}

func TestPresence_JoinCreatesThenIncrements(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	svc := NewPresenceService(store)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	snap, counted := svc.Join(ctx, "r1", alice)
	assert.True(t, counted)
	assert.Empty(t, snap.Drawings)
	count, ok := roomCount(t, store, "r1")
	require.True(t, ok)
	assert.Equal(t, 1, count)

	lookup, _ := store.GetRoom(ctx, "r1")
	assert.Equal(t, "a", lookup.Room.CreatedBy)
	assert.Equal(t, fixed, lookup.Room.CreatedAt)

	require.NoError(t, store.AppendLogEntry(ctx, "r1", models.DrawingOp{ID: "op1", Type: models.KindPen}))

	snap, _ = svc.Join(ctx, "r1", bob)
	count, _ = roomCount(t, store, "r1")
	assert.Equal(t, 2, count)
	require.Len(t, snap.Drawings, 1)
	assert.Equal(t, "op1", snap.Drawings[0].ID)
	require.Len(t, snap.Presence, 2)
	assert.Equal(t, "Alice", snap.Presence[0].Name)
	assert.Equal(t, UserColor("a"), snap.Presence[0].Color)
	assert.Equal(t, fixed, snap.Presence[0].LastSeen)
}

func TestPresence_LeaveTearsDownLastParticipant(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	svc := NewPresenceService(store)

	svc.Join(ctx, "r1", alice)
	svc.Join(ctx, "r1", bob)
	require.NoError(t, store.AppendLogEntry(ctx, "r1", models.DrawingOp{ID: "op1", Type: models.KindPen}))

	assert.Equal(t, RoomRetained, svc.Leave(ctx, "r1", "a", true))
	count, ok := roomCount(t, store, "r1")
	require.True(t, ok)
	assert.Equal(t, 1, count)
	users, err := store.ListPresence(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "b", users[0].SubjectID)

	assert.Equal(t, RoomDestroyed, svc.Leave(ctx, "r1", "b", true))
	_, ok = roomCount(t, store, "r1")
	assert.False(t, ok)
	ops, err := store.ReadLogOrdered(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, ops)

	assert.Equal(t, RoomAbsent, svc.Leave(ctx, "r1", "b", true))
}

func TestPresence_ConcurrentJoinLeave(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	svc := NewPresenceService(store)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc.Join(ctx, "r1", models.Identity{SubjectID: fmt.Sprintf("u%d", i), DisplayName: "U"})
		}(i)
	}
	wg.Wait()

	count, ok := roomCount(t, store, "r1")
	require.True(t, ok)
	assert.Equal(t, n, count)

	destroyed := 0
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if svc.Leave(ctx, "r1", fmt.Sprintf("u%d", i), true) == RoomDestroyed {
				mu.Lock()
				destroyed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, destroyed)
	_, ok = roomCount(t, store, "r1")
	assert.False(t, ok)
	assert.Equal(t, 0, svc.locks.size())
}

func TestPresence_StoreFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	svc := NewPresenceService(store)

	store.FailNext("ReadLogOrdered", 1)
	snap, counted := svc.Join(ctx, "r1", alice)
	assert.True(t, counted)
	assert.NotNil(t, snap.Drawings)
	assert.Empty(t, snap.Drawings)

	store.FailNext("DecrementCount", 1)
	assert.Equal(t, RoomRetained, svc.Leave(ctx, "r1", "a", true))
	count, ok := roomCount(t, store, "r1")
	require.True(t, ok)
	assert.Equal(t, 1, count)
}

func TestPresence_TeardownFailureLeavesOrphan(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	svc := NewPresenceService(store)

	svc.Join(ctx, "r1", alice)
	store.FailNext("DeleteRoom", 1)

	assert.Equal(t, RoomRetained, svc.Leave(ctx, "r1", "a", true))
	count, ok := roomCount(t, store, "r1")
	require.True(t, ok)
	assert.Equal(t, 0, count)
}

func TestPresence_JoinExistingRoomIncrements(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	svc := NewPresenceService(store)

	require.NoError(t, store.CreateRoom(ctx, "r1", "x", time.Now()))
	svc.Join(ctx, "r1", alice)

	count, _ := roomCount(t, store, "r1")
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, store.Calls("CreateRoom"))
}

func TestPresence_UncountedJoinDoesNotDecrement(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	svc := NewPresenceService(store)

	_, counted := svc.Join(ctx, "r1", alice)
	require.True(t, counted)

	store.FailNext("IncrementCount", 1)
	_, counted = svc.Join(ctx, "r1", bob)
	assert.False(t, counted)
	count, _ := roomCount(t, store, "r1")
	assert.Equal(t, 1, count)

	assert.Equal(t, RoomRetained, svc.Leave(ctx, "r1", "b", counted))
	count, ok := roomCount(t, store, "r1")
	require.True(t, ok, "room must survive while alice is joined")
	assert.Equal(t, 1, count)
	users, err := store.ListPresence(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a", users[0].SubjectID)

	assert.Equal(t, RoomDestroyed, svc.Leave(ctx, "r1", "a", true))
}

func TestPresence_FailedCreateIsNotCounted(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	svc := NewPresenceService(store)

	store.FailNext("CreateRoom", 1)
	_, counted := svc.Join(ctx, "r1", alice)
	assert.False(t, counted)
	_, ok := roomCount(t, store, "r1")
	assert.False(t, ok)

	assert.Equal(t, RoomRetained, svc.Leave(ctx, "r1", "a", counted))
	assert.Equal(t, 0, store.Calls("DecrementCount"))
}

// rejoiningStore simulates another process joining between the count re-read
// and the teardown.
type rejoiningStore struct {
	*database.MemoryStore
}

func (s rejoiningStore) DeleteRoom(ctx context.Context, roomID string) error {
	if err := s.MemoryStore.IncrementCount(ctx, roomID); err != nil {
		return err
	}
	return s.MemoryStore.DeleteRoom(ctx, roomID)
}

func TestPresence_TeardownLosesToConcurrentJoin(t *testing.T) {
	ctx := context.Background()
	store := rejoiningStore{database.NewMemoryStore()}
	svc := NewPresenceService(store)

	svc.Join(ctx, "r1", alice)
	assert.Equal(t, RoomRetained, svc.Leave(ctx, "r1", "a", true))

	count, ok := roomCount(t, store, "r1")
	require.True(t, ok)
	assert.Equal(t, 1, count)
}

func TestUserColor(t *testing.T) {
	assert.Equal(t, "#87CEEB", UserColor("a"))
	assert.Equal(t, "#DDA0DD", UserColor("ab"))
	// non-BMP runes hash as two UTF-16 code units, like charCodeAt
	assert.Equal(t, "#FFB6C1", UserColor("\U0001F600"))
	assert.Equal(t, "#FF8C69", UserColor("u\U0001F600"))
	assert.Equal(t, "#FFEAA7", UserColor("\U0001F3A8-artist"))
	assert.Equal(t, UserColor("some-long-subject-id-1234567890"), UserColor("some-long-subject-id-1234567890"))
	assert.Contains(t, userColors, UserColor("some-long-subject-id-1234567890"))
}
