package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_WritesToMissingRoom(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	assert.ErrorIs(t, store.AppendLogEntry(ctx, "r1", op("1")), ErrRoomNotFound)
	assert.ErrorIs(t, store.ReplaceLog(ctx, "r1", nil), ErrRoomNotFound)

	require.NoError(t, store.CreateRoom(ctx, "r1", "a", time.Now()))
	assert.NoError(t, store.AppendLogEntry(ctx, "r1", op("1")))
}

func TestMemoryStore_FailNext(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.FailNext("GetRoom", 1)

	_, err := store.GetRoom(ctx, "r1")
	assert.ErrorIs(t, err, ErrInjected)
	_, err = store.GetRoom(ctx, "r1")
	assert.NoError(t, err)
	assert.Equal(t, 2, store.Calls("GetRoom"))
}
