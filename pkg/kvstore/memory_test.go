package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "a", map[string]int{"x": 1}, 0))

	var got map[string]int
	require.NoError(t, m.Get(ctx, "a", &got))
	require.Equal(t, 1, got["x"])
}

func TestMemoryGetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var got string
	err := m.Get(ctx, "missing", &got)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTTLExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "a", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var got string
	err := m.Get(ctx, "a", &got)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySetNXWinsOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	won, err := m.SetNX(ctx, "pin", "first", 0)
	require.NoError(t, err)
	require.True(t, won)

	won, err = m.SetNX(ctx, "pin", "second", 0)
	require.NoError(t, err)
	require.False(t, won)

	var got string
	require.NoError(t, m.Get(ctx, "pin", &got))
	require.Equal(t, "first", got)
}

func TestMemoryDeleteAndKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "break:1", "a", 0))
	require.NoError(t, m.Set(ctx, "break:2", "b", 0))
	require.NoError(t, m.Set(ctx, "other:1", "c", 0))

	keys, err := m.Keys(ctx, "break:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"break:1", "break:2"}, keys)

	require.NoError(t, m.Delete(ctx, "break:1"))
	keys, err = m.Keys(ctx, "break:")
	require.NoError(t, err)
	require.Equal(t, []string{"break:2"}, keys)
}
