package adbreak

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dashif-ads/adinserter/pkg/kvstore"
)

func TestPinAtMostOnce(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory())

	var calls int32
	fn := func() (State, error) {
		atomic.AddInt32(&calls, 1)
		return State{
			EventID:         "e1",
			StartPDT:        time.Now(),
			EndPDT:          time.Now().Add(30 * time.Second),
			PinnedSkipCount: 5,
		}, nil
	}

	var wg sync.WaitGroup
	results := make([]State, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := s.Pin(ctx, "ch1", "e1", fn)
			require.NoError(t, err)
			results[i] = st
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, st := range results {
		require.Equal(t, 5, st.PinnedSkipCount)
	}
}

func TestPinReturnsExistingOnSubsequentCall(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory())

	first, err := s.Pin(ctx, "ch1", "e1", func() (State, error) {
		return State{EventID: "e1", EndPDT: time.Now().Add(time.Minute), PinnedSkipCount: 3}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, first.PinnedSkipCount)

	second, err := s.Pin(ctx, "ch1", "e1", func() (State, error) {
		t.Fatal("fn should not be called again")
		return State{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, second.PinnedSkipCount)
}

func TestFindActiveMatchesWindow(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory())
	now := time.Now()

	_, err := s.Pin(ctx, "ch1", "e1", func() (State, error) {
		return State{
			EventID:  "e1",
			StartPDT: now.Add(-10 * time.Second),
			EndPDT:   now.Add(10 * time.Second),
		}, nil
	})
	require.NoError(t, err)

	active, ok, err := s.FindActive(ctx, "ch1", now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e1", active.EventID)

	_, ok, err = s.FindActive(ctx, "ch1", now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidateRemovesState(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory())

	_, err := s.Pin(ctx, "ch1", "e1", func() (State, error) {
		return State{EventID: "e1", EndPDT: time.Now().Add(time.Minute)}, nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Invalidate(ctx, "ch1", "e1"))

	_, ok, err := s.FindActive(ctx, "ch1", time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}
