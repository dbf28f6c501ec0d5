package chconfig

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashif-ads/adinserter/pkg/kvstore"
)

type fakeSource struct {
	calls atomic.Int32
	cfg   Config
	err   error
}

func (f *fakeSource) BySlug(ctx context.Context, orgSlug, channelSlug string) (Config, error) {
	f.calls.Add(1)
	if f.err != nil {
		return Config{}, f.err
	}
	return f.cfg, nil
}

func (f *fakeSource) ByID(ctx context.Context, channelID string) (Config, error) {
	f.calls.Add(1)
	if f.err != nil {
		return Config{}, f.err
	}
	return f.cfg, nil
}

func TestBySlugCachesAfterFirstFetch(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{cfg: Config{ID: "ch1", OrgID: "org1", Slug: "chan1", Mode: ModeAuto}}
	c := New(src, kvstore.NewMemory(), 0)

	cfg, err := c.BySlug(ctx, "org1", "chan1")
	require.NoError(t, err)
	require.Equal(t, "ch1", cfg.ID)

	_, err = c.BySlug(ctx, "org1", "chan1")
	require.NoError(t, err)
	require.Equal(t, int32(1), src.calls.Load())
}

func TestByIDPopulatesSlugCacheToo(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{cfg: Config{ID: "ch1", OrgID: "org1", Slug: "chan1"}}
	c := New(src, kvstore.NewMemory(), 0)

	_, err := c.ByID(ctx, "ch1")
	require.NoError(t, err)

	_, err = c.BySlug(ctx, "org1", "chan1")
	require.NoError(t, err)
	require.Equal(t, int32(1), src.calls.Load())
}

func TestNotFoundIsNeverCached(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{err: ErrNotFound}
	c := New(src, kvstore.NewMemory(), 0)

	_, err := c.BySlug(ctx, "org1", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.BySlug(ctx, "org1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, int32(2), src.calls.Load())
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{cfg: Config{ID: "ch1", OrgID: "org1", Slug: "chan1"}}
	c := New(src, kvstore.NewMemory(), 0)

	_, err := c.BySlug(ctx, "org1", "chan1")
	require.NoError(t, err)

	c.Invalidate(ctx, "org1", src.cfg)

	_, err = c.BySlug(ctx, "org1", "chan1")
	require.NoError(t, err)
	require.Equal(t, int32(2), src.calls.Load())
}
