package idr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIngestDedupesPreferringEncoder(t *testing.T) {
	tl := New(0)
	tl.Ingest(Frame{PTS: 900000, Source: SourceSegmenter})
	tl.Ingest(Frame{PTS: 900000, Source: SourceEncoder})
	require.Equal(t, 1, tl.Len())

	// A later segmenter report of the same PTS must not evict the encoder's.
	tl.Ingest(Frame{PTS: 900000, Source: SourceSegmenter})
	require.Equal(t, 1, tl.Len())
}

func TestIngestKeepsOrderAndEvictsOldest(t *testing.T) {
	tl := New(3)
	for _, pts := range []uint64{300000, 100000, 200000, 400000} {
		tl.Ingest(Frame{PTS: pts})
	}
	require.Equal(t, 3, tl.Len())
	d := tl.Snap(100000, DefaultLookAheadPTS, false)
	// 100000 should have been evicted (smallest PTS; smallest retained PTS is 200000,
	// which lies within the look-ahead window of the cue).
	require.Equal(t, ReasonFuture, d.Reason)
	require.EqualValues(t, 200000, d.SnappedPTS)
}

func TestSnapExactMatch(t *testing.T) {
	tl := New(0)
	tl.Ingest(Frame{PTS: 900000})
	tl.Ingest(Frame{PTS: 990000})

	d := tl.Snap(900000, DefaultLookAheadPTS, false)
	require.Equal(t, ReasonExact, d.Reason)
	require.EqualValues(t, 900000, d.SnappedPTS)
}

func TestSnapFutureWithinLookAhead(t *testing.T) {
	tl := New(0)
	tl.Ingest(Frame{PTS: 900000})
	tl.Ingest(Frame{PTS: 990000})

	d := tl.Snap(950000, DefaultLookAheadPTS, false)
	require.Equal(t, ReasonFuture, d.Reason)
	require.EqualValues(t, 990000, d.SnappedPTS)
}

func TestSnapBeyondLookAheadFallsBackToPrevious(t *testing.T) {
	tl := New(0)
	tl.Ingest(Frame{PTS: 900000})
	tl.Ingest(Frame{PTS: 900000 + DefaultLookAheadPTS + 90000}) // well past the window

	d := tl.Snap(900000+1000, DefaultLookAheadPTS, true)
	require.Equal(t, ReasonPrevious, d.Reason)
	require.EqualValues(t, 900000, d.SnappedPTS)
}

func TestSnapBeyondLookAheadNoFallbackIsNone(t *testing.T) {
	tl := New(0)
	tl.Ingest(Frame{PTS: 900000})
	tl.Ingest(Frame{PTS: 900000 + DefaultLookAheadPTS + 90000})

	d := tl.Snap(900000+1000, DefaultLookAheadPTS, false)
	require.Equal(t, ReasonNone, d.Reason)
}

func TestSnapEmptyTimelineIsNone(t *testing.T) {
	tl := New(0)
	d := tl.Snap(900000, DefaultLookAheadPTS, true)
	require.Equal(t, ReasonNone, d.Reason)
}

func TestValidateWithinTolerance(t *testing.T) {
	d := Decision{CuePTS: 900000, SnappedPTS: 900000 + 40000}
	v := Validate(d, 0)
	require.True(t, v.WithinTolerance)
	require.True(t, v.SnappedAhead)
	require.InDelta(t, 40000.0/90000.0, v.ErrorSeconds, 1e-9)
}

func TestValidateOutsideTolerance(t *testing.T) {
	d := Decision{CuePTS: 900000, SnappedPTS: 900000 - 50000}
	v := Validate(d, DefaultTolerancePTS)
	require.False(t, v.WithinTolerance)
	require.False(t, v.SnappedAhead)
}
