// Package idr maintains a bounded timeline of keyframe (IDR) positions and
// snaps a requested splice PTS onto the nearest one the encoder actually
// produced (spec.md §3.3, §4.6).
package idr

import "sort"

// DefaultCapacity bounds the timeline, FIFO-evicting the oldest frame once
// exceeded (spec.md §3.3).
const DefaultCapacity = 512

// DefaultLookAheadPTS is 2 seconds of 90kHz ticks (spec.md §4.6).
const DefaultLookAheadPTS = 2 * 90000

// DefaultTolerancePTS is 0.5 seconds of 90kHz ticks (spec.md §4.6).
const DefaultTolerancePTS = 45000

// Source identifies who reported a frame; Encoder wins ties on PTS
// collision (spec.md §3.3).
type Source int

const (
	SourceSegmenter Source = iota
	SourceEncoder
)

// Frame is one entry of the IDR timeline.
type Frame struct {
	PTS     uint64
	TimeSec float64
	Source  Source
}

// Timeline is a PTS-ordered, capacity-bounded, deduplicated set of IDR
// frames. Zero value is ready to use with DefaultCapacity.
type Timeline struct {
	capacity int
	frames   []Frame // kept sorted by PTS ascending
}

// New returns a Timeline with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Timeline {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Timeline{capacity: capacity}
}

// Ingest merges a frame into the timeline (spec.md §4.6). On a PTS
// collision, an encoder-sourced frame replaces a segmenter-sourced one;
// otherwise the existing entry is kept. Capacity overflow evicts the
// frame with the smallest PTS (FIFO by insertion order approximates this
// for a live, monotonically increasing timeline).
func (t *Timeline) Ingest(f Frame) {
	i := sort.Search(len(t.frames), func(i int) bool { return t.frames[i].PTS >= f.PTS })
	if i < len(t.frames) && t.frames[i].PTS == f.PTS {
		if f.Source == SourceEncoder {
			t.frames[i] = f
		}
		return
	}
	t.frames = append(t.frames, Frame{})
	copy(t.frames[i+1:], t.frames[i:])
	t.frames[i] = f

	capacity := t.capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if len(t.frames) > capacity {
		t.frames = t.frames[1:]
	}
}

// Len reports how many frames are currently held.
func (t *Timeline) Len() int { return len(t.frames) }

// SnapReason explains how Snap arrived at its result (spec.md §4.6).
type SnapReason int

const (
	ReasonNone SnapReason = iota
	ReasonExact
	ReasonFuture
	ReasonPrevious
)

// Decision is the result of Snap.
type Decision struct {
	Reason     SnapReason
	SnappedPTS uint64
	CuePTS     uint64
}

// Snap aligns cuePTS to the nearest IDR within lookAheadPTS ticks ahead,
// falling back to the previous IDR if fallbackToPrevious is set and no
// future IDR qualifies (spec.md §4.6).
func (t *Timeline) Snap(cuePTS uint64, lookAheadPTS uint64, fallbackToPrevious bool) Decision {
	d := Decision{CuePTS: cuePTS, SnappedPTS: cuePTS}
	if len(t.frames) == 0 {
		d.Reason = ReasonNone
		return d
	}

	i := sort.Search(len(t.frames), func(i int) bool { return t.frames[i].PTS >= cuePTS })
	if i < len(t.frames) {
		future := t.frames[i]
		if future.PTS-cuePTS <= lookAheadPTS {
			d.SnappedPTS = future.PTS
			if future.PTS == cuePTS {
				d.Reason = ReasonExact
			} else {
				d.Reason = ReasonFuture
			}
			return d
		}
	}

	if fallbackToPrevious && i > 0 {
		prev := t.frames[i-1]
		d.SnappedPTS = prev.PTS
		d.Reason = ReasonPrevious
		return d
	}

	d.Reason = ReasonNone
	return d
}

// Validation is the result of Validate (spec.md §4.6).
type Validation struct {
	WithinTolerance bool
	ErrorPTS        int64
	ErrorSeconds    float64
	SnappedAhead    bool
}

// Validate reports how far a snap decision moved the cue point, and whether
// that's within tolerancePTS (DefaultTolerancePTS if 0).
func Validate(d Decision, tolerancePTS uint64) Validation {
	if tolerancePTS == 0 {
		tolerancePTS = DefaultTolerancePTS
	}
	errPTS := int64(d.SnappedPTS) - int64(d.CuePTS)
	abs := errPTS
	if abs < 0 {
		abs = -abs
	}
	return Validation{
		WithinTolerance: uint64(abs) <= tolerancePTS,
		ErrorPTS:        errPTS,
		ErrorSeconds:    float64(errPTS) / 90000.0,
		SnappedAhead:    errPTS > 0,
	}
}
