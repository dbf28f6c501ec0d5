// Package ptspdt maintains the affine calibration between a stream's 90kHz
// PTS clock and wall-clock PDT (EXT-X-PROGRAM-DATE-TIME), so the rewriter
// can translate an SCTE-35 splice_time into the ISO timestamp it needs to
// find the matching manifest line (spec.md §3.4, §4.5).
package ptspdt

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultCapacity bounds the calibration sample buffer (spec.md §3.4).
const DefaultCapacity = 32

// ptsModulus is 2^33, the PTS wraparound period.
const ptsModulus = int64(1) << 33

// nominalSlopeMsPerTick is 1000/90000: milliseconds of wall time per PTS
// tick at the standard 90kHz clock, used until ≥2 samples are available.
const nominalSlopeMsPerTick = 1000.0 / 90000.0

// driftLogThresholdMs is the drift magnitude spec.md §3.4 requires logging.
const driftLogThresholdMs = 250.0

// Sample is one calibration point (spec.md §3.4).
type Sample struct {
	RawPTS       uint64
	UnwrappedPTS uint64
	PDTMillis    int64
}

// Mapper holds the bounded calibration buffer for one rendition's PTS clock.
// Zero value is ready to use.
type Mapper struct {
	mu             sync.Mutex
	capacity       int
	samples        []Sample
	haveReference  bool
	referenceRaw   uint64
	lastDriftMs    float64
	lastDriftKnown bool
}

// New returns a Mapper with the given sample capacity (DefaultCapacity if <= 0).
func New(capacity int) *Mapper {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mapper{capacity: capacity}
}

// Ingest folds a new {pts, pdt} observation into the calibration (spec.md
// §4.5). If a prior estimate existed for this PTS, the observed-vs-predicted
// drift is recorded and logged when it exceeds 250ms.
func (m *Mapper) Ingest(log *slog.Logger, rawPTS uint64, pdt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	unwrapped := m.unwrapLocked(rawPTS)
	pdtMs := pdt.UnixMilli()

	if predictedMs, ok := m.estimateLocked(unwrapped); ok {
		drift := float64(pdtMs - predictedMs)
		m.lastDriftMs = drift
		m.lastDriftKnown = true
		if math.Abs(drift) > driftLogThresholdMs && log != nil {
			log.Warn("ptspdt: drift exceeds threshold",
				"drift_ms", drift, "pts", rawPTS, "unwrapped_pts", unwrapped)
		}
	}

	m.samples = append(m.samples, Sample{RawPTS: rawPTS, UnwrappedPTS: unwrapped, PDTMillis: pdtMs})
	capacity := m.capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if len(m.samples) > capacity {
		m.samples = m.samples[1:]
	}
}

// Estimate maps a raw PTS (possibly in a different wrap cycle than the most
// recent ingest) to wall-clock time (spec.md §4.5).
func (m *Mapper) Estimate(rawPTS uint64) (ms int64, iso string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) == 0 {
		return 0, "", false
	}
	unwrapped := rawPTS
	if m.haveReference {
		unwrapped = alignPTS(rawPTS, m.referenceRaw)
	}
	predicted, ok := m.estimateLocked(unwrapped)
	if !ok {
		return 0, "", false
	}
	return predicted, time.UnixMilli(predicted).UTC().Format("2006-01-02T15:04:05.000Z"), true
}

// Reset clears all calibration state (spec.md §4.5); called on every
// EXT-X-DISCONTINUITY. Estimates are undefined until the next Ingest.
func (m *Mapper) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = nil
	m.haveReference = false
	m.referenceRaw = 0
	m.lastDriftKnown = false
}

// LastDriftMs returns the most recently recorded drift and whether one has
// been computed since the last Reset.
func (m *Mapper) LastDriftMs() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDriftMs, m.lastDriftKnown
}

func (m *Mapper) unwrapLocked(rawPTS uint64) uint64 {
	unwrapped := rawPTS
	if m.haveReference {
		unwrapped = alignPTS(rawPTS, m.referenceRaw)
	}
	m.referenceRaw = unwrapped
	m.haveReference = true
	return unwrapped
}

// estimateLocked evaluates the affine fit (or nominal-slope fallback) at the
// given unwrapped PTS. Caller holds m.mu.
func (m *Mapper) estimateLocked(unwrappedPTS uint64) (int64, bool) {
	if len(m.samples) == 0 {
		return 0, false
	}
	slope, intercept, ok := fit(m.samples)
	if !ok {
		last := m.samples[len(m.samples)-1]
		slope = nominalSlopeMsPerTick
		intercept = float64(last.PDTMillis) - slope*float64(last.UnwrappedPTS)
	}
	return int64(slope*float64(unwrappedPTS) + intercept), true
}

// alignPTS unwraps raw (a 33-bit PTS) to whichever multiple of 2^33 lands
// closest to reference, correcting for wraparound in either direction
// (spec.md §3.4, §4.5). The correction is ±2^33; picking the closest
// candidate treats any jump of more than 2^32 from reference as a wrap.
func alignPTS(raw, reference uint64) uint64 {
	best := int64(raw)
	bestDiff := absInt64(int64(reference) - best)
	for _, k := range [...]int64{-1, 1} {
		cand := int64(raw) + k*ptsModulus
		if d := absInt64(int64(reference) - cand); d < bestDiff {
			bestDiff = d
			best = cand
		}
	}
	if best < 0 {
		best = int64(raw)
	}
	return uint64(best)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// fit performs a least-squares affine fit pdt_ms = slope*pts + intercept.
// ok is false when fewer than 2 samples exist or the samples are degenerate
// (all at the same PTS), per spec.md §3.4.
func fit(samples []Sample) (slope, intercept float64, ok bool) {
	if len(samples) < 2 {
		return 0, 0, false
	}
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(samples))
	for _, s := range samples {
		x := float64(s.UnwrappedPTS)
		y := float64(s.PDTMillis)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, true
}
