// Package skipplan computes how many origin segments to drop under an
// inserted ad break and derives the resume Program-Date-Time (spec.md §4.7).
package skipplan

import (
	"errors"
	"fmt"
	"time"

	"github.com/dashif-ads/adinserter/pkg/hls"
)

// Failure modes returned by Compute (spec.md §4.7).
var (
	ErrMarkerNotFound   = errors.New("skipplan: marker line carries no PROGRAM-DATE-TIME")
	ErrNoSegmentsToSkip = errors.New("skipplan: no segments found after marker")
	ErrWindowRolledOut  = errors.New("skipplan: no remaining segments after resume point")
)

// Input parameterises Compute (spec.md §4.7).
type Input struct {
	Lines []hls.Line
	// MarkerLineIndex is the index of the PDT line where the break starts.
	MarkerLineIndex int
	// TargetDuration is the SCTE-35 break duration in seconds. Used when
	// StableSkipCount is zero.
	TargetDuration float64
	// StableSkipCount, when > 0, is a previously-pinned segment count
	// (from the ad-break state store) that must be reproduced exactly so
	// every request for this break rewrites identically.
	StableSkipCount int
}

// Plan is the result of Compute (spec.md §4.7).
type Plan struct {
	SegmentsSkipped   int
	DurationSkipped   float64
	ResumeContentIdx  int
	ResumePDT         string
	ResumePDTObserved bool // true if ResumePDT came from the origin, false if computed
	RemainingSegments int
}

const isoLayout = "2006-01-02T15:04:05.000Z"

// Compute walks forward from Input.MarkerLineIndex+1, accumulating EXTINF
// durations until either StableSkipCount segments have been skipped or
// TargetDuration has been covered, then locates (or synthesises) the resume
// PDT (spec.md §4.7 steps 1-6).
func Compute(in Input) (Plan, error) {
	if in.MarkerLineIndex < 0 || in.MarkerLineIndex >= len(in.Lines) {
		return Plan{}, ErrMarkerNotFound
	}
	marker := in.Lines[in.MarkerLineIndex]
	if marker.Kind != hls.KindProgramDateTime || marker.PDTRaw == "" {
		return Plan{}, ErrMarkerNotFound
	}
	markerPDT, err := parseISO(marker.PDTRaw)
	if err != nil {
		return Plan{}, fmt.Errorf("skipplan: marker PDT %q: %w", marker.PDTRaw, err)
	}

	var (
		segmentsSkipped int
		durationSkipped float64
		resumeIdx       = -1
	)
	for i := in.MarkerLineIndex + 1; i < len(in.Lines); i++ {
		line := in.Lines[i]
		if line.Kind == hls.KindExtinf {
			durationSkipped += line.Duration
		}
		if line.Kind != hls.KindURI {
			continue
		}
		segmentsSkipped++

		stableReached := in.StableSkipCount > 0 && segmentsSkipped >= in.StableSkipCount
		durationReached := in.StableSkipCount <= 0 && in.TargetDuration > 0 && durationSkipped >= in.TargetDuration
		if stableReached || durationReached {
			resumeIdx = i + 1
			break
		}
	}
	if segmentsSkipped == 0 {
		return Plan{}, ErrNoSegmentsToSkip
	}
	if resumeIdx < 0 {
		// Walked off the end of the playlist without satisfying the stop
		// condition: everything after the marker was consumed.
		resumeIdx = len(in.Lines)
	}

	plan := Plan{
		SegmentsSkipped: segmentsSkipped,
		DurationSkipped: durationSkipped,
	}

	// Step 3: scan the remainder for the first PROGRAM-DATE-TIME.
	pdtLineIdx := -1
	for i := resumeIdx; i < len(in.Lines); i++ {
		if in.Lines[i].Kind == hls.KindProgramDateTime && in.Lines[i].PDTRaw != "" {
			pdtLineIdx = i
			break
		}
	}
	if pdtLineIdx >= 0 {
		plan.ResumePDT = in.Lines[pdtLineIdx].PDTRaw
		plan.ResumePDTObserved = true
		plan.ResumeContentIdx = pdtLineIdx + 1
	} else {
		// Step 4: no PDT found anywhere in the remainder, compute one.
		plan.ResumePDT = markerPDT.Add(time.Duration(durationSkipped * float64(time.Second))).Format(isoLayout)
		plan.ResumePDTObserved = false
		plan.ResumeContentIdx = resumeIdx
	}

	plan.RemainingSegments = countSegments(in.Lines[plan.ResumeContentIdx:])
	if plan.RemainingSegments == 0 {
		return plan, ErrWindowRolledOut
	}
	return plan, nil
}

func countSegments(lines []hls.Line) int {
	n := 0
	for _, l := range lines {
		if l.Kind == hls.KindURI {
			n++
		}
	}
	return n
}

// parseISO accepts both millisecond-precision and RFC3339 PDT strings, since
// origin playlists vary in their fractional-second precision.
func parseISO(s string) (time.Time, error) {
	if t, err := time.Parse(isoLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
