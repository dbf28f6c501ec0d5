// Package adbreak is the per-channel ad-break state store (spec.md §3.6,
// §4.8): it decides which request "wins" the right to compute an insertion
// plan for a given break, and lets every other concurrent request for the
// same break read the pinned result back verbatim.
package adbreak

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dashif-ads/adinserter/pkg/kvstore"
)

// DefaultGrace is the minimum time after End before Closing evicts state
// (spec.md §3.6: "grace ≥ 30 s").
const DefaultGrace = 30 * time.Second

// State is the pinned decision for one ad break (spec.md §3.6).
type State struct {
	EventID              string    `json:"event_id"`
	StartPDT             time.Time `json:"start_pdt"`
	EndPDT               time.Time `json:"end_pdt"`
	DurationSec          float64   `json:"duration_sec"`
	PinnedSkipCount      int       `json:"pinned_skip_count"`
	PinnedPodFingerprint string    `json:"pinned_pod_fingerprint"`
	PinnedResumePDT      string    `json:"pinned_resume_pdt,omitempty"`
}

// Active reports whether now falls within [StartPDT, EndPDT].
func (s State) Active(now time.Time) bool {
	return !now.Before(s.StartPDT) && !now.After(s.EndPDT)
}

// Store tracks ad-break state per channel, backed by a kvstore.Store
// (spec.md §4.8). The zero value is not usable; construct with New.
type Store struct {
	kv    kvstore.Store
	group singleflight.Group
}

// New returns a Store backed by kv.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

func channelPrefix(channelID string) string {
	return fmt.Sprintf("channel:%s:", channelID)
}

func breakKey(channelID, eventID string) string {
	return fmt.Sprintf("channel:%s:%s", channelID, eventID)
}

// FindActive returns any break for channelID whose window contains now
// (spec.md §4.8: "list-by-prefix semantics with eventual consistency are
// acceptable").
func (s *Store) FindActive(ctx context.Context, channelID string, now time.Time) (*State, bool, error) {
	keys, err := s.kv.Keys(ctx, channelPrefix(channelID))
	if err != nil {
		return nil, false, err
	}
	for _, key := range keys {
		var st State
		if err := s.kv.Get(ctx, key, &st); err != nil {
			continue // evicted between Keys and Get; eventual consistency
		}
		if st.Active(now) {
			return &st, true, nil
		}
	}
	return nil, false, nil
}

// Pin ensures at most one caller per (channelID, eventID) fingerprint
// actually computes the pinned state: the first caller's fn wins and its
// result is stored and returned to every concurrent caller (spec.md §4.8).
// A break's TTL is EndPDT+DefaultGrace past now, so Closing can clean it up
// without a separate sweep.
func (s *Store) Pin(ctx context.Context, channelID, eventID string, fn func() (State, error)) (State, error) {
	key := breakKey(channelID, eventID)

	var existing State
	if err := s.kv.Get(ctx, key, &existing); err == nil {
		return existing, nil
	} else if err != kvstore.ErrNotFound {
		return State{}, err
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// Re-check under the singleflight key: another goroutine in this
		// same process may have lost the kvstore SetNX race but still need
		// the winner's value, or another process entirely may have already
		// pinned it.
		var st State
		if err := s.kv.Get(ctx, key, &st); err == nil {
			return st, nil
		}

		st, err := fn()
		if err != nil {
			return State{}, err
		}
		ttl := time.Until(st.EndPDT.Add(DefaultGrace))
		if ttl <= 0 {
			ttl = DefaultGrace
		}
		won, err := s.kv.SetNX(ctx, key, st, ttl)
		if err != nil {
			return State{}, err
		}
		if !won {
			// Lost the cross-process race; read back whoever won.
			var winner State
			if err := s.kv.Get(ctx, key, &winner); err != nil {
				return State{}, err
			}
			return winner, nil
		}
		return st, nil
	})
	if err != nil {
		return State{}, err
	}
	return v.(State), nil
}

// Invalidate evicts the pinned state for (channelID, eventID), e.g. when
// Closing observes now > end_pdt + grace (spec.md §4.8, §4.11).
func (s *Store) Invalidate(ctx context.Context, channelID, eventID string) error {
	return s.kv.Delete(ctx, breakKey(channelID, eventID))
}
