// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dashif-ads/adinserter/pkg/hls"
	"github.com/dashif-ads/adinserter/pkg/idr"
	"github.com/dashif-ads/adinserter/pkg/ptspdt"
)

// channelState bundles the per-channel in-memory helpers the rewriter needs
// across requests: the PTS<->PDT affine mapper (C5), the IDR timeline (C6),
// and a short-lived cache of the channel's master-playlist variant ladder
// (used to resolve a requested media variant's own BANDWIDTH, since a media
// playlist never carries EXT-X-STREAM-INF itself). All three are bounded,
// mutex-guarded, and scoped to a single channel, so unlike adbreak/chconfig
// they are never shared across replicas (spec.md §9: "no global state beyond
// startup config and the KV stores" - these are process-local caches that
// rebuild themselves from observed segments or a re-fetched master, not
// state that must survive a restart or be visible across replicas).
type channelState struct {
	ptsMap *ptspdt.Mapper
	idrs   *idr.Timeline

	masterMu      sync.Mutex
	masterVariant []hls.Variant
	masterFetched time.Time
}

// channelRegistry is a mutex-guarded map of channelState keyed by channel
// ID, one entry lazily created per channel on first use.
type channelRegistry struct {
	mu   sync.Mutex
	byID map[string]*channelState
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{byID: make(map[string]*channelState)}
}

// get returns the channelState for channelID, creating it on first access.
func (r *channelRegistry) get(channelID string) *channelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.byID[channelID]
	if !ok {
		cs = &channelState{
			ptsMap: ptspdt.New(ptspdt.DefaultCapacity),
			idrs:   idr.New(idr.DefaultCapacity),
		}
		r.byID[channelID] = cs
	}
	return cs
}

// variantForFile resolves the master-playlist EXT-X-STREAM-INF entry for
// the media playlist named by uriSuffix (e.g. "hd.m3u8", matched against
// each master variant's own URI tail) by fetching and caching
// originBaseURL's master.m3u8 for ttl. Returns ok=false if the master can't
// be fetched/parsed or carries no matching variant, in which case the
// caller should proceed unqualified (spec.md §4.11: bandwidth-qualification
// is a best-effort refinement for SSAI, not a precondition for serving a
// rewrite).
func (cs *channelState) variantForFile(ctx context.Context, origin *originFetcher, originBaseURL, uriSuffix string, ttl time.Duration) (hls.Variant, bool) {
	cs.masterMu.Lock()
	defer cs.masterMu.Unlock()

	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if time.Since(cs.masterFetched) > ttl {
		masterURL := strings.TrimRight(originBaseURL, "/") + "/master.m3u8"
		body, err := origin.Fetch(ctx, masterURL)
		if err == nil {
			cs.masterVariant = hls.ParseMaster(string(body))
			cs.masterFetched = time.Now()
		}
	}
	for _, v := range cs.masterVariant {
		if path.Base(v.URI) == uriSuffix {
			return v, true
		}
	}
	return hls.Variant{}, false
}
