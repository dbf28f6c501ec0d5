// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"log/slog"

	"github.com/dashif-ads/adinserter/pkg/decision"
)

// beaconEvent enumerates the event kinds a beacon message may carry
// (spec.md §6).
type beaconEvent string

const (
	beaconImpression beaconEvent = "imp"
	beaconQuartile1  beaconEvent = "q1"
	beaconMidpoint   beaconEvent = "mid"
	beaconQuartile3  beaconEvent = "q3"
	beaconComplete   beaconEvent = "complete"
	beaconClick      beaconEvent = "click"
	beaconError      beaconEvent = "error"
)

// beaconMetadata is the optional metadata block of a beacon message.
type beaconMetadata struct {
	Variant        string `json:"variant,omitempty"`
	BitrateBps     int    `json:"bitrate_bps,omitempty"`
	VASTAdID       string `json:"vast_ad_id,omitempty"`
	VASTCreativeID string `json:"vast_creative_id,omitempty"`
}

// beaconMessage is handed to the beacon transport after a successful
// rewrite (spec.md §6). TrackerURLs carries every URL that should be
// notified for Event; at-least-once delivery with dedup key
// "event|ad_id|ts_ms" is the consumer's responsibility, not the producer's.
type beaconMessage struct {
	Event       beaconEvent     `json:"event"`
	AdID        string          `json:"ad_id"`
	PodID       string          `json:"pod_id,omitempty"`
	Channel     string          `json:"channel"`
	TimestampMs int64           `json:"ts_ms"`
	TrackerURLs []string        `json:"tracker_urls"`
	Metadata    *beaconMetadata `json:"metadata,omitempty"`
}

// beaconTransport delivers a constructed beacon message. The HTTP-POST
// implementation used in production is swapped for a no-op/fake in tests;
// spec.md §6 only requires "transport is external".
type beaconTransport interface {
	Send(ctx context.Context, msg beaconMessage)
}

// discardBeaconTransport drops every message; used when no transport is
// configured rather than leaving beacon emission unimplemented.
type discardBeaconTransport struct{ log *slog.Logger }

func (d discardBeaconTransport) Send(_ context.Context, msg beaconMessage) {
	if d.log != nil {
		d.log.Debug("beacon", "event", msg.Event, "ad_id", msg.AdID, "channel", msg.Channel)
	}
}

// impressionBeacons builds a single beaconMessage for item that carries all
// impression tracker URLs, the first beacon emitted after a successful
// rewrite (spec.md §6). It returns nil when there are no impression URLs.
func impressionBeacons(channel, podID string, item decision.Item, tracking *decision.Tracking, nowMs int64, variant string) []beaconMessage {
	if tracking == nil || len(tracking.Impressions) == 0 {
		return nil
	}
	meta := &beaconMetadata{Variant: variant, BitrateBps: item.BitrateBps}
	return []beaconMessage{{
		Event:       beaconImpression,
		AdID:        item.AdID,
		PodID:       podID,
		Channel:     channel,
		TimestampMs: nowMs,
		TrackerURLs: tracking.Impressions,
		Metadata:    meta,
	}}
}
