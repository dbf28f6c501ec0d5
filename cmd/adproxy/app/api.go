// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/dashif-ads/adinserter/pkg/adbreak"
)

// breakPathInput identifies a pinned ad break by channel and event.
type breakPathInput struct {
	Channel string `path:"channel" maxLength:"64" example:"chan-1" doc:"Channel ID"`
	Event   string `path:"event" maxLength:"128" example:"break-1" doc:"Ad break event ID"`
}

// breakStateResponse mirrors adbreak.State for the debug API.
type breakStateResponse struct {
	Body struct {
		EventID              string  `json:"event_id"`
		StartPDT             string  `json:"start_pdt"`
		EndPDT               string  `json:"end_pdt"`
		DurationSec          float64 `json:"duration_sec"`
		PinnedSkipCount      int     `json:"pinned_skip_count"`
		PinnedPodFingerprint string  `json:"pinned_pod_fingerprint"`
		PinnedResumePDT      string  `json:"pinned_resume_pdt,omitempty"`
		Active               bool    `json:"active"`
	}
}

type breakDeleteResponse struct {
	Body struct {
		Channel string `json:"channel"`
		Event   string `json:"event"`
		Evicted bool   `json:"evicted"`
	}
}

func createGetBreakHdlr(breaks *adbreak.Store) func(ctx context.Context, input *breakPathInput) (*breakStateResponse, error) {
	return func(ctx context.Context, input *breakPathInput) (*breakStateResponse, error) {
		now := time.Now()
		active, found, err := breaks.FindActive(ctx, input.Channel, now)
		if err != nil {
			return nil, huma.Error502BadGateway(fmt.Sprintf("ad break state unavailable: %s", err))
		}
		if !found || active.EventID != input.Event {
			return nil, huma.Error404NotFound(fmt.Sprintf("ad break %q not found or not active", input.Event))
		}
		resp := &breakStateResponse{}
		resp.Body.EventID = active.EventID
		resp.Body.StartPDT = active.StartPDT.Format(isoLayout)
		resp.Body.EndPDT = active.EndPDT.Format(isoLayout)
		resp.Body.DurationSec = active.DurationSec
		resp.Body.PinnedSkipCount = active.PinnedSkipCount
		resp.Body.PinnedPodFingerprint = active.PinnedPodFingerprint
		resp.Body.PinnedResumePDT = active.PinnedResumePDT
		resp.Body.Active = active.Active(now)
		return resp, nil
	}
}

func createDeleteBreakHdlr(breaks *adbreak.Store) func(ctx context.Context, input *breakPathInput) (*breakDeleteResponse, error) {
	return func(ctx context.Context, input *breakPathInput) (*breakDeleteResponse, error) {
		if err := breaks.Invalidate(ctx, input.Channel, input.Event); err != nil {
			return nil, huma.Error502BadGateway(fmt.Sprintf("ad break eviction failed: %s", err))
		}
		resp := &breakDeleteResponse{}
		resp.Body.Channel = input.Channel
		resp.Body.Event = input.Event
		resp.Body.Evicted = true
		return resp, nil
	}
}

// createRouteAPI mounts the operator debug API (spec.md §4.8's pin/evict
// primitive, exposed read-only plus a forced-evict escape hatch) under /api.
func createRouteAPI(breaks *adbreak.Store) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("Ad-Insertion Proxy Debug API", "1.0.0")
		config.Servers = []*huma.Server{{URL: "/api"}}
		config.Info.Description = "Inspect and, for operator recovery, force-evict a pinned ad-break state."

		api := humachi.New(r, config)

		huma.Register(api, huma.Operation{
			OperationID: "get-break",
			Method:      http.MethodGet,
			Path:        "/channels/{channel}/breaks/{event}",
			Summary:     "Get a pinned ad break's state",
			Tags:        []string{"breaks"},
			Errors:      []int{404, 502},
		}, createGetBreakHdlr(breaks))

		huma.Register(api, huma.Operation{
			OperationID: "delete-break",
			Method:      http.MethodDelete,
			Path:        "/channels/{channel}/breaks/{event}",
			Summary:     "Force-evict a pinned ad break",
			Description: "Operator recovery only: evicts the pin so the next request recomputes it.",
			Tags:        []string{"breaks"},
			Errors:      []int{502},
		}, createDeleteBreakHdlr(breaks))
	}
}
