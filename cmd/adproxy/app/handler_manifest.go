// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dashif-ads/adinserter/pkg/chconfig"
	"github.com/dashif-ads/adinserter/pkg/logging"
	"github.com/go-chi/chi/v5"
)

// manifestHandler serves the ingress contract of spec.md §6: GET
// /{org}/{channel}/{variant}.m3u8 (and the unrewritten master form), with
// a force=csi|ssai mode override, a bw=<bps> query override that replaces
// the master-playlist bandwidth lookup, and an optional bearer token. No
// session query parameter is read.
type manifestHandler struct {
	cfg      *ServerConfig
	channels *chconfig.Cache
	auth     *authenticator
	origin   *originFetcher
	rewrite  *rewriter
	reg      *channelRegistry
}

func newManifestHandler(cfg *ServerConfig, channels *chconfig.Cache, auth *authenticator, origin *originFetcher, rewrite *rewriter, reg *channelRegistry) *manifestHandler {
	return &manifestHandler{cfg: cfg, channels: channels, auth: auth, origin: origin, rewrite: rewrite, reg: reg}
}

// ServeHTTP implements the playlist route for both Router.Mount wiring and
// direct testing.
func (h *manifestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logging.SubLoggerWithRequestID(slog.Default(), r)

	ok, reason := h.auth.verify(r.Header.Get("Authorization"))
	if !ok {
		log.Warn("auth failure", "reason", reason)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	orgSlug := chi.URLParam(r, "org")
	channelSlug := chi.URLParam(r, "channel")
	variant := chi.URLParam(r, "variant")
	if orgSlug == "" || channelSlug == "" || variant == "" {
		http.Error(w, "missing org, channel, or variant", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.cfg.TimeoutS)*time.Second)
	defer cancel()

	chCfg, err := h.channels.BySlug(ctx, orgSlug, channelSlug)
	if err != nil {
		if errors.Is(err, chconfig.ErrNotFound) {
			http.Error(w, "unknown channel", http.StatusBadRequest)
			return
		}
		log.Error("channel config lookup failed", "org", orgSlug, "channel", channelSlug, "error", err)
		http.Error(w, "channel config unavailable", http.StatusBadGateway)
		return
	}
	if chCfg.Status != chconfig.StatusActive {
		http.Error(w, "channel not active", http.StatusBadRequest)
		return
	}

	variantFile := variant + ".m3u8"
	q := r.URL.Query()

	cacheHeaders := func(ttlSec int) {
		w.Header().Set("Content-Type", mpegURLContentType)
		if ttlSec > 0 {
			w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", ttlSec))
		} else {
			w.Header().Set("Cache-Control", "no-cache")
		}
	}

	// master.m3u8 is served unrewritten: a master playlist carries no
	// EXT-X-PROGRAM-DATE-TIME marker to splice against (spec.md §4.11 only
	// rewrites media/variant playlists).
	if variantFile == "master.m3u8" {
		masterURL := strings.TrimRight(chCfg.OriginURL, "/") + "/master.m3u8"
		body, err := h.origin.Fetch(ctx, masterURL)
		if err != nil {
			log.Error("master fetch failed", "channel", chCfg.ID, "error", err)
			http.Error(w, "origin unavailable", http.StatusBadGateway)
			return
		}
		cacheHeaders(chCfg.ManifestCacheTTL)
		_, _ = w.Write(body)
		return
	}

	modeOverride := chconfig.Mode("")
	switch strings.ToLower(q.Get("force")) {
	case "csi":
		modeOverride = chconfig.ModeCSI
	case "ssai":
		modeOverride = chconfig.ModeSSAI
	}

	bandwidthBps := 0
	originCodecs := ""
	if bw := q.Get("bw"); bw != "" {
		if parsed, err := strconv.Atoi(bw); err == nil {
			bandwidthBps = parsed
		}
	} else {
		cs := h.reg.get(chCfg.ID)
		if v, found := cs.variantForFile(ctx, h.origin, chCfg.OriginURL, path.Base(variantFile), time.Duration(chCfg.ManifestCacheTTL)*time.Second); found {
			bandwidthBps = v.BandwidthBps
			originCodecs = v.Codecs
		}
	}

	res, err := h.rewrite.Rewrite(ctx, log, chCfg, variantFile, bandwidthBps, originCodecs, modeOverride, clientIsAppleFamily(r.UserAgent()), time.Now())
	if err != nil {
		if errors.Is(err, errOriginUnavailable) {
			log.Error("origin unavailable", "channel", chCfg.ID, "variant", variant, "error", err)
			http.Error(w, "origin unavailable", http.StatusBadGateway)
			return
		}
		if errors.Is(err, errInvalidInput) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		log.Error("rewrite failed", "channel", chCfg.ID, "variant", variant, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	cacheHeaders(res.CacheTTL)
	_, _ = w.Write([]byte(res.Body))
}

// clientIsAppleFamily reports whether userAgent identifies a native Apple
// HLS client (AVPlayer/AppleCoreMedia), which natively understands
// interstitial EXT-X-DATERANGE cues and so is routed to CSI under
// mode=auto (spec.md §4.11).
func clientIsAppleFamily(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	return strings.Contains(ua, "applecoremedia") ||
		strings.Contains(ua, "appletv") ||
		strings.Contains(ua, "quicktime")
}
