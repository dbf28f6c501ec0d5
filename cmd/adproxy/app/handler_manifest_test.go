// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/dashif-ads/adinserter/pkg/adbreak"
	"github.com/dashif-ads/adinserter/pkg/chconfig"
	"github.com/dashif-ads/adinserter/pkg/decision"
	"github.com/dashif-ads/adinserter/pkg/kvstore"
)

const testMedia = "" +
	"#EXTM3U\n" +
	"#EXT-X-TARGETDURATION:6\n" +
	"#EXT-X-MEDIA-SEQUENCE:100\n" +
	"#EXT-X-PROGRAM-DATE-TIME:2026-07-30T12:00:00.000Z\n" +
	"#EXT-X-DATERANGE:ID=\"break1\",CLASS=\"com.apple.hls.interstitial\",START-DATE=\"2026-07-30T12:00:00.000Z\",DURATION=12.000,SCTE35-OUT=0xdeadbeef\n" +
	"#EXTINF:6.000,\n" +
	"seg100.ts\n" +
	"#EXTINF:6.000,\n" +
	"seg101.ts\n" +
	"#EXT-X-PROGRAM-DATE-TIME:2026-07-30T12:00:12.000Z\n" +
	"#EXTINF:6.000,\n" +
	"seg102.ts\n"

const testMaster = "" +
	"#EXTM3U\n" +
	"#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=1280x720,CODECS=\"avc1.64001f\"\n" +
	"hd.m3u8\n"

type fakeChannelSource struct {
	cfg chconfig.Config
}

func (f fakeChannelSource) BySlug(_ context.Context, orgSlug, channelSlug string) (chconfig.Config, error) {
	if orgSlug != "acme" || channelSlug != "news" {
		return chconfig.Config{}, chconfig.ErrNotFound
	}
	return f.cfg, nil
}

func (f fakeChannelSource) ByID(_ context.Context, channelID string) (chconfig.Config, error) {
	if channelID != f.cfg.ID {
		return chconfig.Config{}, chconfig.ErrNotFound
	}
	return f.cfg, nil
}

func newTestManifestHandler(t *testing.T, mode chconfig.Mode) (*manifestHandler, *chconfig.Config) {
	t.Helper()
	return newTestManifestHandlerWithCodecs(t, mode, "")
}

// newTestManifestHandlerWithCodecs lets a test control the decision
// response's item Codecs, to exercise the SSAI container-match
// discontinuity-omission path (itemCodecs == testMaster's own CODECS).
func newTestManifestHandlerWithCodecs(t *testing.T, mode chconfig.Mode, itemCodecs string) (*manifestHandler, *chconfig.Config) {
	t.Helper()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hd.m3u8":
			w.Header().Set("Content-Type", mpegURLContentType)
			_, _ = w.Write([]byte(testMedia))
		case "/master.m3u8":
			w.Header().Set("Content-Type", mpegURLContentType)
			_, _ = w.Write([]byte(testMaster))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(origin.Close)

	decisionSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pod := decision.Pod{
			PodID:       "pod-1",
			DurationSec: 12,
			Items: []decision.Item{
				{AdID: "ad-1", BitrateBps: 1500000, PlaylistURL: "https://ads.example.com/ad1/master.m3u8", DurationSec: 12, Codecs: itemCodecs},
			},
		}
		_ = json.NewEncoder(w).Encode(pod)
	}))
	t.Cleanup(decisionSrv.Close)

	cfg := chconfig.Config{
		ID:               "chan-1",
		OrgID:            "acme",
		Slug:             "news",
		OriginURL:        origin.URL,
		AdPodBaseURL:     "https://ads.example.com",
		SignHost:         "cdn.example.com",
		DefaultAdDurSec:  12,
		SlateID:          "slate1",
		Mode:             mode,
		Status:           chconfig.StatusActive,
		ManifestCacheTTL: 6,
	}

	serverCfg := &ServerConfig{
		TimeoutS:          3,
		OriginTimeoutMs:   5000,
		DecisionTimeoutMs: 2000,
		SignSecret:        "test-secret",
	}

	channelSource := fakeChannelSource{cfg: cfg}
	channelCache := chconfig.New(channelSource, kvstore.NewMemory(), 60*time.Second)

	auth, err := newAuthenticator(serverCfg)
	require.NoError(t, err)

	originFetcher := newOriginFetcher(time.Duration(serverCfg.OriginTimeoutMs) * time.Millisecond)
	decClient := decision.New(decisionSrv.URL, nil)
	breaks := adbreak.New(kvstore.NewMemory())
	reg := newChannelRegistry()

	rw := newRewriter(serverCfg, originFetcher, decClient, breaks, reg, discardBeaconTransport{})
	h := newManifestHandler(serverCfg, channelCache, auth, originFetcher, rw, reg)
	return h, &cfg
}

func TestManifestHandlerCSI(t *testing.T) {
	h, _ := newTestManifestHandler(t, chconfig.ModeCSI)

	r := chi.NewRouter()
	r.Get("/{org}/{channel}/{variant}.m3u8", h.ServeHTTP)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/acme/news/hd.m3u8")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, mpegURLContentType, resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(raw)

	require.Contains(t, out, `CLASS="com.apple.hls.interstitial"`)
	require.Contains(t, out, `X-PLAYOUT-CONTROLS="skip-restrictions=6"`)
	require.Contains(t, out, "#EXT-X-CUE-OUT:DURATION=12.000,SCTE35=0xdeadbeef")
	require.Contains(t, out, "#EXT-X-CUE-IN")
	// CSI is additive: every original segment line must survive untouched.
	require.Contains(t, out, "seg100.ts")
	require.Contains(t, out, "seg101.ts")
	require.Contains(t, out, "seg102.ts")
}

func TestManifestHandlerSSAI(t *testing.T) {
	h, _ := newTestManifestHandler(t, chconfig.ModeSSAI)

	r := chi.NewRouter()
	r.Get("/{org}/{channel}/{variant}.m3u8", h.ServeHTTP)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/acme/news/hd.m3u8")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(raw)

	require.Contains(t, out, "#EXT-X-DISCONTINUITY")
	require.Contains(t, out, "https://ads.example.com/ad1/master.m3u8")
	require.Contains(t, out, `CLASS="com.apple.hls.scte35.in"`)
	// resumed origin segment past the skipped window
	require.Contains(t, out, "seg102.ts")
	// the first two original segments were consumed by the ad break
	require.NotContains(t, out, "seg100.ts")
}

func TestManifestHandlerSSAIOmitsDiscontinuityWhenContainersMatch(t *testing.T) {
	// testMaster's hd.m3u8 variant carries CODECS="avc1.64001f"; matching it
	// exactly on the decision response's item means the pod shares content's
	// container and fMP4 timebase, so no EXT-X-DISCONTINUITY should bracket it.
	h, _ := newTestManifestHandlerWithCodecs(t, chconfig.ModeSSAI, "avc1.64001f")

	r := chi.NewRouter()
	r.Get("/{org}/{channel}/{variant}.m3u8", h.ServeHTTP)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/acme/news/hd.m3u8")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(raw)

	require.NotContains(t, out, "#EXT-X-DISCONTINUITY")
	require.Contains(t, out, "https://ads.example.com/ad1/master.m3u8")
	require.NotContains(t, out, "seg100.ts")
	require.Contains(t, out, "seg102.ts")
}

func TestManifestHandlerUnknownChannel(t *testing.T) {
	h, _ := newTestManifestHandler(t, chconfig.ModeAuto)

	r := chi.NewRouter()
	r.Get("/{org}/{channel}/{variant}.m3u8", h.ServeHTTP)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/acme/doesnotexist/hd.m3u8")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
