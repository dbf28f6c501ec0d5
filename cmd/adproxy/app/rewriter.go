// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dashif-ads/adinserter/pkg/adbreak"
	"github.com/dashif-ads/adinserter/pkg/chconfig"
	"github.com/dashif-ads/adinserter/pkg/decision"
	"github.com/dashif-ads/adinserter/pkg/hls"
	"github.com/dashif-ads/adinserter/pkg/idr"
	"github.com/dashif-ads/adinserter/pkg/scte35"
	"github.com/dashif-ads/adinserter/pkg/signer"
	"github.com/dashif-ads/adinserter/pkg/skipplan"
	"github.com/dashif-ads/adinserter/pkg/vast"
)

const isoLayout = "2006-01-02T15:04:05.000Z"

// rewriter is the C11 orchestrator: it pulls the origin playlist, locates an
// ad break marker, pins its skip plan and pod across every concurrent
// variant request, and splices in either interstitial DATERANGE cues (CSI)
// or stitched ad segments (SSAI), falling back one rung at a time when a
// step can't be completed (spec.md §4.11, §7).
type rewriter struct {
	cfg      *ServerConfig
	origin   *originFetcher
	decision *decision.Client
	breaks   *adbreak.Store
	channels *channelRegistry
	signKey  []byte
	beacons  beaconTransport
}

func newRewriter(cfg *ServerConfig, origin *originFetcher, dec *decision.Client, breaks *adbreak.Store, channels *channelRegistry, beacons beaconTransport) *rewriter {
	return &rewriter{
		cfg:      cfg,
		origin:   origin,
		decision: dec,
		breaks:   breaks,
		channels: channels,
		signKey:  []byte(cfg.SignSecret),
		beacons:  beacons,
	}
}

// result is what a manifest request hands back to the HTTP layer.
type result struct {
	Body        string
	ContentType string
	CacheTTL    int
}

const mpegURLContentType = "application/vnd.apple.mpegurl"

// Rewrite fetches chCfg's origin variant playlist and, if an ad break
// marker is present, splices in the pinned pod for it.
func (rw *rewriter) Rewrite(ctx context.Context, log *slog.Logger, chCfg chconfig.Config, variant string, bandwidthBps int, originCodecs string, modeOverride chconfig.Mode, clientIsAppleFamily bool, now time.Time) (result, error) {
	originURL := strings.TrimRight(chCfg.OriginURL, "/") + "/" + variant
	body, err := rw.origin.Fetch(ctx, originURL)
	if err != nil {
		if errors.Is(err, errOriginUnavailable) {
			recordFallback(reasonOriginUnavailable)
		}
		return result{}, err
	}

	pl := hls.ParseMedia(string(body))
	cache := result{ContentType: mpegURLContentType, CacheTTL: chCfg.ManifestCacheTTL}

	markerIdx, sig, found := findAdBreakMarker(pl)
	if !found {
		cache.Body = hls.Serialize(pl)
		return cache, nil
	}

	cs := rw.channels.get(chCfg.ID)
	rw.ingestCueTelemetry(log, cs, sig)

	durationSec := chCfg.DefaultAdDurSec
	if sig.DurationSec != nil && *sig.DurationSec > 0 {
		durationSec = *sig.DurationSec
	}

	markerPDT, err := time.Parse(isoLayout, pl.Lines[markerIdx].PDTRaw)
	if err != nil {
		markerPDT, err = time.Parse(time.RFC3339Nano, pl.Lines[markerIdx].PDTRaw)
		if err != nil {
			cache.Body = hls.Serialize(pl)
			return cache, nil
		}
	}

	eventID := sig.ID
	if eventID == "" {
		eventID = pl.Lines[markerIdx].PDTRaw
	}

	lines := pl.Lines
	state, err := rw.breaks.Pin(ctx, chCfg.ID, eventID, func() (adbreak.State, error) {
		initial, err := skipplan.Compute(skipplan.Input{
			Lines:           lines,
			MarkerLineIndex: markerIdx,
			TargetDuration:  durationSec,
		})
		if err != nil {
			return adbreak.State{}, err
		}
		return adbreak.State{
			EventID:              eventID,
			StartPDT:             markerPDT,
			EndPDT:               markerPDT.Add(time.Duration(durationSec * float64(time.Second))),
			DurationSec:          durationSec,
			PinnedSkipCount:      initial.SegmentsSkipped,
			PinnedPodFingerprint: podFingerprint(chCfg.ID, eventID),
			PinnedResumePDT:      initial.ResumePDT,
		}, nil
	})
	if err != nil {
		// SkipPlanInfeasible: skip insertion, return origin verbatim (spec.md §7).
		log.Warn("skip plan infeasible, returning origin verbatim", "channel", chCfg.ID, "event_id", eventID, "error", err)
		recordFallback(reasonSkipPlanFailed)
		cache.Body = hls.Serialize(pl)
		return cache, nil
	}

	plan, err := skipplan.Compute(skipplan.Input{
		Lines:           lines,
		MarkerLineIndex: markerIdx,
		StableSkipCount: state.PinnedSkipCount,
	})
	if err != nil {
		log.Warn("skip plan infeasible for this variant, returning origin verbatim",
			"channel", chCfg.ID, "event_id", eventID, "variant", variant, "error", err)
		recordFallback(reasonSkipPlanFailed)
		cache.Body = hls.Serialize(pl)
		return cache, nil
	}
	if state.PinnedResumePDT != "" {
		plan.ResumePDT = state.PinnedResumePDT
		plan.ResumePDTObserved = true
	}

	mode := resolveMode(chCfg.Mode, modeOverride, clientIsAppleFamily)

	// CSI shares one pod across every variant (the asset is the pod's own
	// master playlist, picked by the player); SSAI needs segments already
	// matched to the requesting variant's BANDWIDTH, so only it qualifies
	// the decision request (spec.md §4.11 SSAI step 3).
	qualifyBps := 0
	if mode == chconfig.ModeSSAI {
		qualifyBps = bandwidthBps
	}
	pod := rw.decidePod(ctx, log, chCfg, durationSec, qualifyBps)

	var spliced []hls.Line
	switch mode {
	case chconfig.ModeCSI:
		spliced = rw.buildCSI(chCfg, lines, markerIdx, durationSec, sig, eventID, pod, now)
	default:
		spliced = rw.buildSSAI(lines, markerIdx, plan, eventID, pod, bandwidthBps, originCodecs)
	}

	if spliced == nil {
		// InternalInvariantViolation or a fallback ladder bottom-out: emit
		// the legacy single-discontinuity fallback rather than the full
		// insertion (spec.md §7 fallback ladder final rung).
		recordFallback(reasonSlateUnavailable)
		spliced = legacyDiscontinuity(lines, markerIdx)
	}
	if pod.IsSlate() {
		recordFallback(reasonDecisionUnavail)
	}

	rw.emitBeacons(ctx, chCfg.ID, pod, bandwidthBps, variant, now)

	cache.Body = hls.Serialize(&hls.MediaPlaylist{Lines: spliced, TrailingNewline: pl.TrailingNewline})
	return cache, nil
}

// findAdBreakMarker locates the first EXT-X-DATERANGE line whose decoded
// signal is an ad-break start, and the nearest preceding
// EXT-X-PROGRAM-DATE-TIME line (skipplan.Compute needs a PDT-bearing line).
func findAdBreakMarker(pl *hls.MediaPlaylist) (markerIdx int, sig hls.Signal, ok bool) {
	for i, l := range pl.Lines {
		if l.Kind != hls.KindDateRange {
			continue
		}
		s, matched := hls.ParseDaterangeSignal(l)
		if !matched || !s.IsAdBreakStart() {
			continue
		}
		for j := i; j >= 0; j-- {
			if pl.Lines[j].Kind == hls.KindProgramDateTime && pl.Lines[j].PDTRaw != "" {
				return j, s, true
			}
		}
	}
	return 0, hls.Signal{}, false
}

// ingestCueTelemetry decodes the cue's binary PTS (if any) and snaps it
// against the channel's IDR timeline purely for diagnostics: per spec.md
// §4.6/§4.11, the snapped PTS never drives skip counting, which stays
// PDT-driven.
func (rw *rewriter) ingestCueTelemetry(log *slog.Logger, cs *channelState, sig hls.Signal) {
	if sig.BinaryOut == "" {
		return
	}
	section, err := scte35.DecodeHex(sig.BinaryOut)
	if err != nil {
		log.Debug("scte35 binary decode failed, continuing with attribute-derived signal", "error", err)
		return
	}
	var pts uint64
	switch {
	case section.SpliceInsert != nil && section.SpliceInsert.SpliceTime != nil && section.SpliceInsert.SpliceTime.TimeSpecified:
		pts = section.SpliceInsert.SpliceTime.PTS
	case section.TimeSignal != nil && section.TimeSignal.SpliceTime.TimeSpecified:
		pts = section.TimeSignal.SpliceTime.PTS
	default:
		return
	}
	if cs.idrs.Len() == 0 {
		return
	}
	d := cs.idrs.Snap(pts, idr.DefaultLookAheadPTS, true)
	v := idr.Validate(d, idr.DefaultTolerancePTS)
	log.Debug("idr snap (telemetry only)", "cue_pts", d.CuePTS, "snapped_pts", d.SnappedPTS,
		"reason", d.Reason, "within_tolerance", v.WithinTolerance, "crc_valid", section.CRCValid)
}

func (rw *rewriter) decidePod(ctx context.Context, log *slog.Logger, chCfg chconfig.Config, durationSec float64, bandwidthBps int) decision.Pod {
	slate := decision.Slate(chCfg.SlateID, durationSec, chCfg.AdPodBaseURL+"/"+chCfg.SlateID+"/master.m3u8")

	if chCfg.VAST.Enabled {
		pod, err := rw.decideVAST(ctx, chCfg)
		if err != nil {
			log.Warn("vast decision failed, falling back to slate", "channel", chCfg.ID, "error", err)
			return slate
		}
		return pod
	}

	req := decision.Request{
		ChannelID:    chCfg.ID,
		DurationSec:  durationSec,
		BandwidthBps: bandwidthBps,
	}
	return rw.decision.Decide(ctx, log, req, slate)
}

func (rw *rewriter) decideVAST(ctx context.Context, chCfg chconfig.Config) (decision.Pod, error) {
	timeout := time.Duration(chCfg.VAST.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = decision.DefaultTimeout
	}
	fetcher := newOriginFetcher(timeout)
	body, err := fetcher.Fetch(ctx, chCfg.VAST.URL)
	if err != nil {
		return decision.Pod{}, err
	}
	v, err := vast.Decode(body)
	if err != nil {
		return decision.Pod{}, fmt.Errorf("vast decode: %w", err)
	}
	podID := podFingerprint(chCfg.ID, chCfg.VAST.URL)
	return v.ToPod(podID)
}

func podFingerprint(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func resolveMode(channelMode chconfig.Mode, override chconfig.Mode, clientIsAppleFamily bool) chconfig.Mode {
	if override == chconfig.ModeCSI || override == chconfig.ModeSSAI {
		return override
	}
	if channelMode == chconfig.ModeCSI || channelMode == chconfig.ModeSSAI {
		return channelMode
	}
	if clientIsAppleFamily {
		return chconfig.ModeCSI
	}
	return chconfig.ModeSSAI
}

// signedAssetURI signs podPath for chCfg's sign host.
func (rw *rewriter) signedAssetURI(chCfg chconfig.Config, podPath string, now time.Time) string {
	signed, err := signer.Sign(chCfg.SignHost, rw.signKey, podPath, signer.DefaultTTL, "", now)
	if err != nil {
		return "https://" + chCfg.SignHost + podPath
	}
	return signed
}

func fmtSec3(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

// buildCSI implements spec.md §4.11's CSI rewrite: two EXT-X-DATERANGE cues
// (interstitial out/in) plus the legacy EXT-X-CUE-OUT/EXT-X-CUE-IN pair,
// inserted at the marker. Unlike SSAI, CSI is purely additive: the player
// owns the interstitial switch, so none of the origin's own lines are
// dropped or reordered (spec.md §4.11: "locate an insertion point near the
// tail ... and emit two EXT-X-DATERANGE records").
func (rw *rewriter) buildCSI(chCfg chconfig.Config, lines []hls.Line, markerIdx int, durationSec float64, sig hls.Signal, eventID string, pod decision.Pod, now time.Time) []hls.Line {
	startDate := lines[markerIdx].PDTRaw
	startTime, err := time.Parse(isoLayout, startDate)
	if err != nil {
		return nil
	}
	endDate := startTime.Add(time.Duration(durationSec * float64(time.Second))).Format(isoLayout)

	podPath := fmt.Sprintf("/pods/%s/master.m3u8", pod.PodID)
	assetURI := rw.signedAssetURI(chCfg, podPath, now)

	cueOutAttrs := map[string]hls.AttrValue{
		"ID":                 {Kind: hls.AttrString, Str: eventID},
		"CLASS":              {Kind: hls.AttrString, Str: "com.apple.hls.interstitial"},
		"START-DATE":         {Kind: hls.AttrString, Str: startDate},
		"DURATION":           {Kind: hls.AttrNumber, Num: durationSec},
		"X-ASSET-URI":        {Kind: hls.AttrString, Str: assetURI},
		"X-PLAYOUT-CONTROLS": {Kind: hls.AttrString, Str: "skip-restrictions=6"},
	}
	cueOutOrder := []string{"ID", "CLASS", "START-DATE", "DURATION", "X-ASSET-URI", "X-PLAYOUT-CONTROLS"}
	if sig.BinaryOut != "" {
		cueOutAttrs["SCTE35-OUT"] = hls.AttrValue{Kind: hls.AttrHex, Hex: sig.BinaryOut}
		cueOutOrder = append(cueOutOrder, "SCTE35-OUT")
	}

	cueInAttrs := map[string]hls.AttrValue{
		"ID":          {Kind: hls.AttrString, Str: eventID + ":complete"},
		"START-DATE":  {Kind: hls.AttrString, Str: endDate},
		"END-ON-NEXT": {Kind: hls.AttrEnum, Str: "YES"},
		"DURATION":    {Kind: hls.AttrNumber, Num: 0},
	}
	cueInOrder := []string{"ID", "START-DATE", "END-ON-NEXT", "DURATION"}
	if sig.BinaryIn != "" {
		cueInAttrs["SCTE35-IN"] = hls.AttrValue{Kind: hls.AttrHex, Hex: sig.BinaryIn}
		cueInOrder = append(cueInOrder, "SCTE35-IN")
	}

	out := make([]hls.Line, 0, len(lines)+4)
	out = append(out, lines[:markerIdx+1]...)
	out = append(out,
		hls.Line{Kind: hls.KindDateRange, Attrs: cueOutAttrs, AttrOrder: cueOutOrder},
		hls.Line{Kind: hls.KindDateRange, Attrs: cueInAttrs, AttrOrder: cueInOrder},
		hls.Line{Kind: hls.KindHeaderTag, Raw: legacyCueOut(durationSec, sig.BinaryOut)},
		hls.Line{Kind: hls.KindHeaderTag, Raw: "#EXT-X-CUE-IN"},
	)
	out = append(out, lines[markerIdx+1:]...)
	return out
}

func legacyCueOut(duration float64, binaryOut string) string {
	if binaryOut != "" {
		return fmt.Sprintf("#EXT-X-CUE-OUT:DURATION=%s,SCTE35=%s", fmtSec3(duration), binaryOut)
	}
	return fmt.Sprintf("#EXT-X-CUE-OUT:DURATION=%s", fmtSec3(duration))
}

func resumePDTLine(plan skipplan.Plan) hls.Line {
	return hls.Line{Kind: hls.KindProgramDateTime, PDTRaw: plan.ResumePDT}
}

// sequentialItems resolves pod.Items to the ordered ad slots SSAI should
// stitch. A pod where every item shares one AdID is a single ad's bitrate
// ladder (e.g. from VAST): pick the rendition nearest bandwidthBps and
// treat it as the sole slot. Otherwise each item is already its own ad
// slot, pre-matched to bandwidthBps by the decision service (spec.md §4.11
// SSAI step 3).
func sequentialItems(pod decision.Pod, bandwidthBps int) []decision.Item {
	if len(pod.Items) == 0 {
		return nil
	}
	isLadder := true
	for _, it := range pod.Items[1:] {
		if it.AdID != pod.Items[0].AdID {
			isLadder = false
			break
		}
	}
	if isLadder && len(pod.Items) > 1 {
		if item, ok := pod.ItemForBitrate(bandwidthBps); ok {
			return []decision.Item{item}
		}
	}
	return pod.Items
}

// normalizeCodecs makes a CODECS string order-insensitive and whitespace-
// insensitive for comparison ("avc1.64001f, mp4a.40.2" == "mp4a.40.2,avc1.64001f").
func normalizeCodecs(codecs string) string {
	parts := strings.Split(codecs, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// containersMatch reports whether every item's own codec string matches
// originCodecs, meaning the inserted pod shares content's container and
// fMP4 timebase and so needs no EXT-X-DISCONTINUITY bracket (spec.md §4.11
// step 2, §9 property 9). An unset codec on either side is treated as
// unknown, not as a match: the conservative default is to emit the
// discontinuity when container compatibility can't be confirmed.
func containersMatch(items []decision.Item, originCodecs string) bool {
	if originCodecs == "" {
		return false
	}
	wantCodecs := normalizeCodecs(originCodecs)
	for _, it := range items {
		if it.Codecs == "" || normalizeCodecs(it.Codecs) != wantCodecs {
			return false
		}
	}
	return true
}

// buildSSAI implements spec.md §4.11's SSAI rewrite: a conditional
// discontinuity, stitched ad segments, a conditional closing discontinuity,
// the resume PDT, and a telemetry EXT-X-DATERANGE.
func (rw *rewriter) buildSSAI(lines []hls.Line, markerIdx int, plan skipplan.Plan, eventID string, pod decision.Pod, bandwidthBps int, originCodecs string) []hls.Line {
	items := sequentialItems(pod, bandwidthBps)
	if len(items) == 0 {
		return nil
	}

	out := make([]hls.Line, 0, len(lines)+len(items)*2+8)
	out = append(out, lines[:markerIdx+1]...)

	// Step 2: EXT-X-DISCONTINUITY only when the ad container differs from
	// content - same codecs and fMP4 timebase omit it (spec.md §4.11 step 2).
	bracket := !containersMatch(items, originCodecs)
	if bracket {
		out = append(out, hls.Line{Kind: hls.KindDiscontinuity})
	}

	perItemDur := plan.DurationSkipped / float64(len(items))
	for _, item := range items {
		d := item.DurationSec
		if d <= 0 {
			d = perItemDur
		}
		out = append(out,
			hls.Line{Kind: hls.KindExtinf, Duration: d},
			hls.Line{Kind: hls.KindURI, URI: item.PlaylistURL},
		)
	}

	if bracket {
		out = append(out, hls.Line{Kind: hls.KindDiscontinuity})
	}
	out = append(out, resumePDTLine(plan))

	returnAttrs := map[string]hls.AttrValue{
		"ID":                        {Kind: hls.AttrString, Str: eventID + "-return"},
		"CLASS":                     {Kind: hls.AttrString, Str: "com.apple.hls.scte35.in"},
		"SCTE35-IN":                 {Kind: hls.AttrEnum, Str: "YES"},
		"DURATION":                  {Kind: hls.AttrNumber, Num: 0},
		"X-PLANNED-DURATION":        {Kind: hls.AttrNumber, Num: pod.DurationSec},
		"X-ACTUAL-AD-DURATION":      {Kind: hls.AttrNumber, Num: plan.DurationSkipped},
		"X-ACTUAL-CONTENT-DURATION": {Kind: hls.AttrNumber, Num: plan.DurationSkipped},
		"X-DURATION-ERROR":          {Kind: hls.AttrNumber, Num: roundMs(pod.DurationSec - plan.DurationSkipped)},
	}
	returnOrder := []string{"ID", "CLASS", "SCTE35-IN", "DURATION", "X-PLANNED-DURATION",
		"X-ACTUAL-AD-DURATION", "X-ACTUAL-CONTENT-DURATION", "X-DURATION-ERROR"}
	out = append(out, hls.Line{Kind: hls.KindDateRange, Attrs: returnAttrs, AttrOrder: returnOrder})

	out = append(out, lines[plan.ResumeContentIdx:]...)
	return out
}

func roundMs(f float64) float64 {
	return float64(int64(f*1000)) / 1000
}

// legacyDiscontinuity is the fallback ladder's last rung before giving up
// entirely (spec.md §7): a single EXT-X-DISCONTINUITY ahead of the tail,
// with no ad content spliced in at all.
func legacyDiscontinuity(lines []hls.Line, markerIdx int) []hls.Line {
	out := make([]hls.Line, 0, len(lines)+1)
	out = append(out, lines[:markerIdx+1]...)
	out = append(out, hls.Line{Kind: hls.KindDiscontinuity})
	out = append(out, lines[markerIdx+1:]...)
	return out
}

func (rw *rewriter) emitBeacons(ctx context.Context, channel string, pod decision.Pod, bandwidthBps int, variant string, now time.Time) {
	if rw.beacons == nil || len(pod.Items) == 0 {
		return
	}
	item, ok := pod.ItemForBitrate(bandwidthBps)
	if !ok {
		item = pod.Items[0]
	}
	for _, msg := range impressionBeacons(channel, pod.PodID, item, pod.Tracking, now.UnixMilli(), variant) {
		rw.beacons.Send(ctx, msg)
	}
}
