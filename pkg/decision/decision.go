// Package decision is the HTTP client for the external ad decision service
// (spec.md §3.7, §4.10): given a channel and a requested ad-break duration,
// it returns a Pod of ad items to insert, falling back to a slate pod on
// timeout, transport error, or an empty response.
package decision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTimeout is the request deadline (spec.md §4.10).
const DefaultTimeout = 2000 * time.Millisecond

// DefaultCacheWindow bounds how long an identical request may be answered
// from the local fingerprint cache (spec.md §4.10: "≤ 2 s").
const DefaultCacheWindow = 2 * time.Second

// SlatePodID marks the distinguished fallback pod (spec.md §4.10).
const SlatePodID = "slate"

// Viewer carries optional targeting context for the decision request
// (spec.md §4.10).
type Viewer struct {
	Geo     string `json:"geo,omitempty"`
	Consent string `json:"consent,omitempty"`
	Bucket  string `json:"bucket,omitempty"`
}

// Request is the body sent to the decision service (spec.md §4.10).
type Request struct {
	ChannelID   string                 `json:"channel_id"`
	DurationSec float64                `json:"duration_sec"`
	Viewer      Viewer                 `json:"viewer,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`

	// BandwidthBps, when set, is the requesting variant's BANDWIDTH. A
	// decision service that honors it returns Items already matched to
	// that rendition, so the rewriter can treat Pod.Items as an ordered
	// sequence of ad slots to stitch rather than a single ad's bitrate
	// ladder (spec.md §4.11 SSAI step 3).
	BandwidthBps int `json:"bandwidth_bps,omitempty"`
}

// fingerprint is a short-window dedup key for identical decision requests
// (spec.md §4.10: "identical (channel, duration, geo, bucket)").
func (r Request) fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%.3f|%s|%s|%d", r.ChannelID, r.DurationSec, r.Viewer.Geo, r.Viewer.Bucket, r.BandwidthBps)
	return hex.EncodeToString(h.Sum(nil))
}

// Quartiles carries beacon URLs for the standard VAST quartile events
// (spec.md §3.7).
type Quartiles struct {
	Start         []string `json:"start,omitempty"`
	FirstQuartile []string `json:"firstQuartile,omitempty"`
	Midpoint      []string `json:"midpoint,omitempty"`
	ThirdQuartile []string `json:"thirdQuartile,omitempty"`
	Complete      []string `json:"complete,omitempty"`
}

// Tracking groups a pod item's beacon URLs (spec.md §3.7).
type Tracking struct {
	Impressions []string  `json:"impressions,omitempty"`
	Quartiles   Quartiles `json:"quartiles,omitempty"`
	Clicks      []string  `json:"clicks,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
}

// Item is a single ad creative within a Pod (spec.md §3.7). When a Pod
// represents a single ad with a bitrate ladder (e.g. the VAST adapter),
// DurationSec is the same across every Item and ItemForBitrate picks the
// matching rendition. When a Pod represents a sequence of distinct ads
// (e.g. a JSON decision response to a BandwidthBps-qualified Request), each
// Item is itself one ad slot and DurationSec is that slot's own length.
type Item struct {
	AdID        string  `json:"ad_id"`
	BitrateBps  int     `json:"bitrate_bps"`
	PlaylistURL string  `json:"playlist_url"`
	DurationSec float64 `json:"duration_sec,omitempty"`

	// Codecs is the item's RFC 6381 CODECS string (e.g.
	// "avc1.64001f,mp4a.40.2"), when the decision service reports it. It's
	// compared against the requested variant's own CODECS to decide whether
	// the inserted pod needs a container-boundary EXT-X-DISCONTINUITY
	// (spec.md §4.11 step 2: omit it when containers match).
	Codecs string `json:"codecs,omitempty"`
}

// Pod is the result of a decision (spec.md §3.7).
type Pod struct {
	PodID       string    `json:"pod_id"`
	DurationSec float64   `json:"duration_sec"`
	Items       []Item    `json:"items"`
	Tracking    *Tracking `json:"tracking,omitempty"`
}

// IsSlate reports whether p is the distinguished fallback pod.
func (p Pod) IsSlate() bool { return p.PodID == SlatePodID }

// ItemForBitrate selects the item whose BitrateBps most closely matches
// requestedBps (spec.md §3.7: "items are selected by matching bitrate_bps
// to the requested variant's BANDWIDTH").
func (p Pod) ItemForBitrate(requestedBps int) (Item, bool) {
	if len(p.Items) == 0 {
		return Item{}, false
	}
	best := p.Items[0]
	bestDiff := absInt(best.BitrateBps - requestedBps)
	for _, item := range p.Items[1:] {
		if d := absInt(item.BitrateBps - requestedBps); d < bestDiff {
			best, bestDiff = item, d
		}
	}
	return best, true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Slate builds the distinguished fallback pod for durationSec using
// slateID as its sole ad item's identifier and playlistURL as its
// playlist.
func Slate(slateID string, durationSec float64, playlistURL string) Pod {
	return Pod{
		PodID:       SlatePodID,
		DurationSec: durationSec,
		Items: []Item{{
			AdID:        slateID,
			PlaylistURL: playlistURL,
		}},
	}
}

type cacheEntry struct {
	pod     Pod
	expires time.Time
}

// Client calls an external decision service over HTTP JSON (spec.md
// §4.10).
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	cacheTTL   time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// New returns a Client targeting baseURL (the decision service's endpoint,
// e.g. "https://decision.example.com/v1/decide"). httpClient may be nil to
// use http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		timeout:    DefaultTimeout,
		cacheTTL:   DefaultCacheWindow,
		cache:      make(map[string]cacheEntry),
	}
}

// Decide requests a pod for req, falling back to slate on timeout, error,
// or an empty response (spec.md §4.10). log may be nil.
func (c *Client) Decide(ctx context.Context, log *slog.Logger, req Request, slate Pod) Pod {
	fp := req.fingerprint()
	if pod, ok := c.cached(fp); ok {
		return pod
	}

	// Single-flight: K concurrent callers with the same fingerprint (e.g.
	// every variant request for the same break arriving within the same
	// round-trip) collapse into one upstream call (spec.md §4.10).
	v, _, _ := c.group.Do(fp, func() (interface{}, error) {
		if pod, ok := c.cached(fp); ok {
			return pod, nil
		}

		pod, err := c.call(ctx, req)
		if err != nil || len(pod.Items) == 0 {
			if err != nil && log != nil {
				log.Warn("decision: request failed, falling back to slate",
					"channel_id", req.ChannelID, "error", err)
			}
			c.store(fp, slate)
			return slate, nil
		}
		c.store(fp, pod)
		return pod, nil
	})
	return v.(Pod)
}

func (c *Client) call(ctx context.Context, req Request) (Pod, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return Pod{}, fmt.Errorf("decision: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Pod{}, fmt.Errorf("decision: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Pod{}, fmt.Errorf("decision: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Pod{}, fmt.Errorf("decision: status %d", resp.StatusCode)
	}

	var pod Pod
	if err := json.NewDecoder(resp.Body).Decode(&pod); err != nil {
		return Pod{}, fmt.Errorf("decision: decode response: %w", err)
	}
	return pod, nil
}

func (c *Client) cached(fingerprint string) (Pod, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[fingerprint]
	if !ok || time.Now().After(e.expires) {
		return Pod{}, false
	}
	return e.pod, true
}

func (c *Client) store(fingerprint string, pod Pod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[fingerprint] = cacheEntry{pod: pod, expires: time.Now().Add(c.cacheTTL)}
}
