// Package chconfig is the read-through channel configuration cache
// (spec.md §3.8, §4.9): it sits in front of an external config source and
// keeps the result around for 60 seconds so every playlist request doesn't
// have to round-trip to the config service.
package chconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/dashif-ads/adinserter/pkg/kvstore"
)

// DefaultTTL is the cache lifetime (spec.md §4.9).
const DefaultTTL = 60 * time.Second

// Mode selects how ad breaks are delivered for a channel (spec.md §3.8).
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeCSI  Mode = "csi"
	ModeSSAI Mode = "ssai"
)

// Status is a channel's lifecycle state (spec.md §3.8).
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// FallbackSchedule configures periodic SCTE-35 synthesis when the origin
// doesn't carry its own cues (spec.md §3.8).
type FallbackSchedule struct {
	IntervalMin int `json:"interval_min"`
	DurationSec int `json:"duration_sec"`
}

// SCTE35Config is a channel's SCTE-35 handling policy (spec.md §3.8).
type SCTE35Config struct {
	Enabled    bool              `json:"enabled"`
	AutoInsert bool              `json:"auto_insert"`
	Fallback   *FallbackSchedule `json:"fallback_schedule,omitempty"`
}

// VASTConfig is a channel's VAST decisioning policy (spec.md §3.8).
type VASTConfig struct {
	Enabled   bool   `json:"enabled"`
	URL       string `json:"url,omitempty"`
	TimeoutMs int    `json:"timeout_ms"`
}

// Config is a channel's full configuration (spec.md §3.8).
type Config struct {
	ID               string       `json:"id"`
	OrgID            string       `json:"org_id"`
	Slug             string       `json:"slug"`
	OriginURL        string       `json:"origin_url"`
	AdPodBaseURL     string       `json:"ad_pod_base_url"`
	SignHost         string       `json:"sign_host"`
	SCTE35           SCTE35Config `json:"scte35"`
	VAST             VASTConfig   `json:"vast"`
	DefaultAdDurSec  float64      `json:"default_ad_duration"`
	SlateID          string       `json:"slate_id"`
	Mode             Mode         `json:"mode"`
	Status           Status       `json:"status"`
	BitrateLadder    []int        `json:"bitrate_ladder,omitempty"`
	SegmentCacheTTL  int          `json:"segment_cache_ttl"`
	ManifestCacheTTL int          `json:"manifest_cache_ttl"`
}

// ErrNotFound is returned when the channel is unknown to Source.
var ErrNotFound = fmt.Errorf("chconfig: channel not found")

// Source fetches channel configuration from wherever it's authoritatively
// stored (a database, an admin API, ...). Implementations return
// ErrNotFound for an unknown channel; that result is never cached (spec.md
// §4.9: "Null (not-found) is not cached").
type Source interface {
	BySlug(ctx context.Context, orgSlug, channelSlug string) (Config, error)
	ByID(ctx context.Context, channelID string) (Config, error)
}

// Cache is the read-through layer over a Source (spec.md §4.9).
type Cache struct {
	source Source
	kv     kvstore.Store
	ttl    time.Duration
}

// New returns a Cache whose entries live for ttl. A ttl of 0 or less uses
// DefaultTTL.
func New(source Source, kv kvstore.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{source: source, kv: kv, ttl: ttl}
}

func slugKey(orgSlug, channelSlug string) string {
	return fmt.Sprintf("chconfig:slug:%s/%s", orgSlug, channelSlug)
}

func idKey(channelID string) string {
	return fmt.Sprintf("chconfig:id:%s", channelID)
}

// BySlug resolves a channel by its (org, channel) slug pair, reading
// through to Source on a cache miss.
func (c *Cache) BySlug(ctx context.Context, orgSlug, channelSlug string) (Config, error) {
	key := slugKey(orgSlug, channelSlug)
	var cfg Config
	if err := c.kv.Get(ctx, key, &cfg); err == nil {
		return cfg, nil
	}
	cfg, err := c.source.BySlug(ctx, orgSlug, channelSlug)
	if err != nil {
		return Config{}, err
	}
	_ = c.kv.Set(ctx, key, cfg, c.ttl)
	_ = c.kv.Set(ctx, idKey(cfg.ID), cfg, c.ttl)
	return cfg, nil
}

// ByID resolves a channel by its stable ID, reading through to Source on a
// cache miss.
func (c *Cache) ByID(ctx context.Context, channelID string) (Config, error) {
	key := idKey(channelID)
	var cfg Config
	if err := c.kv.Get(ctx, key, &cfg); err == nil {
		return cfg, nil
	}
	cfg, err := c.source.ByID(ctx, channelID)
	if err != nil {
		return Config{}, err
	}
	_ = c.kv.Set(ctx, key, cfg, c.ttl)
	_ = c.kv.Set(ctx, slugKey(cfg.OrgID, cfg.Slug), cfg, c.ttl)
	return cfg, nil
}

// Invalidate evicts both the slug and ID cache entries for cfg, for use on
// admin-side mutations (spec.md §4.9: "invalidated synchronously on
// admin-side mutations").
func (c *Cache) Invalidate(ctx context.Context, orgSlug string, cfg Config) {
	_ = c.kv.Delete(ctx, slugKey(orgSlug, cfg.Slug))
	_ = c.kv.Delete(ctx, idKey(cfg.ID))
}
