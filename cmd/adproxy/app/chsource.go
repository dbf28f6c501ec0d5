// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dashif-ads/adinserter/pkg/chconfig"
)

// httpChannelSource implements chconfig.Source against an external channel
// admin API (spec.md §3.8, §4.9). It's the Source a chconfig.Cache reads
// through to on a miss; the Cache, not this type, owns the 60s TTL.
type httpChannelSource struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

func newHTTPChannelSource(baseURL string, timeoutMs int) *httpChannelSource {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	return &httpChannelSource{client: http.DefaultClient, baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

func (s *httpChannelSource) BySlug(ctx context.Context, orgSlug, channelSlug string) (chconfig.Config, error) {
	path := fmt.Sprintf("/orgs/%s/channels/%s", url.PathEscape(orgSlug), url.PathEscape(channelSlug))
	return s.fetch(ctx, path)
}

func (s *httpChannelSource) ByID(ctx context.Context, channelID string) (chconfig.Config, error) {
	path := fmt.Sprintf("/channels/%s", url.PathEscape(channelID))
	return s.fetch(ctx, path)
}

func (s *httpChannelSource) fetch(ctx context.Context, path string) (chconfig.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return chconfig.Config{}, fmt.Errorf("chsource: building request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return chconfig.Config{}, fmt.Errorf("chsource: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return chconfig.Config{}, chconfig.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return chconfig.Config{}, fmt.Errorf("chsource: status %d", resp.StatusCode)
	}

	var cfg chconfig.Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return chconfig.Config{}, fmt.Errorf("chsource: decode: %w", err)
	}
	return cfg, nil
}
