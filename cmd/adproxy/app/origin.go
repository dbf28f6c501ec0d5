// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// originFetcher retrieves a playlist from the channel's origin, bounded by a
// per-call deadline (spec.md §5: "Origin playlist fetch... bounded by
// per-call deadlines (origin: 5s)").
type originFetcher struct {
	client  *http.Client
	timeout time.Duration
}

func newOriginFetcher(timeout time.Duration) *originFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &originFetcher{client: http.DefaultClient, timeout: timeout}
}

// Fetch retrieves rawURL's body, returning errOriginUnavailable wrapped with
// context on timeout, transport failure, or a 5xx response (spec.md §7:
// "OriginUnavailable | fetch timeout or 5xx").
func (f *originFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %s", errOriginUnavailable, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errOriginUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: origin returned %d", errOriginUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: origin returned %d", errInvalidInput, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %s", errOriginUnavailable, err)
	}
	return body, nil
}
