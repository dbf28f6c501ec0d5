// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashif-ads/adinserter/pkg/chconfig"
)

func TestHTTPChannelSourceBySlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orgs/acme/channels/news", r.URL.Path)
		cfg := chconfig.Config{ID: "chan-1", OrgID: "acme", Slug: "news", Mode: chconfig.ModeCSI, Status: chconfig.StatusActive}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(cfg))
	}))
	defer srv.Close()

	src := newHTTPChannelSource(srv.URL, 1000)
	cfg, err := src.BySlug(context.Background(), "acme", "news")
	require.NoError(t, err)
	require.Equal(t, "chan-1", cfg.ID)
}

func TestHTTPChannelSourceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := newHTTPChannelSource(srv.URL, 1000)
	_, err := src.ByID(context.Background(), "chan-1")
	require.ErrorIs(t, err, chconfig.ErrNotFound)
}

func TestHTTPChannelSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := newHTTPChannelSource(srv.URL, 1000)
	_, err := src.ByID(context.Background(), "chan-1")
	require.Error(t, err)
}
