// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dashif-ads/adinserter/pkg/adbreak"
	"github.com/dashif-ads/adinserter/pkg/chconfig"
	"github.com/dashif-ads/adinserter/pkg/decision"
	"github.com/dashif-ads/adinserter/pkg/kvstore"
	"github.com/dashif-ads/adinserter/pkg/logging"
)

// SetupServer wires every long-lived component (C1-C11) into a Server
// ready to have its router mounted, the same two-phase split the teacher
// uses in its own start.go: build dependencies here, register routes in
// Routes.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	if err := logging.InitSlog(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	chBreakKV, chConfigKV, err := newKVStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("kv store: %w", err)
	}

	auth, err := newAuthenticator(cfg)
	if err != nil {
		return nil, fmt.Errorf("authenticator: %w", err)
	}

	source := newHTTPChannelSource(cfg.ConfigURL, cfg.ConfigTimeoutMs)
	channels := chconfig.New(source, chConfigKV, 60*time.Second)

	breaks := adbreak.New(chBreakKV)
	dec := decision.New(cfg.DecisionURL, &http.Client{Timeout: time.Duration(cfg.DecisionTimeoutMs) * time.Millisecond})
	origin := newOriginFetcher(time.Duration(cfg.OriginTimeoutMs) * time.Millisecond)
	registry := newChannelRegistry()
	beacons := discardBeaconTransport{log: slog.Default()}
	rw := newRewriter(cfg, origin, dec, breaks, registry, beacons)
	manifest := newManifestHandler(cfg, channels, auth, origin, rw, registry)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(NewPrometheusMiddleware())
	r.Use(addVersionAndCORSHeaders)
	r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	r.Handle("/metrics", promhttp.Handler())

	s := &Server{
		Router:   r,
		Cfg:      cfg,
		channels: channels,
		breaks:   breaks,
		manifest: manifest,
	}
	if err := s.Routes(ctx); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	return s, nil
}

// newKVStores builds the two KV stores the proxy needs (ad-break pins and
// channel-config cache), sharing a single Redis client when cfg.RedisAddr is
// set so every replica sees the same pinned state (spec.md §4.8), and
// falling back to independent in-memory stores for a single-replica
// deployment.
func newKVStores(cfg *ServerConfig) (breaks kvstore.Store, channelCfg kvstore.Store, err error) {
	if cfg.RedisAddr == "" {
		return kvstore.NewMemory(), kvstore.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return kvstore.NewRedis(client, "adbreak:"), kvstore.NewRedis(client, "chconfig:"), nil
}
