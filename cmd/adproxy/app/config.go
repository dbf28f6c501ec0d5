// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/dashif-ads/adinserter/pkg/logging"
)

const (
	defaultPort              = 8090
	defaultTimeoutS          = 3
	defaultOriginTimeoutMs   = 5000
	defaultDecisionTimeoutMs = 2000
	defaultConfigTimeoutMs   = 1000
	defaultGraceS            = 30
)

// ServerConfig is the process configuration, assembled from defaults, an
// optional JSON file, command-line flags, and LIVEADS_-prefixed environment
// variables, in that order of increasing precedence (spec.md §9: "Global
// state. None required beyond startup-injected configuration").
type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Port      int    `json:"port"`
	TimeoutS  int    `json:"timeoutS"`

	// OriginTimeoutMs, DecisionTimeoutMs, and ConfigTimeoutMs are the
	// per-suspension-point deadlines (spec.md §5).
	OriginTimeoutMs   int `json:"origintimeoutms"`
	DecisionTimeoutMs int `json:"decisiontimeoutms"`
	ConfigTimeoutMs   int `json:"configtimeoutms"`
	GraceS            int `json:"graces"`

	// DecisionURL is the base URL of the ad-decision service (C10).
	DecisionURL string `json:"decisionurl"`
	// ConfigURL is the base URL of the channel-configuration admin API (C9 source).
	ConfigURL string `json:"configurl"`

	// RedisAddr, when set, backs the kvstore (C8/C9) with Redis instead of
	// the in-process memory store. Empty means in-memory (single replica).
	RedisAddr     string `json:"redisaddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisdb"`

	// SignSecret is the HMAC-SHA256 key for signed pod URLs (C1).
	SignSecret string `json:"-"`

	// JWTAlg selects the expected signing algorithm for inbound bearer
	// tokens: "HS256" or "RS256". Empty disables auth enforcement.
	JWTAlg       string `json:"jwtalg"`
	JWTSecret    string `json:"-"`
	JWTPublicKey string `json:"-"`

	// Domains, CertPath, KeyPath configure TLS the same way as the teacher's
	// livesim2 server (certmagic auto-cert or a static cert/key pair).
	Domains  string `json:"domains"`
	CertPath string `json:"-"`
	KeyPath  string `json:"-"`
}

var defaultConfig = ServerConfig{
	LogFormat:         "json",
	LogLevel:          "INFO",
	Port:              defaultPort,
	TimeoutS:          defaultTimeoutS,
	OriginTimeoutMs:   defaultOriginTimeoutMs,
	DecisionTimeoutMs: defaultDecisionTimeoutMs,
	ConfigTimeoutMs:   defaultConfigTimeoutMs,
	GraceS:            defaultGraceS,
}

// LoadConfig loads defaults, an optional config file, command-line flags,
// and finally LIVEADS_-prefixed environment variables.
func LoadConfig(args []string) (*ServerConfig, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig, "json"), nil); err != nil {
		return nil, err
	}

	f := pflag.NewFlagSet("adproxy", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	f.Int("port", k.Int("port"), "HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	f.String("loglevel", k.String("loglevel"), "log level [DEBUG, INFO, WARN, ERROR]")
	f.Int("timeout", k.Int("timeoutS"), "overall rewrite deadline (seconds)")
	f.Int("origintimeoutms", k.Int("origintimeoutms"), "origin playlist fetch deadline (ms)")
	f.Int("decisiontimeoutms", k.Int("decisiontimeoutms"), "decision service call deadline (ms)")
	f.Int("configtimeoutms", k.Int("configtimeoutms"), "channel config fetch deadline (ms)")
	f.Int("graces", k.Int("graces"), "grace period after an ad break's end before its state is evicted (seconds)")
	f.String("decisionurl", k.String("decisionurl"), "base URL of the ad decision service")
	f.String("configurl", k.String("configurl"), "base URL of the channel configuration admin API")
	f.String("redisaddr", k.String("redisaddr"), "redis address backing the KV store; empty uses an in-memory store")
	f.Int("redisdb", k.Int("redisdb"), "redis logical DB number")
	f.String("jwtalg", k.String("jwtalg"), "expected bearer-token algorithm (HS256, RS256); empty disables auth")
	f.String("domains", k.String("domains"), "one or more DNS domains (comma-separated) for auto certificate from Let's Encrypt")
	f.String("certpath", k.String("certpath"), "path to TLS certificate file")
	f.String("keypath", k.String("keypath"), "path to TLS private key file")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *cfgFile != "" {
		if err := k.Load(file.Provider(*cfgFile), json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %w", err)
	}

	if err := k.Load(env.Provider("LIVEADS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LIVEADS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Secret material is never sourced from the JSON config file or CLI
	// flags (spec.md §6: "no process-wide globals beyond ... signing key
	// material, which are injected at startup"), only environment.
	cfg.SignSecret = os.Getenv("LIVEADS_SIGN_SECRET")
	cfg.JWTSecret = os.Getenv("LIVEADS_JWT_SECRET")
	cfg.JWTPublicKey = os.Getenv("LIVEADS_JWT_PUBLIC_KEY")
	cfg.RedisPassword = os.Getenv("LIVEADS_REDIS_PASSWORD")

	if err := checkTLSParams(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func checkTLSParams(cfg *ServerConfig) error {
	switch {
	case cfg.Domains != "":
		if cfg.CertPath != "" || cfg.KeyPath != "" {
			return fmt.Errorf("cannot use certpath and keypath together with Let's Encrypt domains")
		}
		return nil
	case cfg.CertPath == "" && cfg.KeyPath == "":
		return nil // HTTP
	case cfg.CertPath != "" && cfg.KeyPath != "":
		return nil // HTTPS
	default:
		return fmt.Errorf("certpath and keypath must both be empty or set")
	}
}
