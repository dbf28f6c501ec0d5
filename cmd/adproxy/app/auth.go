// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// authenticator validates inbound bearer tokens against a single configured
// algorithm (spec.md §6: "alg must match the configured algorithm; reject
// none; reject algorithm mismatches"). A zero-value authenticator (empty
// Alg) treats every request as anonymous: presenting a Bearer token is
// optional per spec.md §6, so auth is only enforced once an algorithm and
// key are configured for the channel's deployment.
type authenticator struct {
	alg       string // "HS256" or "RS256"
	hmacKey   []byte
	rsaPublic *rsa.PublicKey
}

func newAuthenticator(cfg *ServerConfig) (*authenticator, error) {
	if cfg.JWTAlg == "" {
		return &authenticator{}, nil
	}
	a := &authenticator{alg: cfg.JWTAlg}
	switch cfg.JWTAlg {
	case "HS256":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("auth: jwtalg HS256 requires LIVEADS_JWT_SECRET")
		}
		a.hmacKey = []byte(cfg.JWTSecret)
	case "RS256":
		if cfg.JWTPublicKey == "" {
			return nil, fmt.Errorf("auth: jwtalg RS256 requires LIVEADS_JWT_PUBLIC_KEY")
		}
		key, err := parseRSAPublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("auth: parsing RS256 public key: %w", err)
		}
		a.rsaPublic = key
	default:
		return nil, fmt.Errorf("auth: unsupported jwtalg %q (want HS256 or RS256)", cfg.JWTAlg)
	}
	return a, nil
}

// parseRSAPublicKey accepts LIVEADS_JWT_PUBLIC_KEY as either PEM or JWK
// (spec.md §6: "RS256 keys are accepted PEM or JWK"). A JSON-object-shaped
// value is parsed as a JWK; anything else is parsed as PEM.
func parseRSAPublicKey(raw string) (*rsa.PublicKey, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		key, err := jwk.ParseKey([]byte(trimmed))
		if err != nil {
			return nil, fmt.Errorf("parsing JWK: %w", err)
		}
		var pub rsa.PublicKey
		if err := key.Raw(&pub); err != nil {
			return nil, fmt.Errorf("JWK is not an RSA public key: %w", err)
		}
		return &pub, nil
	}
	return jwt.ParseRSAPublicKeyFromPEM([]byte(trimmed))
}

// enabled reports whether this authenticator enforces anything at all.
func (a *authenticator) enabled() bool { return a.alg != "" }

// verify validates bearerHeader (the full "Authorization" header value, if
// present). ok is true when either auth is disabled, no header was sent, or
// the token is valid. When ok is false, reason is a non-secret diagnostic
// suitable for logging (spec.md §7: "log reason code, not token").
func (a *authenticator) verify(bearerHeader string) (ok bool, reason string) {
	if !a.enabled() {
		return true, ""
	}
	if bearerHeader == "" {
		return true, "" // Authorization is optional (spec.md §6)
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(bearerHeader, prefix) {
		return false, "malformed_header"
	}
	raw := strings.TrimPrefix(bearerHeader, prefix)

	keyFunc := func(t *jwt.Token) (interface{}, error) {
		switch a.alg {
		case "HS256":
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.hmacKey, nil
		case "RS256":
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.rsaPublic, nil
		}
		return nil, fmt.Errorf("unreachable")
	}

	token, err := jwt.Parse(raw, keyFunc,
		jwt.WithValidMethods([]string{a.alg}),
		jwt.WithExpirationRequired())
	if err != nil {
		return false, "invalid_token"
	}
	if !token.Valid {
		return false, "invalid_token"
	}
	return true, ""
}
