// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, method jwt.SigningMethod, key interface{}, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{"exp": exp.Unix()})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestAuthenticatorDisabledAllowsAnonymous(t *testing.T) {
	a, err := newAuthenticator(&ServerConfig{})
	require.NoError(t, err)
	require.False(t, a.enabled())

	ok, reason := a.verify("")
	require.True(t, ok)
	require.Empty(t, reason)
}

func TestAuthenticatorHS256AcceptsValidToken(t *testing.T) {
	cfg := &ServerConfig{JWTAlg: "HS256", JWTSecret: "s3cr3t"}
	a, err := newAuthenticator(cfg)
	require.NoError(t, err)

	signed := signedToken(t, jwt.SigningMethodHS256, []byte("s3cr3t"), time.Now().Add(time.Hour))
	ok, reason := a.verify("Bearer " + signed)
	require.True(t, ok, reason)
}

func TestAuthenticatorHS256RejectsExpiredToken(t *testing.T) {
	cfg := &ServerConfig{JWTAlg: "HS256", JWTSecret: "s3cr3t"}
	a, err := newAuthenticator(cfg)
	require.NoError(t, err)

	signed := signedToken(t, jwt.SigningMethodHS256, []byte("s3cr3t"), time.Now().Add(-time.Hour))
	ok, reason := a.verify("Bearer " + signed)
	require.False(t, ok)
	require.Equal(t, "invalid_token", reason)
}

func TestAuthenticatorRS256AcceptsPEMKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))

	cfg := &ServerConfig{JWTAlg: "RS256", JWTPublicKey: pubPEM}
	a, err := newAuthenticator(cfg)
	require.NoError(t, err)

	signed := signedToken(t, jwt.SigningMethodRS256, key, time.Now().Add(time.Hour))
	ok, reason := a.verify("Bearer " + signed)
	require.True(t, ok, reason)
}

// spec.md §6 requires RS256 keys to be accepted as either PEM or JWK.
func TestAuthenticatorRS256AcceptsJWKKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubJWK, err := jwk.FromRaw(&key.PublicKey)
	require.NoError(t, err)
	jwkJSON, err := json.Marshal(pubJWK)
	require.NoError(t, err)

	cfg := &ServerConfig{JWTAlg: "RS256", JWTPublicKey: string(jwkJSON)}
	a, err := newAuthenticator(cfg)
	require.NoError(t, err)

	signed := signedToken(t, jwt.SigningMethodRS256, key, time.Now().Add(time.Hour))
	ok, reason := a.verify("Bearer " + signed)
	require.True(t, ok, reason)
}

func TestAuthenticatorRejectsMalformedHeader(t *testing.T) {
	cfg := &ServerConfig{JWTAlg: "HS256", JWTSecret: "s3cr3t"}
	a, err := newAuthenticator(cfg)
	require.NoError(t, err)

	ok, reason := a.verify("Token abc")
	require.False(t, ok)
	require.Equal(t, "malformed_header", reason)
}
