package signer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("top-secret")
	signedURL, err := Sign("cdn.example.com", secret, "/org/chan/seg1.m4s", 60*time.Second, "", fixedNow)
	require.NoError(t, err)

	ok, reason := Verify(secret, signedURL, fixedNow.Add(30*time.Second), "")
	require.True(t, ok)
	require.Equal(t, ReasonNone, reason)
}

func TestSignVerifyRoundTripWithIP(t *testing.T) {
	secret := []byte("top-secret")
	signedURL, err := Sign("cdn.example.com", secret, "/org/chan/seg1.m4s", 60*time.Second, "203.0.113.9", fixedNow)
	require.NoError(t, err)

	ok, _ := Verify(secret, signedURL, fixedNow.Add(10*time.Second), "203.0.113.9")
	require.True(t, ok)

	ok, reason := Verify(secret, signedURL, fixedNow.Add(10*time.Second), "203.0.113.10")
	require.False(t, ok)
	require.Equal(t, ReasonIPMismatch, reason)
}

func TestSignRejectsRelativePath(t *testing.T) {
	_, err := Sign("cdn.example.com", []byte("s"), "relative/path", DefaultTTL, "", fixedNow)
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestVerifyRejectsExpired(t *testing.T) {
	secret := []byte("s3cr3t")
	signedURL, err := Sign("cdn.example.com", secret, "/a/b.m3u8", 1*time.Second, "", fixedNow)
	require.NoError(t, err)

	ok, reason := Verify(secret, signedURL, fixedNow.Add(2*time.Second), "")
	require.False(t, ok)
	require.Equal(t, ReasonExpired, reason)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	secret := []byte("s3cr3t")
	signedURL, err := Sign("cdn.example.com", secret, "/a/b.m3u8", DefaultTTL, "", fixedNow)
	require.NoError(t, err)

	tampered := signedURL[:len(signedURL)-1] + "0"
	ok, reason := Verify(secret, tampered, fixedNow, "")
	require.False(t, ok)
	require.Equal(t, ReasonBadToken, reason)
}

func TestVerifyRejectsTamperedPath(t *testing.T) {
	secret := []byte("s3cr3t")
	signedURL, err := Sign("cdn.example.com", secret, "/a/b.m3u8", DefaultTTL, "", fixedNow)
	require.NoError(t, err)

	tampered := signedURL[:len("https://cdn.example.com/a")] + "x" + signedURL[len("https://cdn.example.com/a"):]
	ok, _ := Verify(secret, tampered, fixedNow, "")
	require.False(t, ok)
}

func TestVerifyRejectsMissingToken(t *testing.T) {
	ok, reason := Verify([]byte("s"), "https://cdn.example.com/a/b.m3u8?exp=123", fixedNow, "")
	require.False(t, ok)
	require.Equal(t, ReasonMissingToken, reason)
}
