// Package signer implements short-lived HMAC-SHA256 path signing for
// CDN-delivered segment and playlist URLs, as consumed by the rewriter (C1)
// and verified by the origin/CDN.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is used when a caller does not specify a TTL.
const DefaultTTL = 900 * time.Second

// ErrInvalidPath is returned by Sign when path does not start with "/".
var ErrInvalidPath = errors.New("signer: path must be absolute (start with '/')")

// FailReason classifies why Verify rejected a URL.
type FailReason string

const (
	ReasonNone           FailReason = ""
	ReasonMalformed      FailReason = "malformed"
	ReasonExpired        FailReason = "expired"
	ReasonBadToken       FailReason = "bad_token"
	ReasonIPMismatch     FailReason = "ip_mismatch"
	ReasonMissingToken   FailReason = "missing_token"
	ReasonMissingExpires FailReason = "missing_exp"
)

// Sign computes a signed absolute URL for path on host, valid for ttl seconds
// from now. If ip is non-empty, the token is also bound to that client IP.
//
// token = hex(HMAC_SHA256(secret, path || exp || ip))
func Sign(host string, secret []byte, path string, ttl time.Duration, ip string, now time.Time) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", ErrInvalidPath
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	exp := now.Unix() + int64(ttl/time.Second)
	token := computeToken(secret, path, exp, ip)

	q := url.Values{}
	q.Set("token", token)
	q.Set("exp", strconv.FormatInt(exp, 10))
	if ip != "" {
		q.Set("ip", ip)
	}
	return fmt.Sprintf("https://%s%s?%s", host, path, q.Encode()), nil
}

// Verify recomputes the token for the given URL and checks it against the
// embedded token, expiry, and (if present) client IP in constant time.
func Verify(secret []byte, signedURL string, now time.Time, clientIP string) (bool, FailReason) {
	u, err := url.Parse(signedURL)
	if err != nil {
		return false, ReasonMalformed
	}
	q := u.Query()
	token := q.Get("token")
	expStr := q.Get("exp")
	ip := q.Get("ip")

	if token == "" {
		return false, ReasonMissingToken
	}
	if expStr == "" {
		return false, ReasonMissingExpires
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return false, ReasonMalformed
	}
	if ip != "" && ip != clientIP {
		return false, ReasonIPMismatch
	}

	expected := computeToken(secret, u.Path, exp, ip)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return false, ReasonBadToken
	}
	if now.Unix() >= exp {
		return false, ReasonExpired
	}
	return true, ReasonNone
}

func computeToken(secret []byte, path string, exp int64, ip string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(path))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}
