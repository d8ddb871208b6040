// Package kv is the TTL-backed key/value store holding session records.
//
// Patterns passed to Keys are globs where '*' matches any run of characters
// and '?' matches one character. Keys must not contain '/'.
package kv

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("kv: key not found")

// Store is a durable key/value store with per-key expiry. A ttl <= 0 means
// the key never expires.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Expire atomically resets the expiry of a live key; false when the key
	// is missing or already expired.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) (int, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// globToLike converts a glob into a LIKE pattern escaped with '\'.
func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// matchGlob reports whether s matches pattern. Keys never contain '/', so
// path.Match gives '*' the same any-run meaning LIKE gives '%'. A malformed
// pattern matches nothing.
func matchGlob(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
