// Package kv provides the key-value store behind idempotent job submission.
// The scheduler uses the in-memory store by default and Valkey/Redis when one
// is configured, so several scheduler replicas can share dedup keys.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("kv: key not found")

// Store holds short-lived byte values. A ttl of 0 keeps a key until it is
// deleted.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete of a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// SetNX writes only when no live value exists and reports whether it did.
	// It is the claim step of an idempotent submission.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Close() error
}
