// Package kv is the agent's key-value store: session history, cached
// provider responses, latest analyses and notification cooldowns.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("kv: key not found")

// Store is a byte-oriented key-value store with per-key TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; a zero ttl keeps the key until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
