// Package cache memoizes provider responses in a kv.Store.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/market-agent/pkg/kv"
)

const logPrefix = "cache:cache"

// Provider TTLs.
const (
	PriceTTL = 60 * time.Second
	ForexTTL = 60 * time.Second
	NewsTTL  = 300 * time.Second
)

// Key builds a stable cache key from a namespace and its arguments.
func Key(namespace string, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, namespace)
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return "cache:" + hex.EncodeToString(sum[:])
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result for ttl. A nil store disables caching. Cache read and write failures
// are logged and never fail the call.
func GetOrLoad[T any](ctx context.Context, store kv.Store, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if store != nil {
		if raw, err := store.Get(ctx, key); err == nil {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				slog.Debug(fmt.Sprintf("%s - hit %s", logPrefix, key))
				return v, nil
			}
		} else if !errors.Is(err, kv.ErrNotFound) {
			slog.Warn(fmt.Sprintf("%s - read %s: %v", logPrefix, key, err))
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	if store != nil {
		if raw, err := json.Marshal(v); err == nil {
			if err := store.Set(ctx, key, raw, ttl); err != nil {
				slog.Warn(fmt.Sprintf("%s - write %s: %v", logPrefix, key, err))
			}
		}
	}
	return v, nil
}
