// Package session keeps per-context conversation history.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/kv"
)

const logPrefix = "session:store"

const (
	DefaultTTL         = 24 * time.Hour
	DefaultMaxMessages = 50
)

// Store appends messages to a bounded FIFO history per context id. It writes
// through to a kv.Store and falls back to process memory when that fails.
type Store struct {
	kv          kv.Store
	ttl         time.Duration
	maxMessages int

	mu       sync.Mutex
	fallback map[string][]a2a.Message
}

// NewStore creates a Store. Non-positive ttl or max select the defaults.
func NewStore(store kv.Store, ttl time.Duration, maxMessages int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Store{kv: store, ttl: ttl, maxMessages: maxMessages, fallback: make(map[string][]a2a.Message)}
}

func key(contextID string) string {
	return "session:history:" + contextID
}

// History returns the stored messages for contextID, oldest first.
func (s *Store) History(ctx context.Context, contextID string) ([]a2a.Message, error) {
	if s.kv != nil {
		raw, err := s.kv.Get(ctx, key(contextID))
		switch {
		case err == nil:
			var msgs []a2a.Message
			if err := json.Unmarshal(raw, &msgs); err != nil {
				return nil, fmt.Errorf("%s - decode history %s: %w", logPrefix, contextID, err)
			}
			return msgs, nil
		case errors.Is(err, kv.ErrNotFound):
		default:
			slog.Warn(fmt.Sprintf("%s - read %s failed, using memory: %v", logPrefix, contextID, err))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]a2a.Message{}, s.fallback[contextID]...), nil
}

// Append adds messages, trimming the oldest beyond the cap.
func (s *Store) Append(ctx context.Context, contextID string, msgs ...a2a.Message) error {
	if contextID == "" || len(msgs) == 0 {
		return nil
	}
	history, err := s.History(ctx, contextID)
	if err != nil {
		history = nil
	}
	history = append(history, msgs...)
	if over := len(history) - s.maxMessages; over > 0 {
		history = history[over:]
	}

	if s.kv != nil {
		raw, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("%s - encode history: %w", logPrefix, err)
		}
		if err := s.kv.Set(ctx, key(contextID), raw, s.ttl); err == nil {
			return nil
		} else {
			slog.Warn(fmt.Sprintf("%s - write %s failed, using memory: %v", logPrefix, contextID, err))
		}
	}
	s.mu.Lock()
	s.fallback[contextID] = history
	s.mu.Unlock()
	return nil
}

// Clear removes the history for contextID.
func (s *Store) Clear(ctx context.Context, contextID string) error {
	s.mu.Lock()
	delete(s.fallback, contextID)
	s.mu.Unlock()
	if s.kv != nil {
		return s.kv.Delete(ctx, key(contextID))
	}
	return nil
}
