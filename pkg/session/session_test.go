package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/kv"
)

// brokenStore fails every operation.
type brokenStore struct{}

var errDown = errors.New("store down")

func (brokenStore) Get(context.Context, string) ([]byte, error)              { return nil, errDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error { return errDown }
func (brokenStore) Delete(context.Context, string) error                     { return errDown }
func (brokenStore) Ping(context.Context) error                               { return errDown }
func (brokenStore) Close() error                                             { return nil }

func TestStore_AppendAndTrim(t *testing.T) {
	ctx := context.Background()
	s := NewStore(kv.NewMemoryStore(), time.Hour, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, "ctx-1", a2a.NewUserMessage(fmt.Sprintf("m%d", i))))
	}
	history, err := s.History(ctx, "ctx-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "m2", history[0].Parts[0].Text)
	assert.Equal(t, "m4", history[2].Parts[0].Text)

	empty, err := s.History(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_FallbackToMemory(t *testing.T) {
	ctx := context.Background()
	s := NewStore(brokenStore{}, 0, 0)

	require.NoError(t, s.Append(ctx, "c", a2a.NewUserMessage("hello")))
	history, err := s.History(ctx, "c")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Parts[0].Text)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := NewStore(kv.NewMemoryStore(), 0, 0)
	require.NoError(t, s.Append(ctx, "c", a2a.NewUserMessage("x")))
	require.NoError(t, s.Clear(ctx, "c"))
	history, err := s.History(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, history)
}
