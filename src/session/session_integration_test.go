//go:build integration
// +build integration

package session_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fenwicklabs/phpedge/src/session"
	"github.com/stretchr/testify/require"
)

// TestStoreRoundTrip requires a live Redis reachable at REDIS_ADDR (e.g.
// "localhost:6379"); run with -tags=integration. Mirrors the teacher's own
// redis_integration_test.go pattern of gating live-server tests behind a
// build tag rather than mocking the wire protocol.
func TestStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	store := session.NewStore(addr, "", "", 0, "phpedge:sess:test:", time.Minute)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	id := "sess-123"
	data := session.NewData()
	data.UserID = "user-42"

	require.NoError(t, store.Set(ctx, id, data))

	got, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "user-42", got.UserID)

	exists, err := store.Exists(ctx, id)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, store.Refresh(ctx, id))
	require.NoError(t, store.Delete(ctx, id))

	_, ok, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}
