package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDataStampsTimestamps(t *testing.T) {
	d := NewData()
	require.Equal(t, d.CreatedAt, d.LastAccessed)
	require.Greater(t, d.CreatedAt, int64(0))
}

func TestTouchAdvancesLastAccessed(t *testing.T) {
	d := NewData()
	d.CreatedAt = 100
	d.LastAccessed = 100
	d.Touch()
	require.GreaterOrEqual(t, d.LastAccessed, d.CreatedAt)
}

func TestKeyAppliesPrefix(t *testing.T) {
	s := &Store{prefix: "phpedge:sess:"}
	require.Equal(t, "phpedge:sess:abc123", s.key("abc123"))
}
