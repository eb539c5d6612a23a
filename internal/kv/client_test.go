package kv

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "bad scheme", url: "http://localhost:6379", wantErr: "invalid redis url"},
		{name: "nobody listening", url: "redis://127.0.0.1:1/0", wantErr: "redis ping failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Connect(context.Background(), tt.url)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	type summary struct {
		Total int `json:"total"`
	}

	require.NoError(t, c.SetJSON(ctx, "cache:summary", summary{Total: 7}, time.Minute))

	var got summary
	require.NoError(t, c.GetJSON(ctx, "cache:summary", &got))
	assert.Equal(t, 7, got.Total)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.GetJSON(ctx, "cache:summary", &got), ErrMiss)
}

func TestSetMembers(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	added, err := c.AddMember(ctx, "events", "a")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = c.AddMember(ctx, "events", "a")
	require.NoError(t, err)
	assert.False(t, added, "duplicate members collapse")

	_, err = c.AddMember(ctx, "events", "b")
	require.NoError(t, err)

	size, err := c.SetSize(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	var seen []string
	require.NoError(t, c.ScanMembers(ctx, "events", 10, func(m string) error {
		seen = append(seen, m)
		return nil
	}))
	sort.Strings(seen)
	assert.Equal(t, []string{"a", "b"}, seen)

	stop := errors.New("stop")
	assert.ErrorIs(t, c.ScanMembers(ctx, "events", 10, func(string) error { return stop }), stop)
}
