package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/centerout/internal/records"
	"github.com/banshee-data/centerout/internal/stream"
	"github.com/banshee-data/centerout/internal/timeutil"
)

func TestClockNode_Tick(t *testing.T) {
	store := stream.NewMemoryStore(0)
	clock := timeutil.NewMockClock(t0)
	n, err := NewClockNode(store, "clock", 100, clock)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, n.Period())

	clock.Advance(5 * time.Millisecond)
	require.NoError(t, n.Tick())
	require.NoError(t, n.Tick())

	e, ok, err := store.ReadLatest("clock")
	require.NoError(t, err)
	require.True(t, ok)
	k, err := records.DefaultCodec.DecodeKinematics(e.Fields, records.KinematicsLayout{VectorName: "samples", DType: records.Uint8})
	require.NoError(t, err)
	assert.Empty(t, k.Values)
	assert.Equal(t, uint64(1), k.Seq)
	assert.Equal(t, uint64(5*time.Millisecond), k.TS)
	assert.JSONEq(t, `{"tick":1}`, string(k.Sync))
}

func TestClockNode_RunFollowsTicker(t *testing.T) {
	store := stream.NewMemoryStore(0)
	clock := timeutil.NewMockClock(t0)
	n, err := NewClockNode(store, "clock", 50, clock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		clock.Advance(n.Period())
		return store.Len("clock") >= 3
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewClockNode_RejectsZeroRate(t *testing.T) {
	_, err := NewClockNode(stream.NewMemoryStore(0), "clock", 0, nil)
	assert.Error(t, err)
}
