package node

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/centerout/internal/records"
	"github.com/banshee-data/centerout/internal/stream"
	"github.com/banshee-data/centerout/internal/timeutil"
)

// ClockNode publishes an empty sample on a stream at a fixed rate. It stands
// in for a binned neural stream when pacing the cue node.
type ClockNode struct {
	store  stream.Store
	stream string
	period time.Duration
	clock  timeutil.Clock
	codec  records.Codec
	seq    uint64
}

func NewClockNode(store stream.Store, name string, rateHz float64, clock timeutil.Clock) (*ClockNode, error) {
	if rateHz <= 0 {
		return nil, errors.New("clock rate must be positive")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ClockNode{
		store:  store,
		stream: name,
		period: time.Duration(float64(time.Second) / rateHz),
		clock:  clock,
		codec:  records.DefaultCodec,
	}, nil
}

// Run ticks until ctx ends or an append fails.
func (n *ClockNode) Run(ctx context.Context) error {
	ticker := n.clock.NewTicker(n.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := n.Tick(); err != nil {
				if errors.Is(err, stream.ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// Tick publishes one sample. The sync blob carries the tick counter.
func (n *ClockNode) Tick() error {
	blob, err := records.WithSyncField(nil, "tick", n.seq)
	if err != nil {
		return err
	}
	f, err := n.codec.EncodeKinematics(records.Kinematics{Seq: n.seq, Sync: blob, TS: n.clock.MonotonicNanos()},
		records.KinematicsLayout{VectorName: "samples", DType: records.Uint8})
	if err != nil {
		return err
	}
	if _, err := n.store.Append(n.stream, f); err != nil {
		return err
	}
	n.seq++
	return nil
}

// Period returns the tick interval.
func (n *ClockNode) Period() time.Duration { return n.period }
