package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/centerout/internal/monitoring"
	"github.com/banshee-data/centerout/internal/records"
	"github.com/banshee-data/centerout/internal/stream"
	"github.com/banshee-data/centerout/internal/timeutil"
	"github.com/banshee-data/centerout/internal/trajectory"
)

// CueConfig wires a CueNode.
type CueConfig struct {
	Store   stream.Store
	Planner *trajectory.Planner
	Clock   timeutil.Clock
	Codec   records.Codec

	// InputStream paces the node: one command per entry.
	InputStream string
	Consumer    string

	OutputStream string
	Output       records.KinematicsLayout

	TargetStream     string
	TargetList       []string
	TargetDType      records.DType
	TargetOnOff      string
	TargetStateDType records.DType
	// TargetMoveState is the lowest target state that counts as active.
	TargetMoveState float64

	MoveStream string
	MoveList   []string
	MoveDType  records.DType

	// TriggerStream gates movement when set: the node holds still until a
	// trigger record signals movement.
	TriggerStream string
}

// CueNode computes one trajectory command per input tick from the latest
// target and cursor records.
type CueNode struct {
	cfg    CueConfig
	reader *stream.Reader
	seq    uint64

	target      []float64
	targetState float64
	targetInit  bool
	move        []float64
	moveInit    bool
	moving      bool
}

func NewCueNode(cfg CueConfig) (*CueNode, error) {
	if cfg.Store == nil || cfg.Planner == nil {
		return nil, errors.New("cue node needs a store and planner")
	}
	if cfg.InputStream == "" || cfg.OutputStream == "" {
		return nil, errors.New("cue node needs input and output streams")
	}
	if len(cfg.TargetList) != len(cfg.MoveList) {
		return nil, fmt.Errorf("target list has %d fields, move list %d", len(cfg.TargetList), len(cfg.MoveList))
	}
	if cfg.Output.VectorName == "" && len(cfg.Output.Names) == 0 {
		cfg.Output.Names = cfg.MoveList
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Codec == (records.Codec{}) {
		cfg.Codec = records.DefaultCodec
	}

	reader, err := stream.NewReader(cfg.Store, cfg.InputStream, cfg.Consumer)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("cue node: %s profile, ticks from %s, triggered=%v",
		cfg.Planner.Params().Profile, cfg.InputStream, cfg.TriggerStream != "")
	return &CueNode{
		cfg:    cfg,
		reader: reader,
		target: make([]float64, len(cfg.TargetList)),
		move:   make([]float64, len(cfg.MoveList)),
	}, nil
}

// Run publishes commands until ctx ends or the store closes.
func (n *CueNode) Run(ctx context.Context) error {
	for {
		if err := n.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, stream.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Tick waits for one input entry and publishes one command.
func (n *CueNode) Tick(ctx context.Context) error {
	e, err := n.reader.Next(ctx)
	if err != nil {
		return err
	}
	blob := n.cfg.Codec.SyncOf(e.Fields)

	n.readTarget()
	n.readMove()
	n.readTrigger()

	active := n.targetState >= n.cfg.TargetMoveState
	params := n.cfg.Planner.Params()
	if !active && !params.OffCenter {
		n.moving = false
	}

	var cmd []float64
	if n.moving && n.targetInit && n.moveInit {
		cmd, err = n.cfg.Planner.Step(n.move, n.target, active)
		if err != nil {
			return fmt.Errorf("trajectory step: %w", err)
		}
	} else {
		cmd = n.cfg.Planner.Hold(n.move)
	}

	f, err := n.cfg.Codec.EncodeKinematics(records.Kinematics{
		Values: cmd,
		Seq:    n.seq,
		Sync:   blob,
		TS:     n.cfg.Clock.MonotonicNanos(),
	}, n.cfg.Output)
	if err != nil {
		return err
	}
	if _, err := n.cfg.Store.Append(n.cfg.OutputStream, f); err != nil {
		return fmt.Errorf("append %s: %w", n.cfg.OutputStream, err)
	}
	n.seq++
	return n.reader.Ack(e.ID)
}

// readTarget refreshes the target vector and state from the newest target
// record. Missing fields are logged and keep their previous value.
func (n *CueNode) readTarget() {
	e, ok, err := n.cfg.Store.ReadLatest(n.cfg.TargetStream)
	if err != nil {
		monitoring.Logf("cue node: read %s: %v", n.cfg.TargetStream, err)
		return
	}
	if !ok {
		return
	}
	for i, key := range n.cfg.TargetList {
		v, err := records.Field(e.Fields, key, n.cfg.TargetDType)
		if err != nil {
			monitoring.Logf("cue node: %s not usable in %s: %v", key, n.cfg.TargetStream, err)
			continue
		}
		n.target[i] = v
		n.targetInit = true
	}
	v, err := records.Field(e.Fields, n.cfg.TargetOnOff, n.cfg.TargetStateDType)
	if err != nil {
		monitoring.Logf("cue node: %s not usable in %s: %v", n.cfg.TargetOnOff, n.cfg.TargetStream, err)
		return
	}
	n.targetState = v
}

func (n *CueNode) readMove() {
	e, ok, err := n.cfg.Store.ReadLatest(n.cfg.MoveStream)
	if err != nil {
		monitoring.Logf("cue node: read %s: %v", n.cfg.MoveStream, err)
		return
	}
	if !ok {
		return
	}
	for i, key := range n.cfg.MoveList {
		v, err := records.Field(e.Fields, key, n.cfg.MoveDType)
		if err != nil {
			monitoring.Logf("cue node: %s not usable in %s: %v", key, n.cfg.MoveStream, err)
			continue
		}
		n.move[i] = v
		n.moveInit = true
	}
}

// readTrigger latches movement once a trigger is seen. Without a trigger
// stream every tick may move.
func (n *CueNode) readTrigger() {
	if n.cfg.TriggerStream == "" {
		n.moving = true
		return
	}
	e, ok, err := n.cfg.Store.ReadLatest(n.cfg.TriggerStream)
	if err != nil {
		monitoring.Logf("cue node: read %s: %v", n.cfg.TriggerStream, err)
		return
	}
	if ok && records.Triggered(e.Fields) {
		n.moving = true
	}
}

// Moving reports whether the trigger latch is set.
func (n *CueNode) Moving() bool { return n.moving }
