// Package node runs the task processes on top of a stream store: the trial
// state machine loop, the trajectory (auto-cue) loop and a tick source.
package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/centerout/internal/cursor"
	"github.com/banshee-data/centerout/internal/monitoring"
	"github.com/banshee-data/centerout/internal/records"
	"github.com/banshee-data/centerout/internal/stream"
	"github.com/banshee-data/centerout/internal/targets"
	"github.com/banshee-data/centerout/internal/timeutil"
	"github.com/banshee-data/centerout/internal/trial"
)

// Streams written by the task node.
const (
	StreamState        = "state"
	StreamTrialSuccess = "trial_success"
	StreamTrialInfo    = "trial_info"
	StreamCursor       = "cursorData"
	StreamTarget       = "targetData"
)

// traceLen is the number of cursor positions kept for the status charts.
const traceLen = 2000

// OutcomeRecorder persists trial outcomes against a session.
type OutcomeRecorder interface {
	RecordOutcome(sessionID string, success bool) error
}

// TaskConfig wires a TaskNode.
type TaskConfig struct {
	Store   stream.Store
	Machine *trial.Machine
	Cursor  *cursor.Cursor
	Clock   timeutil.Clock
	Codec   records.Codec

	InputStream string
	InputDType  records.DType
	// Consumer names the persisted read offset; empty reads new input only.
	Consumer string

	// TriggerStream is consulted during the delay period when set.
	TriggerStream string

	SessionID string
	Sessions  OutcomeRecorder
}

// Point is one traced cursor position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TargetStatus describes the published target.
type TargetStatus struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	State  string  `json:"state"`
}

// Status is a snapshot of the task for the HTTP API.
type Status struct {
	SessionID string       `json:"session_id,omitempty"`
	Phase     string       `json:"phase"`
	Trial     int          `json:"trial"`
	Target    TargetStatus `json:"target"`
	Cursor    Point        `json:"cursor"`
	Successes int          `json:"successes"`
	Failures  int          `json:"failures"`
	Ticks     uint64       `json:"ticks"`
	Dropped   uint64       `json:"dropped"`
}

// ConditionOutcome counts outcomes of one start-end target pair.
type ConditionOutcome struct {
	CondID    string `json:"cond_id"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
}

// TaskNode drives the trial state machine from an input stream. Run owns the
// machine; Status, Outcomes, Trace and Targets may be called concurrently.
type TaskNode struct {
	cfg    TaskConfig
	reader *stream.Reader
	seq    uint32
	condID string

	mu       sync.RWMutex
	status   Status
	outcomes map[string]*ConditionOutcome
	trace    []Point
	targets  []targets.Target
}

// NewTaskNode positions the input reader and starts the machine.
func NewTaskNode(cfg TaskConfig) (*TaskNode, error) {
	if cfg.Store == nil || cfg.Machine == nil || cfg.Cursor == nil {
		return nil, errors.New("task node needs a store, machine and cursor")
	}
	if cfg.InputStream == "" {
		return nil, errors.New("task node needs an input stream")
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
	if err := cfg.Machine.Start(cfg.Clock.Now()); err != nil {
		return nil, err
	}

	n := &TaskNode{
		cfg:      cfg,
		reader:   reader,
		outcomes: make(map[string]*ConditionOutcome),
	}
	n.snapshot()
	return n, nil
}

// Run processes input samples until ctx ends or the store closes.
func (n *TaskNode) Run(ctx context.Context) error {
	monitoring.Logf("task node reading %s", n.cfg.InputStream)
	for {
		if err := n.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, stream.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Tick waits for one input sample and runs one machine step.
func (n *TaskNode) Tick(ctx context.Context) error {
	e, err := n.reader.Next(ctx)
	if err != nil {
		return err
	}

	in, err := n.cfg.Codec.DecodeInput(e.Fields, n.cfg.InputDType)
	if err != nil {
		monitoring.Logf("task node: input entry %d: %v", e.ID, err)
		in.Sync = n.cfg.Codec.SyncOf(e.Fields)
	} else {
		n.cfg.Cursor.Update(in.DX, in.DY)
	}

	blob := in.Sync
	if n.cfg.SessionID != "" {
		if withSession, err := records.WithSyncField(blob, "session", n.cfg.SessionID); err == nil {
			blob = withSession
		}
	}

	now := n.cfg.Clock.Now()
	events, err := n.cfg.Machine.Step(now, n.moved())
	if err != nil {
		return fmt.Errorf("trial step: %w", err)
	}

	meta := records.Meta{Seq: n.seq, Sync: blob, TS: n.cfg.Clock.MonotonicNanos()}
	if err := n.publish(events, meta); err != nil {
		return err
	}
	n.seq++

	if err := n.reader.Ack(e.ID); err != nil {
		return fmt.Errorf("ack input %d: %w", e.ID, err)
	}
	n.snapshot()
	return nil
}

// moved reads the trigger stream during the delay period. A missing stream
// or record counts as no movement.
func (n *TaskNode) moved() bool {
	if n.cfg.TriggerStream == "" || n.cfg.Machine.State().Phase != trial.StartTrial {
		return false
	}
	e, ok, err := n.cfg.Store.ReadLatest(n.cfg.TriggerStream)
	if err != nil {
		monitoring.Logf("task node: read %s: %v", n.cfg.TriggerStream, err)
		return false
	}
	return ok && records.Triggered(e.Fields)
}

func (n *TaskNode) publish(events []trial.Event, meta records.Meta) error {
	c := n.cfg.Codec
	for _, ev := range events {
		switch ev.Kind {
		case trial.StateChange:
			if err := n.append(StreamState, c.EncodeStateChange(records.StateChange{Label: ev.Label, Meta: meta})); err != nil {
				return err
			}
		case trial.Outcome:
			if err := n.append(StreamTrialSuccess, c.EncodeOutcome(records.Outcome{Success: ev.Success, Meta: meta})); err != nil {
				return err
			}
			n.recordOutcome(ev.Success)
		case trial.NewTrial:
			n.condID = ev.Info.CondID
			info := records.TrialInfo{
				TargetX:      float32(ev.Info.TargetX),
				TargetY:      float32(ev.Info.TargetY),
				StartX:       float32(ev.Info.StartX),
				StartY:       float32(ev.Info.StartY),
				ReachAngle:   float32(ev.Info.ReachAngle),
				CondID:       ev.Info.CondID,
				TargetRadius: float32(ev.Info.TargetRadius),
				CursorRadius: float32(ev.Info.CursorRadius),
				DwellTime:    float32(ev.Info.Dwell.Seconds()),
				Meta:         meta,
			}
			if err := n.append(StreamTrialInfo, c.EncodeTrialInfo(info)); err != nil {
				return err
			}
		}
	}

	x, y := n.cfg.Cursor.Position()
	var cursorState int32
	if n.cfg.Cursor.Visible() {
		cursorState = 1
	}
	if err := n.append(StreamCursor, c.EncodePosition(records.Position{
		X: float32(x), Y: float32(y), Radius: float32(n.cfg.Cursor.Radius()), State: cursorState, Meta: meta,
	})); err != nil {
		return err
	}

	tgt := n.cfg.Machine.ActiveTarget()
	return n.append(StreamTarget, c.EncodePosition(records.Position{
		X: float32(tgt.X), Y: float32(tgt.Y), Radius: float32(tgt.Radius), State: int32(tgt.State), Meta: meta,
	}))
}

func (n *TaskNode) append(name string, f records.Fields) error {
	if _, err := n.cfg.Store.Append(name, f); err != nil {
		return fmt.Errorf("append %s: %w", name, err)
	}
	return nil
}

func (n *TaskNode) recordOutcome(success bool) {
	n.mu.Lock()
	o, ok := n.outcomes[n.condID]
	if !ok {
		o = &ConditionOutcome{CondID: n.condID}
		n.outcomes[n.condID] = o
	}
	if success {
		o.Successes++
		n.status.Successes++
	} else {
		o.Failures++
		n.status.Failures++
	}
	n.mu.Unlock()

	if n.cfg.Sessions != nil && n.cfg.SessionID != "" {
		if err := n.cfg.Sessions.RecordOutcome(n.cfg.SessionID, success); err != nil {
			monitoring.Logf("task node: record outcome: %v", err)
		}
	}
}

func (n *TaskNode) snapshot() {
	st := n.cfg.Machine.State()
	tgt := n.cfg.Machine.ActiveTarget()
	x, y := n.cfg.Cursor.Position()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.status.SessionID = n.cfg.SessionID
	n.status.Phase = st.Phase.String()
	n.status.Trial = st.Trial
	n.status.Target = TargetStatus{ID: string(tgt.ID), X: tgt.X, Y: tgt.Y, Radius: tgt.Radius, State: tgt.State.String()}
	n.status.Cursor = Point{X: x, Y: y}
	n.status.Ticks = uint64(n.seq)
	n.status.Dropped = n.reader.Dropped()

	n.trace = append(n.trace, Point{X: x, Y: y})
	if len(n.trace) > traceLen {
		n.trace = append(n.trace[:0], n.trace[len(n.trace)-traceLen:]...)
	}
	if n.targets == nil {
		n.targets = n.cfg.Machine.Targets()
	}
}

// Status returns the latest snapshot.
func (n *TaskNode) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Outcomes returns the per-condition counts ordered by condition id.
func (n *TaskNode) Outcomes() []ConditionOutcome {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]ConditionOutcome, 0, len(n.outcomes))
	for _, o := range n.outcomes {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CondID < out[j].CondID })
	return out
}

// Trace returns the most recent cursor positions, oldest first.
func (n *TaskNode) Trace() []Point {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Point(nil), n.trace...)
}

// Targets returns the target layout.
func (n *TaskNode) Targets() []targets.Target {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]targets.Target(nil), n.targets...)
}
