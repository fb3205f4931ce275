// Package trial runs the center-out trial state machine: target rotation,
// randomized delay and hold timing, and success, failure and timeout
// outcomes.
package trial

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/centerout/internal/cursor"
	"github.com/banshee-data/centerout/internal/delay"
	"github.com/banshee-data/centerout/internal/monitoring"
	"github.com/banshee-data/centerout/internal/targets"
)

// Phase is the trial phase.
type Phase int

const (
	BetweenTrials Phase = iota
	StartTrial
	Movement
)

func (p Phase) String() string {
	switch p {
	case BetweenTrials:
		return "between_trials"
	case StartTrial:
		return "start_trial"
	case Movement:
		return "movement"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Labels published on the state stream.
const (
	LabelStart = "start_time"
	LabelGoCue = "go_cue_time"
	LabelEnd   = "end_time"
)

// Config holds the behavioural options of a Machine.
type Config struct {
	// Recenter returns to the start target and recentres the cursor after
	// a successful trial.
	Recenter bool
	// RecenterOnFail does the same after a timeout instead of reverting to
	// the previous target.
	RecenterOnFail bool
	InitialWait    time.Duration
	Timeout        time.Duration
}

// State is the trial bookkeeping owned by a Machine.
type State struct {
	Phase           Phase
	PhaseEntered    time.Time
	Target          targets.ID
	Previous        targets.ID
	Trial           int
	InterTrial      time.Duration
	Delay           time.Duration
	Hold            time.Duration
	LastOutOfTarget time.Time
}

// EventKind says which record an Event becomes.
type EventKind int

const (
	StateChange EventKind = iota
	Outcome
	NewTrial
)

// Info describes a freshly started trial.
type Info struct {
	TargetX      float64
	TargetY      float64
	StartX       float64
	StartY       float64
	ReachAngle   float64 // degrees, counter-clockwise from +X
	CondID       string
	TargetRadius float64
	CursorRadius float64
	Dwell        time.Duration
}

// Event is one record produced by a Step, in emission order.
type Event struct {
	Kind    EventKind
	Label   string
	Success bool
	Info    Info
}

// Machine is the trial state machine. It is driven by Step once per input
// sample and is not safe for concurrent use.
type Machine struct {
	cfg    Config
	graph  *targets.Graph
	sched  *delay.Scheduler
	cursor *cursor.Cursor

	state State
}

// New builds a machine. Call Start before the first Step.
func New(cfg Config, g *targets.Graph, s *delay.Scheduler, c *cursor.Cursor) (*Machine, error) {
	if g == nil || s == nil || c == nil {
		return nil, errors.New("trial machine needs a target graph, delay scheduler and cursor")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("trial timeout must be positive, got %v", cfg.Timeout)
	}
	if cfg.InitialWait < 0 {
		return nil, fmt.Errorf("initial wait must not be negative, got %v", cfg.InitialWait)
	}
	return &Machine{cfg: cfg, graph: g, sched: s, cursor: c}, nil
}

// Start enters BETWEEN_TRIALS at the start target with the initial wait as
// the inter-trial interval.
func (m *Machine) Start(now time.Time) error {
	start := m.graph.Start()
	if err := m.graph.MarkState(start, targets.Off); err != nil {
		return err
	}
	m.cursor.SetVisible(true)
	m.state = State{
		Phase:        BetweenTrials,
		PhaseEntered: now,
		Target:       start,
		Previous:     start,
		InterTrial:   m.cfg.InitialWait,
		Hold:         500 * time.Millisecond,
	}
	monitoring.Logf("Starting center-out trial machine")
	return nil
}

// State returns a copy of the current trial state.
func (m *Machine) State() State { return m.state }

// ActiveTarget returns the target the machine currently publishes.
func (m *Machine) ActiveTarget() targets.Target {
	t, _ := m.graph.Get(m.state.Target)
	return t
}

// Targets returns a copy of every target in layout order.
func (m *Machine) Targets() []targets.Target {
	ids := m.graph.IDs()
	out := make([]targets.Target, 0, len(ids))
	for _, id := range ids {
		t, _ := m.graph.Get(id)
		out = append(out, t)
	}
	return out
}

// Step evaluates one tick at time now. moved reports premature movement from
// an external trigger; pass false when no trigger source is configured.
func (m *Machine) Step(now time.Time, moved bool) ([]Event, error) {
	elapsed := now.Sub(m.state.PhaseEntered)
	switch m.state.Phase {
	case BetweenTrials:
		if elapsed >= m.state.InterTrial {
			return m.beginTrial(now)
		}
	case StartTrial:
		if moved {
			return m.failDelay(now)
		}
		if elapsed >= m.state.Delay {
			return m.goCue(now)
		}
	case Movement:
		if elapsed >= m.cfg.Timeout {
			return m.timeout(now)
		}
		return m.track(now)
	}
	return nil, nil
}

func (m *Machine) beginTrial(now time.Time) ([]Event, error) {
	cur, ok := m.graph.Get(m.state.Target)
	if !ok {
		return nil, fmt.Errorf("%w %q", targets.ErrUnknownTarget, m.state.Target)
	}

	var err error
	if m.state.Delay, err = m.sched.Reroll(delay.DelayFor(cur.IsStart)); err != nil {
		return nil, err
	}
	if m.state.Hold, err = m.sched.Reroll(delay.HoldFor(cur.IsStart)); err != nil {
		return nil, err
	}

	nextID, err := m.graph.Next(cur.ID)
	if err != nil {
		return nil, err
	}
	next, _ := m.graph.Get(nextID)
	if m.state.InterTrial, err = m.sched.Reroll(delay.InterTrialFor(next.IsStart)); err != nil {
		return nil, err
	}
	if err := m.graph.MarkState(nextID, targets.Shown); err != nil {
		return nil, err
	}

	m.state.Previous = cur.ID
	m.state.Target = nextID
	m.state.Trial++
	m.enter(StartTrial, now)

	monitoring.Logf("%d - New trial started, reaching for target [%g,%g]", m.state.Trial, next.X, next.Y)
	return []Event{
		{Kind: StateChange, Label: LabelStart},
		{Kind: NewTrial, Info: Info{
			TargetX:      next.X,
			TargetY:      next.Y,
			StartX:       cur.X,
			StartY:       cur.Y,
			ReachAngle:   reachAngle(cur, next),
			CondID:       string(cur.ID) + "-" + string(next.ID),
			TargetRadius: next.Radius,
			CursorRadius: m.cursor.Radius(),
			Dwell:        m.state.Hold,
		}},
	}, nil
}

func (m *Machine) failDelay(now time.Time) ([]Event, error) {
	if err := m.graph.MarkState(m.state.Target, targets.Off); err != nil {
		return nil, err
	}
	m.enter(BetweenTrials, now)
	monitoring.Logf("%d - Moved during delay, starting new trial", m.state.Trial)
	m.state.Target = m.state.Previous
	return m.fail()
}

func (m *Machine) goCue(now time.Time) ([]Event, error) {
	if err := m.graph.MarkState(m.state.Target, targets.Active); err != nil {
		return nil, err
	}
	m.enter(Movement, now)
	m.state.LastOutOfTarget = now
	monitoring.Logf("%d - Trial go cue", m.state.Trial)
	return []Event{{Kind: StateChange, Label: LabelGoCue}}, nil
}

func (m *Machine) timeout(now time.Time) ([]Event, error) {
	if err := m.graph.MarkState(m.state.Target, targets.Off); err != nil {
		return nil, err
	}
	m.enter(BetweenTrials, now)
	monitoring.Logf("%d - Timeout, starting new trial", m.state.Trial)
	if m.cfg.RecenterOnFail {
		m.state.Target = m.graph.Start()
		m.cursor.Recenter()
	} else {
		m.state.Target = m.state.Previous
	}
	return m.fail()
}

func (m *Machine) fail() ([]Event, error) {
	var err error
	if m.state.InterTrial, err = m.sched.Reroll(delay.InterTrialFailure); err != nil {
		return nil, err
	}
	return []Event{
		{Kind: StateChange, Label: LabelEnd},
		{Kind: Outcome, Success: false},
	}, nil
}

// track handles a MOVEMENT tick without timeout: the target is ACQUIRED while
// the cursor overlaps it and ACTIVE otherwise, and the trial succeeds once
// the overlap has lasted the hold time.
func (m *Machine) track(now time.Time) ([]Event, error) {
	tgt, ok := m.graph.Get(m.state.Target)
	if !ok {
		return nil, fmt.Errorf("%w %q", targets.ErrUnknownTarget, m.state.Target)
	}
	x, y := m.cursor.Position()
	if !tgt.Contains(x, y, m.cursor.Radius()) {
		m.state.LastOutOfTarget = now
		return nil, m.graph.MarkState(tgt.ID, targets.Active)
	}
	if err := m.graph.MarkState(tgt.ID, targets.Acquired); err != nil {
		return nil, err
	}
	if now.Sub(m.state.LastOutOfTarget) < m.state.Hold {
		return nil, nil
	}

	if err := m.graph.MarkState(tgt.ID, targets.Off); err != nil {
		return nil, err
	}
	m.enter(BetweenTrials, now)
	monitoring.Logf("%d - Target [%g,%g] acquired, trial ended", m.state.Trial, tgt.X, tgt.Y)
	if m.cfg.Recenter {
		m.state.Target = m.graph.Start()
		m.cursor.Recenter()
		var err error
		if m.state.InterTrial, err = m.sched.Reroll(delay.InterTrialIn); err != nil {
			return nil, err
		}
	}
	return []Event{
		{Kind: StateChange, Label: LabelEnd},
		{Kind: Outcome, Success: true},
	}, nil
}

func (m *Machine) enter(p Phase, now time.Time) {
	m.state.Phase = p
	m.state.PhaseEntered = now
}

func reachAngle(from, to targets.Target) float64 {
	return math.Atan2(to.Y-from.Y, to.X-from.X) * 180 / math.Pi
}
