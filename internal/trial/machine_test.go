package trial

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/centerout/internal/cursor"
	"github.com/banshee-data/centerout/internal/delay"
	"github.com/banshee-data/centerout/internal/targets"
	"github.com/banshee-data/centerout/internal/timeutil"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixed(d time.Duration) delay.Range { return delay.Range{Min: d, Max: d} }

type fixture struct {
	m      *Machine
	graph  *targets.Graph
	cursor *cursor.Cursor
	clock  *timeutil.MockClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	g, err := targets.NewCenterOut([]float64{0, 45, 90, 135, 180, 225, 270, 315}, 300, 50, rand.NewPCG(5, 6))
	require.NoError(t, err)
	s, err := delay.NewScheduler(map[delay.Role]delay.Range{
		delay.InterTrialIn:      fixed(time.Second),
		delay.InterTrialOut:     fixed(2 * time.Second),
		delay.InterTrialFailure: fixed(3 * time.Second),
		delay.DelayIn:           fixed(500 * time.Millisecond),
		delay.DelayOut:          fixed(400 * time.Millisecond),
		delay.HoldIn:            fixed(200 * time.Millisecond),
		delay.HoldOut:           fixed(300 * time.Millisecond),
	}, rand.NewPCG(7, 8))
	require.NoError(t, err)
	c, err := cursor.New(cursor.DefaultConfig())
	require.NoError(t, err)

	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.InitialWait == 0 {
		cfg.InitialWait = time.Second
	}
	m, err := New(cfg, g, s, c)
	require.NoError(t, err)

	clk := timeutil.NewMockClock(t0)
	require.NoError(t, m.Start(clk.Now()))
	return &fixture{m: m, graph: g, cursor: c, clock: clk}
}

func (f *fixture) step(t *testing.T, d time.Duration, moved bool) []Event {
	t.Helper()
	f.clock.Advance(d)
	ev, err := f.m.Step(f.clock.Now(), moved)
	require.NoError(t, err)
	return ev
}

// toGoCue runs the first trial up to the start of MOVEMENT.
func (f *fixture) toGoCue(t *testing.T) targets.Target {
	t.Helper()
	f.step(t, time.Second, false)
	ev := f.step(t, 500*time.Millisecond, false)
	require.Len(t, ev, 1)
	require.Equal(t, LabelGoCue, ev[0].Label)
	return f.m.ActiveTarget()
}

func (f *fixture) moveOnto(tgt targets.Target) {
	x, y := f.cursor.Position()
	f.cursor.Update(tgt.X-x, tgt.Y-y)
}

func TestStart_InitialState(t *testing.T) {
	f := newFixture(t, Config{})
	st := f.m.State()
	assert.Equal(t, BetweenTrials, st.Phase)
	assert.Equal(t, targets.ID("0"), st.Target)
	assert.Equal(t, time.Second, st.InterTrial)
	assert.Zero(t, st.Trial)
	assert.Equal(t, targets.Off, f.m.ActiveTarget().State)
	assert.True(t, f.cursor.Visible())
}

func TestBetweenTrials_StartsAfterInterTrial(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Empty(t, f.step(t, 999*time.Millisecond, false))
	assert.Equal(t, BetweenTrials, f.m.State().Phase)

	ev := f.step(t, time.Millisecond, false)
	st := f.m.State()
	assert.Equal(t, StartTrial, st.Phase)
	assert.NotEqual(t, targets.ID("0"), st.Target)
	assert.Equal(t, targets.ID("0"), st.Previous)
	assert.Equal(t, 1, st.Trial)
	assert.Equal(t, 500*time.Millisecond, st.Delay, "delay rolled for the start target")
	assert.Equal(t, 200*time.Millisecond, st.Hold)
	assert.Equal(t, 2*time.Second, st.InterTrial, "inter-trial rolled for the peripheral target")

	tgt := f.m.ActiveTarget()
	assert.Equal(t, targets.Shown, tgt.State)

	require.Len(t, ev, 2)
	assert.Equal(t, Event{Kind: StateChange, Label: LabelStart}, ev[0])
	assert.Equal(t, NewTrial, ev[1].Kind)
	info := ev[1].Info
	assert.Equal(t, "0-"+string(tgt.ID), info.CondID)
	assert.Equal(t, tgt.X, info.TargetX)
	assert.Equal(t, tgt.Y, info.TargetY)
	assert.Zero(t, info.StartX)
	assert.Zero(t, info.StartY)
	assert.InDelta(t, math.Atan2(tgt.Y, tgt.X)*180/math.Pi, info.ReachAngle, 1e-9)
	assert.Equal(t, 50.0, info.TargetRadius)
	assert.Equal(t, 25.0, info.CursorRadius)
	assert.Equal(t, 200*time.Millisecond, info.Dwell)
}

func TestStartTrial_GoCueAfterDelay(t *testing.T) {
	f := newFixture(t, Config{})
	f.step(t, time.Second, false)

	assert.Empty(t, f.step(t, 499*time.Millisecond, false))
	ev := f.step(t, time.Millisecond, false)
	require.Len(t, ev, 1)
	assert.Equal(t, LabelGoCue, ev[0].Label)

	st := f.m.State()
	assert.Equal(t, Movement, st.Phase)
	assert.Equal(t, f.clock.Now(), st.LastOutOfTarget)
	assert.Equal(t, targets.Active, f.m.ActiveTarget().State)
}

func TestStartTrial_PrematureMovementFails(t *testing.T) {
	f := newFixture(t, Config{})
	f.step(t, time.Second, false)
	failed := f.m.ActiveTarget()

	// the delay has also elapsed but a failure ends the tick
	ev := f.step(t, 600*time.Millisecond, true)
	require.Len(t, ev, 2)
	assert.Equal(t, LabelEnd, ev[0].Label)
	assert.Equal(t, Event{Kind: Outcome, Success: false}, ev[1])

	st := f.m.State()
	assert.Equal(t, BetweenTrials, st.Phase)
	assert.Equal(t, targets.ID("0"), st.Target)
	assert.Equal(t, 3*time.Second, st.InterTrial)

	off, _ := f.graph.Get(failed.ID)
	assert.Equal(t, targets.Off, off.State)
}

func TestMovement_SuccessAfterContinuousHold(t *testing.T) {
	f := newFixture(t, Config{})
	tgt := f.toGoCue(t)

	// still at the centre, outside the target
	assert.Empty(t, f.step(t, 50*time.Millisecond, false))
	entered := f.clock.Now()

	f.moveOnto(tgt)
	assert.Empty(t, f.step(t, 10*time.Millisecond, false))
	assert.Equal(t, targets.Acquired, f.m.ActiveTarget().State)
	assert.Equal(t, entered, f.m.State().LastOutOfTarget)

	assert.Empty(t, f.step(t, 189*time.Millisecond, false), "199ms over target is short of the 200ms hold")
	ev := f.step(t, time.Millisecond, false)
	require.Len(t, ev, 2)
	assert.Equal(t, LabelEnd, ev[0].Label)
	assert.Equal(t, Event{Kind: Outcome, Success: true}, ev[1])

	st := f.m.State()
	assert.Equal(t, BetweenTrials, st.Phase)
	assert.Equal(t, tgt.ID, st.Target, "without recenter the acquired target becomes the next start")
	assert.Equal(t, 2*time.Second, st.InterTrial)
	assert.Equal(t, targets.Off, f.m.ActiveTarget().State)

	// next trial goes back to the centre
	f.step(t, 2*time.Second, false)
	st = f.m.State()
	assert.Equal(t, StartTrial, st.Phase)
	assert.Equal(t, targets.ID("0"), st.Target)
	assert.Equal(t, 400*time.Millisecond, st.Delay)
	assert.Equal(t, 300*time.Millisecond, st.Hold)
	assert.Equal(t, time.Second, st.InterTrial)
}

func TestMovement_LeavingTargetRestartsHold(t *testing.T) {
	f := newFixture(t, Config{})
	tgt := f.toGoCue(t)

	f.moveOnto(tgt)
	f.step(t, 150*time.Millisecond, false)

	f.cursor.Update(500, 500)
	f.step(t, 10*time.Millisecond, false)
	left := f.clock.Now()
	assert.Equal(t, left, f.m.State().LastOutOfTarget)
	assert.Equal(t, targets.Active, f.m.ActiveTarget().State)

	f.moveOnto(tgt)
	assert.Empty(t, f.step(t, 100*time.Millisecond, false))
	assert.Len(t, f.step(t, 100*time.Millisecond, false), 2)
}

func TestMovement_Timeout(t *testing.T) {
	t.Run("recenter on fail", func(t *testing.T) {
		f := newFixture(t, Config{RecenterOnFail: true})
		f.toGoCue(t)
		f.cursor.Update(40, -30)

		assert.Empty(t, f.step(t, 4999*time.Millisecond, false))
		ev := f.step(t, time.Millisecond, false)
		require.Len(t, ev, 2)
		assert.Equal(t, LabelEnd, ev[0].Label)
		assert.Equal(t, Event{Kind: Outcome, Success: false}, ev[1])

		st := f.m.State()
		assert.Equal(t, BetweenTrials, st.Phase)
		assert.Equal(t, targets.ID("0"), st.Target)
		assert.Equal(t, 3*time.Second, st.InterTrial)
		x, y := f.cursor.Position()
		assert.Zero(t, x)
		assert.Zero(t, y)
	})

	t.Run("revert keeps cursor", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.toGoCue(t)
		f.cursor.Update(40, -30)

		f.step(t, 5*time.Second, false)
		st := f.m.State()
		assert.Equal(t, st.Previous, st.Target)
		x, y := f.cursor.Position()
		assert.Equal(t, 40.0, x)
		assert.Equal(t, -30.0, y)
	})
}

func TestMovement_RecenterOnSuccess(t *testing.T) {
	f := newFixture(t, Config{Recenter: true})
	tgt := f.toGoCue(t)
	f.moveOnto(tgt)

	f.step(t, 10*time.Millisecond, false)
	ev := f.step(t, 200*time.Millisecond, false)
	require.Len(t, ev, 2)
	assert.True(t, ev[1].Success)

	st := f.m.State()
	assert.Equal(t, targets.ID("0"), st.Target)
	assert.Equal(t, time.Second, st.InterTrial)
	x, y := f.cursor.Position()
	assert.Zero(t, x)
	assert.Zero(t, y)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Timeout: time.Second}, nil, nil, nil)
	assert.Error(t, err)

	g, _ := targets.NewCenterOut([]float64{0}, 100, 10, nil)
	s, _ := delay.NewScheduler(map[delay.Role]delay.Range{
		delay.InterTrialIn: {}, delay.InterTrialOut: {}, delay.InterTrialFailure: {},
		delay.DelayIn: {}, delay.DelayOut: {}, delay.HoldIn: {}, delay.HoldOut: {},
	}, nil)
	c, _ := cursor.New(cursor.DefaultConfig())
	_, err = New(Config{}, g, s, c)
	assert.Error(t, err, "zero timeout")
}

func TestTargets_ReflectsPublishedState(t *testing.T) {
	f := newFixture(t, Config{})
	ts := f.m.Targets()
	require.Len(t, ts, 9)
	assert.Equal(t, targets.ID("0"), ts[0].ID)

	f.step(t, time.Second, false)
	shown := f.m.ActiveTarget()
	for _, tgt := range f.m.Targets() {
		if tgt.ID == shown.ID {
			assert.Equal(t, targets.Shown, tgt.State)
		}
	}
}
