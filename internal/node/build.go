package node

import (
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/centerout/internal/config"
	"github.com/banshee-data/centerout/internal/cursor"
	"github.com/banshee-data/centerout/internal/delay"
	"github.com/banshee-data/centerout/internal/records"
	"github.com/banshee-data/centerout/internal/stream"
	"github.com/banshee-data/centerout/internal/targets"
	"github.com/banshee-data/centerout/internal/timeutil"
	"github.com/banshee-data/centerout/internal/trajectory"
	"github.com/banshee-data/centerout/internal/trial"
)

// Options are the runtime collaborators that do not come from a config file.
type Options struct {
	Clock     timeutil.Clock
	Consumer  string
	SessionID string
	Sessions  OutcomeRecorder
}

// sources returns the random sources for target selection and delays. A
// zero seed draws from the runtime's entropy.
func sources(seed uint64) (rand.Source, rand.Source) {
	if seed == 0 {
		return rand.NewPCG(rand.Uint64(), rand.Uint64()), rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return rand.NewPCG(seed, 1), rand.NewPCG(seed, 2)
}

// NewMachine builds the target graph, delay scheduler, cursor and trial
// machine described by tc.
func NewMachine(tc *config.TaskConfig) (*trial.Machine, *cursor.Cursor, error) {
	graphSrc, delaySrc := sources(tc.GetSeed())

	g, err := targets.NewCenterOut(tc.GetTargetAngles(), tc.GetDistanceFromCenter(), tc.GetTargetRadius(), graphSrc)
	if err != nil {
		return nil, nil, fmt.Errorf("targets: %w", err)
	}

	ranges := make(map[delay.Role]delay.Range, len(delay.Roles))
	for _, role := range delay.Roles {
		lo, hi := tc.GetRange(role.String())
		ranges[role] = delay.Range{Min: lo, Max: hi}
	}
	sched, err := delay.NewScheduler(ranges, delaySrc)
	if err != nil {
		return nil, nil, fmt.Errorf("delays: %w", err)
	}

	gx, gy := tc.GetCursorGain()
	bx, by := tc.GetCursorBounds()
	c, err := cursor.New(cursor.Config{
		Radius:  tc.GetCursorRadius(),
		GainX:   gx,
		GainY:   gy,
		XBounds: cursor.Bounds{Min: bx[0], Max: bx[1]},
		YBounds: cursor.Bounds{Min: by[0], Max: by[1]},
	})
	if err != nil {
		return nil, nil, err
	}

	m, err := trial.New(trial.Config{
		Recenter:       tc.GetRecenter(),
		RecenterOnFail: tc.GetRecenterOnFail(),
		InitialWait:    tc.GetInitialWait(),
		Timeout:        tc.GetTrialTimeout(),
	}, g, sched, c)
	if err != nil {
		return nil, nil, err
	}
	return m, c, nil
}

// NewTaskNodeFromConfig builds a task node reading tc's input stream.
func NewTaskNodeFromConfig(tc *config.TaskConfig, store stream.Store, opts Options) (*TaskNode, error) {
	m, c, err := NewMachine(tc)
	if err != nil {
		return nil, err
	}
	dtype, err := records.ParseDType(tc.GetInputDType())
	if err != nil {
		return nil, err
	}
	cfg := TaskConfig{
		Store:       store,
		Machine:     m,
		Cursor:      c,
		Clock:       opts.Clock,
		Codec:       records.Codec{SyncKey: tc.GetSyncKey(), TimeKey: tc.GetTimeKey()},
		InputStream: tc.GetInputStream(),
		InputDType:  dtype,
		Consumer:    opts.Consumer,
		SessionID:   opts.SessionID,
		Sessions:    opts.Sessions,
	}
	if tc.GetCheckTrigger() {
		cfg.TriggerStream = tc.GetTriggerStream()
	}
	return NewTaskNode(cfg)
}

// PlannerParams converts the auto-cue settings to per-tick planner units.
func PlannerParams(ac *config.AutoCueConfig) (trajectory.Params, error) {
	profile, err := trajectory.ParseProfile(ac.GetVelProfile())
	if err != nil {
		return trajectory.Params{}, err
	}
	p := trajectory.Params{
		Profile:        profile,
		Speed:          ac.GetSpeedPerTick(),
		MinSpeed:       ac.MinSpeed,
		ErrorThres:     ac.GetErrorThres(),
		Kp:             ac.PDKp,
		Kd:             ac.PDKd,
		OffCenter:      ac.GetTargetOffCenter(),
		PositionOutput: !ac.GetVelOutput(),
	}
	return p, nil
}

// NewCueNodeFromConfig builds a trajectory node from ac.
func NewCueNodeFromConfig(ac *config.AutoCueConfig, store stream.Store, opts Options) (*CueNode, error) {
	params, err := PlannerParams(ac)
	if err != nil {
		return nil, err
	}
	planner, err := trajectory.New(params)
	if err != nil {
		return nil, err
	}

	dt, err := parseDTypes(ac.GetOutputDType(), ac.GetTargetDType(), ac.GetTargetStateDType(), ac.GetMoveDType())
	if err != nil {
		return nil, err
	}

	cfg := CueConfig{
		Store:       store,
		Planner:     planner,
		Clock:       opts.Clock,
		Codec:       records.Codec{SyncKey: ac.GetSyncKey(), TimeKey: ac.GetTimeKey()},
		InputStream: ac.GetInputStream(),
		Consumer:    opts.Consumer,

		OutputStream: ac.GetOutputStream(),
		Output: records.KinematicsLayout{
			VectorName: ac.GetOutputVectName(),
			Names:      ac.GetMoveList(),
			DType:      dt[0],
		},

		TargetStream:     ac.GetTargetStream(),
		TargetList:       ac.GetTargetList(),
		TargetDType:      dt[1],
		TargetOnOff:      ac.GetTargetOnOff(),
		TargetStateDType: dt[2],
		TargetMoveState:  ac.GetTargetMoveState(),

		MoveStream: ac.GetMoveStream(),
		MoveList:   ac.GetMoveList(),
		MoveDType:  dt[3],
	}
	if ac.GetTriggered() {
		cfg.TriggerStream = ac.GetTriggerStream()
	}
	return NewCueNode(cfg)
}

func parseDTypes(names ...string) ([]records.DType, error) {
	out := make([]records.DType, len(names))
	for i, name := range names {
		d, err := records.ParseDType(name)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
