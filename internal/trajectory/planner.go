// Package trajectory computes the per-tick motion command that moves a cursor
// autonomously toward a target under a selectable velocity profile.
package trajectory

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/centerout/internal/monitoring"
)

var (
	ErrMissingParam   = errors.New("velocity profile parameter missing")
	ErrUnknownProfile = errors.New("unknown velocity profile")
	ErrDimension      = errors.New("cursor and target dimensions differ")
)

// Profile selects the velocity-generation strategy.
type Profile int

const (
	Constant Profile = iota
	Triangular
	Gaussian
	PD
)

func (p Profile) String() string {
	switch p {
	case Constant:
		return "constant"
	case Triangular:
		return "triangular"
	case Gaussian:
		return "gaussian"
	case PD:
		return "PD"
	default:
		return fmt.Sprintf("profile(%d)", int(p))
	}
}

// ParseProfile accepts the configuration names constant, triangular,
// gaussian and PD (case-insensitive).
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "constant":
		return Constant, nil
	case "triangular":
		return Triangular, nil
	case "gaussian":
		return Gaussian, nil
	case "pd":
		return PD, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProfile, s)
}

// Params configures a Planner. Speed and MinSpeed are in units per tick.
// MinSpeed is required by the ramped profiles, Kp and Kd by PD.
type Params struct {
	Profile    Profile
	Speed      float64
	ErrorThres float64
	MinSpeed   *float64
	Kp         *float64
	Kd         *float64

	// OffCenter sends the cursor to the origin while the target is
	// inactive. Without it the cursor holds still.
	OffCenter bool

	// PositionOutput adds the cursor position to the velocity command.
	PositionOutput bool
}

// Validate checks that every parameter the profile needs is present.
func (p Params) Validate() error {
	if p.Speed <= 0 || math.IsNaN(p.Speed) {
		return fmt.Errorf("speed must be positive, got %g", p.Speed)
	}
	if p.ErrorThres < 0 {
		return fmt.Errorf("error_thres must be non-negative, got %g", p.ErrorThres)
	}
	switch p.Profile {
	case Constant:
	case Triangular, Gaussian:
		if p.MinSpeed == nil {
			return fmt.Errorf("%w: %s profile requires min_speed", ErrMissingParam, p.Profile)
		}
		if !(*p.MinSpeed > 0) {
			return fmt.Errorf("%s profile requires a positive min_speed, got %g", p.Profile, *p.MinSpeed)
		}
	case PD:
		if p.Kp == nil || p.Kd == nil {
			return fmt.Errorf("%w: PD profile requires both pd_kp and pd_kd", ErrMissingParam)
		}
	default:
		return fmt.Errorf("%w: %v", ErrUnknownProfile, p.Profile)
	}
	return nil
}

// State is the planner's per-segment memory. A nil TargetLast means no
// target has been seen yet.
type State struct {
	Iter       int
	TargetLast []float64
	MoveStart  []float64
	ErrLast    []float64
}

// Planner produces one motion command per call to Step. It is not safe for
// concurrent use.
type Planner struct {
	params Params
	state  State

	minSpeed float64
	kp, kd   float64
	profile  func(move []float64, mag float64, total []float64) []float64
}

// New validates p and binds the profile implementation.
func New(p Params) (*Planner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	pl := &Planner{params: p}
	if p.MinSpeed != nil {
		pl.minSpeed = *p.MinSpeed
	}
	if p.Kp != nil {
		pl.kp = *p.Kp
	}
	if p.Kd != nil {
		pl.kd = *p.Kd
	}
	switch p.Profile {
	case Constant:
		pl.profile = pl.constant
	case Triangular:
		pl.profile = pl.ramped(pl.triangularGain)
	case Gaussian:
		pl.profile = pl.ramped(pl.gaussianGain)
	case PD:
		pl.profile = pl.pd
	}
	return pl, nil
}

// Params returns the planner configuration.
func (p *Planner) Params() Params { return p.params }

// State returns a copy of the planner state.
func (p *Planner) State() State {
	return State{
		Iter:       p.state.Iter,
		TargetLast: clone(p.state.TargetLast),
		MoveStart:  clone(p.state.MoveStart),
		ErrLast:    clone(p.state.ErrLast),
	}
}

// Reset forgets the current segment and PD history.
func (p *Planner) Reset() { p.state = State{} }

// Step computes the command for one tick. When the target is inactive the
// effective target is the origin if OffCenter is set; otherwise the command
// is the same as Hold.
func (p *Planner) Step(cursor, target []float64, targetActive bool) ([]float64, error) {
	if len(cursor) != len(target) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimension, len(cursor), len(target))
	}
	var goal []float64
	switch {
	case targetActive:
		goal = clone(target)
	case p.params.OffCenter:
		goal = make([]float64, len(cursor))
	default:
		return p.Hold(cursor), nil
	}

	if p.state.TargetLast == nil || len(p.state.TargetLast) != len(goal) {
		p.state.MoveStart = clone(cursor)
		monitoring.Debugf("new movement segment from %v", cursor)
	} else if floats.Distance(goal, p.state.TargetLast, 2) > p.params.ErrorThres {
		p.state.MoveStart = clone(cursor)
		monitoring.Debugf("new movement segment from %v", cursor)
	}
	p.state.TargetLast = goal

	move := floats.SubTo(make([]float64, len(goal)), goal, cursor)
	total := floats.SubTo(make([]float64, len(goal)), goal, p.state.MoveStart)
	vel := p.profile(move, floats.Norm(move, 2), total)
	return p.output(vel, cursor), nil
}

// Hold returns the command for a tick on which the cursor must not move.
func (p *Planner) Hold(cursor []float64) []float64 {
	return p.output(make([]float64, len(cursor)), cursor)
}

func (p *Planner) output(vel, cursor []float64) []float64 {
	if p.params.PositionOutput {
		floats.Add(vel, cursor)
	}
	return vel
}

func (p *Planner) constant(move []float64, mag float64, _ []float64) []float64 {
	vel := make([]float64, len(move))
	if mag <= p.params.ErrorThres {
		return vel
	}
	return floats.ScaleTo(vel, math.Min(mag, p.params.Speed)/mag, move)
}

// ramped wraps a speed envelope with the shared segment bookkeeping: the
// counter restarts while the cursor still sits on the segment anchor, the
// speed never drops below MinSpeed and the step never overshoots.
func (p *Planner) ramped(envelope func(iter int, T float64) float64) func([]float64, float64, []float64) []float64 {
	return func(move []float64, mag float64, total []float64) []float64 {
		if floats.Equal(move, total) {
			p.state.Iter = 0
		}

		vel := make([]float64, len(move))
		speed := 0.0
		totalDist := floats.Norm(total, 2)
		moving := mag > p.params.ErrorThres && totalDist > 0
		if moving {
			T := math.Ceil(totalDist / p.params.Speed)
			speed = p.minSpeed + (p.params.Speed-p.minSpeed)*envelope(p.state.Iter, T)
		}
		p.state.Iter++

		speed = math.Max(speed, p.minSpeed)
		if !moving {
			return vel
		}
		return floats.ScaleTo(vel, math.Min(mag, speed)/mag, move)
	}
}

// triangularGain rises linearly from 0 at the segment start to 2 at T/2 and
// falls back to 0 at T. Each tick samples the envelope at its midpoint, so
// the gains over ticks 0..T-1 sum to at least T.
func (p *Planner) triangularGain(iter int, T float64) float64 {
	i := float64(iter) + 0.5
	if i < 0.5*T {
		return i / (0.25 * T)
	}
	return (T - i) / (0.25 * T)
}

// gaussianGain is a normal density over tick index (sigma T/6, centred at
// T/2) normalised to sum to one over ticks 0..T-1, scaled by T.
func (p *Planner) gaussianGain(iter int, T float64) float64 {
	sigma := T / 6
	dist := distuv.Normal{Mu: 3 * sigma, Sigma: sigma}
	var scale float64
	for k := 0; k < int(T); k++ {
		scale += dist.Prob(float64(k))
	}
	if scale == 0 {
		return 0
	}
	return dist.Prob(float64(iter)) / scale * T
}

// pd drives the cursor with a proportional term on the current displacement
// and a derivative term on its change since the previous tick.
func (p *Planner) pd(move []float64, _ float64, _ []float64) []float64 {
	if len(p.state.ErrLast) != len(move) {
		p.state.ErrLast = make([]float64, len(move))
	}
	dErr := floats.SubTo(make([]float64, len(move)), move, p.state.ErrLast)
	vel := floats.ScaleTo(make([]float64, len(move)), p.kp, move)
	floats.AddScaled(vel, p.kd, dErr)
	p.state.ErrLast = clone(move)
	return vel
}

func clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}
