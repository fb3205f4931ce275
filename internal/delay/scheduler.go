// Package delay generates the randomized interval durations of a trial:
// inter-trial waits, the delay before the go cue, and the hold (dwell) time.
package delay

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrInvalidRange = errors.New("delay range min exceeds max")
	ErrUnknownRole  = errors.New("unknown delay role")
)

// Role names one timing generator. "In" roles apply when the relevant target
// is the start target, "Out" roles when it is a peripheral target.
type Role int

const (
	InterTrialIn Role = iota
	InterTrialOut
	InterTrialFailure
	DelayIn
	DelayOut
	HoldIn
	HoldOut
)

// Roles lists every role a Scheduler must be configured with.
var Roles = []Role{InterTrialIn, InterTrialOut, InterTrialFailure, DelayIn, DelayOut, HoldIn, HoldOut}

func (r Role) String() string {
	switch r {
	case InterTrialIn:
		return "inter_trial_time_in"
	case InterTrialOut:
		return "inter_trial_time_out"
	case InterTrialFailure:
		return "inter_trial_time_failure"
	case DelayIn:
		return "delay_time_in"
	case DelayOut:
		return "delay_time_out"
	case HoldIn:
		return "target_hold_time_in"
	case HoldOut:
		return "target_hold_time_out"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// InterTrialFor returns the success inter-trial role for a target.
func InterTrialFor(isStart bool) Role {
	if isStart {
		return InterTrialIn
	}
	return InterTrialOut
}

// DelayFor returns the delay-to-go role for a target.
func DelayFor(isStart bool) Role {
	if isStart {
		return DelayIn
	}
	return DelayOut
}

// HoldFor returns the hold-time role for a target.
func HoldFor(isStart bool) Role {
	if isStart {
		return HoldIn
	}
	return HoldOut
}

// Range is a closed-open interval [Min, Max) of durations.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Generator holds one uniformly distributed duration. Current is always in
// [Min, Max), or equal to Min when the two coincide.
type Generator struct {
	Min time.Duration
	Max time.Duration

	dist    distuv.Uniform
	current time.Duration
}

// NewGenerator builds a generator and draws its first value.
func NewGenerator(r Range, src rand.Source) (*Generator, error) {
	if r.Min > r.Max {
		return nil, fmt.Errorf("%w: [%v, %v)", ErrInvalidRange, r.Min, r.Max)
	}
	g := &Generator{
		Min: r.Min,
		Max: r.Max,
		dist: distuv.Uniform{
			Min: float64(r.Min),
			Max: float64(r.Max),
			Src: src,
		},
	}
	g.Reroll()
	return g, nil
}

// Reroll draws a new current value and returns it.
func (g *Generator) Reroll() time.Duration {
	if g.Min == g.Max {
		g.current = g.Min
		return g.current
	}
	d := time.Duration(g.dist.Rand())
	// float rounding near Max must not leave the half-open interval
	if d >= g.Max {
		d = g.Max - 1
	}
	if d < g.Min {
		d = g.Min
	}
	g.current = d
	return g.current
}

// Current returns the most recently drawn value.
func (g *Generator) Current() time.Duration { return g.current }

// Scheduler owns one Generator per role.
type Scheduler struct {
	gens map[Role]*Generator
}

// NewScheduler builds a generator for every role in Roles. All generators
// share src, so a seeded source gives a reproducible schedule.
func NewScheduler(ranges map[Role]Range, src rand.Source) (*Scheduler, error) {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	s := &Scheduler{gens: make(map[Role]*Generator, len(Roles))}
	for _, role := range Roles {
		r, ok := ranges[role]
		if !ok {
			return nil, fmt.Errorf("%s: missing range", role)
		}
		g, err := NewGenerator(r, src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", role, err)
		}
		s.gens[role] = g
	}
	return s, nil
}

// Reroll draws a new value for role.
func (s *Scheduler) Reroll(role Role) (time.Duration, error) {
	g, ok := s.gens[role]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownRole, role)
	}
	return g.Reroll(), nil
}

// Value reads the current value for role without drawing.
func (s *Scheduler) Value(role Role) (time.Duration, error) {
	g, ok := s.gens[role]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownRole, role)
	}
	return g.Current(), nil
}
