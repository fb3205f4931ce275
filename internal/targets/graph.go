// Package targets holds the reach targets of a center-out task and the
// connectivity used to pick the next target of each trial.
package targets

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
)

var (
	ErrEmptyAdjacency = errors.New("target has no connected targets")
	ErrUnknownTarget  = errors.New("unknown target")
	ErrNotHub         = errors.New("targets do not form a hub topology around a single start target")
)

// State is the visibility/acquisition state of a target. The numeric values
// are the ones published on the target stream.
type State int32

const (
	Off      State = 0
	Shown    State = 1
	Active   State = 2
	Acquired State = 3
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case Shown:
		return "shown"
	case Active:
		return "active"
	case Acquired:
		return "acquired"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// ID identifies a target. The start target of a center-out layout is "0".
type ID string

// Target is a single reach target.
type Target struct {
	ID        ID
	X         float64
	Y         float64
	Radius    float64
	State     State
	Connected []ID
	IsStart   bool

	// visited holds the neighbours picked since the adjacency list was last
	// exhausted.
	visited []ID
}

// Contains reports whether a disc of the given radius centred at (x, y)
// overlaps the target, i.e. the centre distance is below the sum of radii.
func (t Target) Contains(x, y, radius float64) bool {
	return math.Hypot(t.X-x, t.Y-y) < t.Radius+radius
}

// Graph owns every target of a run. Targets are created once at startup and
// never removed.
type Graph struct {
	targets map[ID]*Target
	order   []ID
	start   ID
	rng     *rand.Rand
}

// NewGraph validates the target set and builds a graph. Exactly one target
// must be the start target; it must connect to every other target and every
// other target must connect back to it. src drives next-target selection.
func NewGraph(ts []Target, src rand.Source) (*Graph, error) {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	g := &Graph{
		targets: make(map[ID]*Target, len(ts)),
		rng:     rand.New(src),
	}

	for i := range ts {
		t := ts[i]
		if _, dup := g.targets[t.ID]; dup {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		if len(t.Connected) == 0 {
			return nil, fmt.Errorf("target %q: %w", t.ID, ErrEmptyAdjacency)
		}
		if t.IsStart {
			if g.start != "" {
				return nil, fmt.Errorf("%w: both %q and %q are start targets", ErrNotHub, g.start, t.ID)
			}
			g.start = t.ID
		}
		t.Connected = slices.Clone(t.Connected)
		t.visited = nil
		t.State = Off
		g.targets[t.ID] = &t
		g.order = append(g.order, t.ID)
	}
	if g.start == "" {
		return nil, fmt.Errorf("%w: no start target", ErrNotHub)
	}

	for _, id := range g.order {
		t := g.targets[id]
		for _, c := range t.Connected {
			if _, ok := g.targets[c]; !ok {
				return nil, fmt.Errorf("target %q connects to %q: %w", id, c, ErrUnknownTarget)
			}
			if c == id {
				return nil, fmt.Errorf("target %q connects to itself", id)
			}
		}
		if id == g.start {
			continue
		}
		if !slices.Contains(t.Connected, g.start) {
			return nil, fmt.Errorf("%w: %q does not connect back to start %q", ErrNotHub, id, g.start)
		}
		if !slices.Contains(g.targets[g.start].Connected, id) {
			return nil, fmt.Errorf("%w: start %q does not connect to %q", ErrNotHub, g.start, id)
		}
	}

	return g, nil
}

// NewCenterOut lays out a start target at the origin and one peripheral
// target per angle (degrees, counter-clockwise from +X) at the given
// distance. Peripheral ids are "1".."n" in angle order; coordinates are
// rounded to four decimals.
func NewCenterOut(angles []float64, distance, radius float64, src rand.Source) (*Graph, error) {
	if len(angles) == 0 {
		return nil, fmt.Errorf("center-out layout needs at least one angle: %w", ErrEmptyAdjacency)
	}

	ts := make([]Target, 0, len(angles)+1)
	outer := make([]ID, 0, len(angles))
	for i, angle := range angles {
		id := ID(strconv.Itoa(i + 1))
		rad := angle * math.Pi / 180
		ts = append(ts, Target{
			ID:        id,
			X:         round4(distance * math.Cos(rad)),
			Y:         round4(distance * math.Sin(rad)),
			Radius:    radius,
			Connected: []ID{"0"},
		})
		outer = append(outer, id)
	}
	center := Target{
		ID:        "0",
		Radius:    radius,
		Connected: outer,
		IsStart:   true,
	}
	return NewGraph(append([]Target{center}, ts...), src)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Next picks the target to reach from `from`. Neighbours are drawn uniformly
// without replacement; once every neighbour has been drawn the history is
// cleared, so each neighbour is chosen once per len(Connected) calls.
func (g *Graph) Next(from ID) (ID, error) {
	t, ok := g.targets[from]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTarget, from)
	}

	available := make([]ID, 0, len(t.Connected))
	for _, c := range t.Connected {
		if !slices.Contains(t.visited, c) {
			available = append(available, c)
		}
	}
	next := available[g.rng.IntN(len(available))]

	t.visited = append(t.visited, next)
	if len(t.visited) == len(t.Connected) {
		t.visited = t.visited[:0]
	}
	return next, nil
}

// MarkState sets the visibility/acquisition state of a target.
func (g *Graph) MarkState(id ID, s State) error {
	t, ok := g.targets[id]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownTarget, id)
	}
	t.State = s
	return nil
}

// Get returns a copy of the target with the given id.
func (g *Graph) Get(id ID) (Target, bool) {
	t, ok := g.targets[id]
	if !ok {
		return Target{}, false
	}
	c := *t
	c.Connected = slices.Clone(t.Connected)
	c.visited = nil
	return c, true
}

// Start returns the id of the start (hub) target.
func (g *Graph) Start() ID { return g.start }

// IDs returns every target id in construction order.
func (g *Graph) IDs() []ID { return slices.Clone(g.order) }

// Len returns the number of targets.
func (g *Graph) Len() int { return len(g.order) }
