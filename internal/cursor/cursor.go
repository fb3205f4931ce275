// Package cursor integrates raw pointing-device displacements into a bounded
// cursor position.
package cursor

import (
	"fmt"
	"math"
)

// Bounds is a closed [Min, Max] interval on one axis.
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) clamp(v float64) float64 {
	return math.Min(math.Max(v, b.Min), b.Max)
}

// Config describes a cursor. Zero gains are treated as 1.
type Config struct {
	Radius  float64
	GainX   float64
	GainY   float64
	XBounds Bounds
	YBounds Bounds
}

// DefaultConfig returns the 1920x1080-centred screen layout.
func DefaultConfig() Config {
	return Config{
		Radius:  25,
		GainX:   1,
		GainY:   1,
		XBounds: Bounds{Min: -960, Max: 960},
		YBounds: Bounds{Min: -540, Max: 540},
	}
}

// Cursor is the controlled cursor. Position is its only mutable state.
type Cursor struct {
	cfg Config
	x   float64
	y   float64
	on  bool
}

// New creates a cursor at the origin, clamped into bounds if the origin lies
// outside them.
func New(cfg Config) (*Cursor, error) {
	if cfg.XBounds.Min > cfg.XBounds.Max {
		return nil, fmt.Errorf("cursor x bounds inverted: [%g, %g]", cfg.XBounds.Min, cfg.XBounds.Max)
	}
	if cfg.YBounds.Min > cfg.YBounds.Max {
		return nil, fmt.Errorf("cursor y bounds inverted: [%g, %g]", cfg.YBounds.Min, cfg.YBounds.Max)
	}
	if cfg.GainX == 0 {
		cfg.GainX = 1
	}
	if cfg.GainY == 0 {
		cfg.GainY = 1
	}
	c := &Cursor{cfg: cfg}
	c.Recenter()
	return c, nil
}

// Update applies a gain-scaled displacement and clamps both axes. Non-finite
// displacements are ignored on the affected axis.
func (c *Cursor) Update(dx, dy float64) (x, y float64) {
	if !math.IsNaN(dx) && !math.IsInf(dx, 0) {
		c.x = c.cfg.XBounds.clamp(c.x + dx*c.cfg.GainX)
	}
	if !math.IsNaN(dy) && !math.IsInf(dy, 0) {
		c.y = c.cfg.YBounds.clamp(c.y + dy*c.cfg.GainY)
	}
	return c.x, c.y
}

// Recenter moves the cursor back to the origin.
func (c *Cursor) Recenter() {
	c.x = c.cfg.XBounds.clamp(0)
	c.y = c.cfg.YBounds.clamp(0)
}

// Position returns the current position.
func (c *Cursor) Position() (x, y float64) { return c.x, c.y }

// Radius returns the configured cursor radius.
func (c *Cursor) Radius() float64 { return c.cfg.Radius }

// SetVisible switches the published on/off state of the cursor.
func (c *Cursor) SetVisible(on bool) { c.on = on }

// Visible reports the published on/off state.
func (c *Cursor) Visible() bool { return c.on }
