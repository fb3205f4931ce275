package config

import (
	"fmt"
	"slices"
	"time"
)

// DefaultTaskConfigPath holds the canonical task defaults.
const DefaultTaskConfigPath = "config/task.defaults.json"

// TaskConfig configures the trial state machine node.
type TaskConfig struct {
	// Layout
	TargetAngles       []float64   `json:"target_angles,omitempty"` // degrees
	DistanceFromCenter *float64    `json:"distance_from_center,omitempty"`
	TargetDiameter     *float64    `json:"target_diameter,omitempty"`
	CursorRadius       *float64    `json:"cursor_radius,omitempty"`
	CursorGainX        *float64    `json:"cursor_gain_x,omitempty"`
	CursorGainY        *float64    `json:"cursor_gain_y,omitempty"`
	CursorXBounds      *[2]float64 `json:"cursor_x_bounds,omitempty"`
	CursorYBounds      *[2]float64 `json:"cursor_y_bounds,omitempty"`

	// Trial flow
	Recenter       *bool     `json:"recenter,omitempty"`
	RecenterOnFail *bool     `json:"recenter_on_fail,omitempty"`
	InitialWait    *Duration `json:"initial_wait_time,omitempty"`
	TrialTimeout   *Duration `json:"trial_timeout,omitempty"`

	InterTrialTimeIn      *DurationRange `json:"inter_trial_time_in,omitempty"`
	InterTrialTimeOut     *DurationRange `json:"inter_trial_time_out,omitempty"`
	InterTrialTimeFailure *DurationRange `json:"inter_trial_time_failure,omitempty"`
	DelayTimeIn           *DurationRange `json:"delay_time_in,omitempty"`
	DelayTimeOut          *DurationRange `json:"delay_time_out,omitempty"`
	TargetHoldTimeIn      *DurationRange `json:"target_hold_time_in,omitempty"`
	TargetHoldTimeOut     *DurationRange `json:"target_hold_time_out,omitempty"`

	// Streams
	CheckTrigger  *bool   `json:"check_trigger,omitempty"`
	TriggerStream *string `json:"trigger_stream,omitempty"`
	InputStream   *string `json:"input_stream,omitempty"`
	InputDType    *string `json:"input_dtype,omitempty"`
	SyncKey       *string `json:"sync_key,omitempty"`
	TimeKey       *string `json:"time_key,omitempty"`

	// Seed drives target and delay selection; zero seeds from the clock.
	Seed *uint64 `json:"seed,omitempty"`

	Serial *SerialConfig `json:"serial,omitempty"`
}

// SerialConfig describes the serial pointing device.
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
	// RateHz is sent to the device on initialisation.
	RateHz int `json:"rate_hz"`
}

// LoadTaskConfig reads and validates a task configuration file. Omitted
// fields keep their defaults.
func LoadTaskConfig(path string) (*TaskConfig, error) {
	cfg := &TaskConfig{}
	if err := loadJSON(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultTaskConfig loads DefaultTaskConfigPath, searching parent
// directories. Panics on failure; intended for tests and tools.
func MustLoadDefaultTaskConfig() *TaskConfig {
	path, err := findDefaults(DefaultTaskConfigPath)
	if err != nil {
		panic(err.Error())
	}
	cfg, err := LoadTaskConfig(path)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Validate checks every set field. It never fills defaults.
func (c *TaskConfig) Validate() error {
	if c.TargetAngles != nil && len(c.TargetAngles) == 0 {
		return invalid("target_angles must not be empty")
	}
	if c.DistanceFromCenter != nil && *c.DistanceFromCenter <= 0 {
		return invalid("distance_from_center must be positive, got %g", *c.DistanceFromCenter)
	}
	if c.TargetDiameter != nil && *c.TargetDiameter <= 0 {
		return invalid("target_diameter must be positive, got %g", *c.TargetDiameter)
	}
	if c.CursorRadius != nil && *c.CursorRadius < 0 {
		return invalid("cursor_radius must be non-negative, got %g", *c.CursorRadius)
	}
	for name, b := range map[string]*[2]float64{"cursor_x_bounds": c.CursorXBounds, "cursor_y_bounds": c.CursorYBounds} {
		if b != nil && b[0] > b[1] {
			return invalid("%s min %g exceeds max %g", name, b[0], b[1])
		}
	}
	if c.InitialWait != nil && *c.InitialWait < 0 {
		return invalid("initial_wait_time must be non-negative")
	}
	if c.TrialTimeout != nil && *c.TrialTimeout <= 0 {
		return invalid("trial_timeout must be positive")
	}
	for name, r := range c.ranges() {
		if r != nil && r.Min > r.Max {
			return invalid("%s min %v exceeds max %v", name, r.Min.Std(), r.Max.Std())
		}
		if r != nil && r.Min < 0 {
			return invalid("%s min must be non-negative", name)
		}
	}
	if c.GetCheckTrigger() && c.GetTriggerStream() == "" {
		return invalid("check_trigger requires trigger_stream")
	}
	if c.InputDType != nil && !slices.Contains([]string{"int16", "int32", "float32", "float64"}, *c.InputDType) {
		return invalid("input_dtype must be int16, int32, float32 or float64, got %q", *c.InputDType)
	}
	return nil
}

func (c *TaskConfig) ranges() map[string]*DurationRange {
	return map[string]*DurationRange{
		"inter_trial_time_in":      c.InterTrialTimeIn,
		"inter_trial_time_out":     c.InterTrialTimeOut,
		"inter_trial_time_failure": c.InterTrialTimeFailure,
		"delay_time_in":            c.DelayTimeIn,
		"delay_time_out":           c.DelayTimeOut,
		"target_hold_time_in":      c.TargetHoldTimeIn,
		"target_hold_time_out":     c.TargetHoldTimeOut,
	}
}

func (c *TaskConfig) GetTargetAngles() []float64 {
	if len(c.TargetAngles) == 0 {
		return []float64{0, 45, 90, 135, 180, 225, 270, 315}
	}
	return slices.Clone(c.TargetAngles)
}

func (c *TaskConfig) GetDistanceFromCenter() float64 {
	if c.DistanceFromCenter == nil {
		return 300
	}
	return *c.DistanceFromCenter
}

// GetTargetRadius is half the configured target diameter.
func (c *TaskConfig) GetTargetRadius() float64 {
	if c.TargetDiameter == nil {
		return 50
	}
	return *c.TargetDiameter / 2
}

func (c *TaskConfig) GetCursorRadius() float64 {
	if c.CursorRadius == nil {
		return 25
	}
	return *c.CursorRadius
}

func (c *TaskConfig) GetCursorGain() (x, y float64) {
	x, y = 1, 1
	if c.CursorGainX != nil {
		x = *c.CursorGainX
	}
	if c.CursorGainY != nil {
		y = *c.CursorGainY
	}
	return x, y
}

func (c *TaskConfig) GetCursorBounds() (x, y [2]float64) {
	x, y = [2]float64{-960, 960}, [2]float64{-540, 540}
	if c.CursorXBounds != nil {
		x = *c.CursorXBounds
	}
	if c.CursorYBounds != nil {
		y = *c.CursorYBounds
	}
	return x, y
}

func (c *TaskConfig) GetRecenter() bool       { return c.Recenter != nil && *c.Recenter }
func (c *TaskConfig) GetRecenterOnFail() bool { return c.RecenterOnFail != nil && *c.RecenterOnFail }

func (c *TaskConfig) GetInitialWait() time.Duration {
	if c.InitialWait == nil {
		return time.Second
	}
	return c.InitialWait.Std()
}

func (c *TaskConfig) GetTrialTimeout() time.Duration {
	if c.TrialTimeout == nil {
		return 10 * time.Second
	}
	return c.TrialTimeout.Std()
}

// GetRange returns the configured range for a timing role key such as
// "delay_time_out", or the built-in default.
func (c *TaskConfig) GetRange(key string) (lo, hi time.Duration) {
	if r := c.ranges()[key]; r != nil {
		return r.Min.Std(), r.Max.Std()
	}
	switch key {
	case "inter_trial_time_failure":
		return time.Second, 2 * time.Second
	case "target_hold_time_in", "target_hold_time_out":
		return 300 * time.Millisecond, 500 * time.Millisecond
	default:
		return 500 * time.Millisecond, time.Second
	}
}

func (c *TaskConfig) GetCheckTrigger() bool { return c.CheckTrigger != nil && *c.CheckTrigger }

func (c *TaskConfig) GetTriggerStream() string {
	if c.TriggerStream == nil {
		return ""
	}
	return *c.TriggerStream
}

func (c *TaskConfig) GetInputStream() string {
	if c.InputStream == nil || *c.InputStream == "" {
		return "mouse_ac"
	}
	return *c.InputStream
}

func (c *TaskConfig) GetInputDType() string {
	if c.InputDType == nil {
		return "float32"
	}
	return *c.InputDType
}

func (c *TaskConfig) GetSyncKey() string {
	if c.SyncKey == nil || *c.SyncKey == "" {
		return "sync"
	}
	return *c.SyncKey
}

func (c *TaskConfig) GetTimeKey() string {
	if c.TimeKey == nil || *c.TimeKey == "" {
		return "ts"
	}
	return *c.TimeKey
}

func (c *TaskConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}
