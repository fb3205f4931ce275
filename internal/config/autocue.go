package config

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultAutoCueConfigPath holds the canonical trajectory node defaults.
const DefaultAutoCueConfigPath = "config/autocue.defaults.json"

// AutoCueConfig configures the trajectory (auto-cue) node.
type AutoCueConfig struct {
	InputStream    *string `json:"input_stream,omitempty"`
	OutputStream   *string `json:"output_stream,omitempty"`
	OutputVectName *string `json:"output_vect_name,omitempty"`
	OutputDType    *string `json:"output_dtype,omitempty"`

	TargetStream     *string  `json:"target_stream,omitempty"`
	TargetList       []string `json:"target_list,omitempty"`
	TargetDType      *string  `json:"target_dtype,omitempty"`
	TargetOnOff      *string  `json:"target_on_off,omitempty"`
	TargetStateDType *string  `json:"target_state_dtype,omitempty"`
	TargetMoveState  *float64 `json:"target_move_state,omitempty"`
	TargetOffCenter  *bool    `json:"target_off_center,omitempty"`

	MoveStream *string  `json:"move_stream,omitempty"`
	MoveList   []string `json:"move_list,omitempty"`
	MoveDType  *string  `json:"move_dtype,omitempty"`

	Speed      *float64 `json:"speed,omitempty"`      // units per second
	InputRate  *float64 `json:"input_rate,omitempty"` // ticks per second
	VelProfile *string  `json:"vel_profile,omitempty"`
	VelOutput  *bool    `json:"vel_output,omitempty"`
	MinSpeed   *float64 `json:"min_speed,omitempty"` // units per tick
	PDKp       *float64 `json:"pd_kp,omitempty"`
	PDKd       *float64 `json:"pd_kd,omitempty"`
	ErrorThres *float64 `json:"error_thres,omitempty"`

	Triggered     *bool   `json:"triggered,omitempty"`
	TriggerStream *string `json:"trigger_stream,omitempty"`

	SyncKey *string `json:"sync_key,omitempty"`
	TimeKey *string `json:"time_key,omitempty"`
}

// LoadAutoCueConfig reads and validates an auto-cue configuration file.
func LoadAutoCueConfig(path string) (*AutoCueConfig, error) {
	cfg := &AutoCueConfig{}
	if err := loadJSON(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultAutoCueConfig loads DefaultAutoCueConfigPath, searching
// parent directories. Panics on failure.
func MustLoadDefaultAutoCueConfig() *AutoCueConfig {
	path, err := findDefaults(DefaultAutoCueConfigPath)
	if err != nil {
		panic(err.Error())
	}
	cfg, err := LoadAutoCueConfig(path)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Validate checks the profile-specific parameters and list shapes.
func (c *AutoCueConfig) Validate() error {
	if c.Speed != nil && *c.Speed <= 0 {
		return invalid("speed must be positive, got %g", *c.Speed)
	}
	if c.InputRate != nil && *c.InputRate <= 0 {
		return invalid("input_rate must be positive, got %g", *c.InputRate)
	}
	if c.ErrorThres != nil && *c.ErrorThres < 0 {
		return invalid("error_thres must be non-negative, got %g", *c.ErrorThres)
	}
	if len(c.GetTargetList()) != len(c.GetMoveList()) {
		return invalid("target_list and move_list must be of equal length (%d vs %d)", len(c.GetTargetList()), len(c.GetMoveList()))
	}

	switch strings.ToLower(c.GetVelProfile()) {
	case "constant":
	case "triangular", "gaussian":
		if c.MinSpeed == nil {
			return invalid("%s velocity profile requires a 'min_speed' parameter", c.GetVelProfile())
		}
		if !(*c.MinSpeed > 0) {
			return invalid("min_speed must be positive, got %g", *c.MinSpeed)
		}
	case "pd":
		if c.PDKp == nil || c.PDKd == nil {
			return invalid("PD velocity profile requires both 'pd_kp' and 'pd_kd' parameters")
		}
	default:
		return invalid("unknown vel_profile %q", c.GetVelProfile())
	}

	if c.GetTriggered() && c.GetTriggerStream() == "" {
		return invalid("triggered requires trigger_stream")
	}
	for name, v := range map[string]string{
		"output_dtype": c.GetOutputDType(), "target_dtype": c.GetTargetDType(),
		"target_state_dtype": c.GetTargetStateDType(), "move_dtype": c.GetMoveDType(),
	} {
		if !slices.Contains([]string{"int16", "int32", "float32", "float64"}, v) {
			return invalid("%s must be int16, int32, float32 or float64, got %q", name, v)
		}
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func (c *AutoCueConfig) GetInputStream() string { return stringOr(c.InputStream, "clock") }
func (c *AutoCueConfig) GetOutputStream() string { return stringOr(c.OutputStream, "mouse_ac") }
func (c *AutoCueConfig) GetOutputDType() string { return stringOr(c.OutputDType, "float32") }
func (c *AutoCueConfig) GetTargetStream() string { return stringOr(c.TargetStream, "targetData") }
func (c *AutoCueConfig) GetTargetDType() string { return stringOr(c.TargetDType, "float32") }
func (c *AutoCueConfig) GetTargetOnOff() string { return stringOr(c.TargetOnOff, "state") }
func (c *AutoCueConfig) GetMoveStream() string { return stringOr(c.MoveStream, "cursorData") }
func (c *AutoCueConfig) GetMoveDType() string { return stringOr(c.MoveDType, "float32") }
func (c *AutoCueConfig) GetVelProfile() string { return stringOr(c.VelProfile, "constant") }
func (c *AutoCueConfig) GetTriggerStream() string { return stringOr(c.TriggerStream, "") }
func (c *AutoCueConfig) GetSyncKey() string { return stringOr(c.SyncKey, "sync") }
func (c *AutoCueConfig) GetTimeKey() string { return stringOr(c.TimeKey, "ts") }

// GetOutputVectName is empty when each move_list field is published on its
// own. An explicit empty string in the file disables the vector.
func (c *AutoCueConfig) GetOutputVectName() string {
	if c.OutputVectName == nil {
		return "samples"
	}
	return *c.OutputVectName
}

func (c *AutoCueConfig) GetTargetStateDType() string {
	if c.TargetStateDType == nil || *c.TargetStateDType == "" {
		return "int32"
	}
	return *c.TargetStateDType
}

func (c *AutoCueConfig) GetTargetList() []string {
	if len(c.TargetList) == 0 {
		return []string{"X", "Y"}
	}
	return slices.Clone(c.TargetList)
}

func (c *AutoCueConfig) GetMoveList() []string {
	if len(c.MoveList) == 0 {
		return []string{"X", "Y"}
	}
	return slices.Clone(c.MoveList)
}

func (c *AutoCueConfig) GetTargetMoveState() float64 {
	if c.TargetMoveState == nil {
		return 1
	}
	return *c.TargetMoveState
}

func (c *AutoCueConfig) GetTargetOffCenter() bool {
	if c.TargetOffCenter == nil {
		return true
	}
	return *c.TargetOffCenter
}

func (c *AutoCueConfig) GetSpeed() float64 {
	if c.Speed == nil {
		return 300
	}
	return *c.Speed
}

func (c *AutoCueConfig) GetInputRate() float64 {
	if c.InputRate == nil {
		return 100
	}
	return *c.InputRate
}

// GetSpeedPerTick converts speed to units per tick.
func (c *AutoCueConfig) GetSpeedPerTick() float64 {
	return c.GetSpeed() / c.GetInputRate()
}

func (c *AutoCueConfig) GetVelOutput() bool {
	if c.VelOutput == nil {
		return true
	}
	return *c.VelOutput
}

func (c *AutoCueConfig) GetErrorThres() float64 {
	if c.ErrorThres == nil {
		return 1
	}
	return *c.ErrorThres
}

func (c *AutoCueConfig) GetTriggered() bool { return c.Triggered != nil && *c.Triggered }
