// Package records encodes and decodes the per-tick records exchanged over the
// stream store. Every numeric field is a little-endian fixed-width value; sync
// metadata is an opaque JSON blob carried through unchanged.
package records

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrMissingField = errors.New("record field missing")
	ErrFieldSize    = errors.New("record field has wrong size")
)

// Fields is the wire form of a record: field name to payload.
type Fields = map[string][]byte

// DType is the element type of a numeric field.
type DType int

const (
	Int16 DType = iota
	Int32
	Float32
	Float64
	Uint8
	Uint32
	Uint64
)

// ParseDType accepts the numpy-style names int16, int32, float32, float64,
// uint8, uint32 and uint64.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	case "uint8":
		return Uint8, nil
	case "uint32":
		return Uint32, nil
	case "uint64":
		return Uint64, nil
	}
	return 0, fmt.Errorf("unsupported dtype %q", s)
}

func (d DType) String() string {
	switch d {
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Uint8:
		return "uint8"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// Size is the encoded width in bytes.
func (d DType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int16:
		return 2
	case Int32, Float32, Uint32:
		return 4
	default:
		return 8
	}
}

// PutValue writes v into b as dtype d. b must be at least d.Size() long.
func PutValue(b []byte, d DType, v float64) {
	switch d {
	case Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Uint8:
		b[0] = uint8(v)
	case Uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case Uint64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	default:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// Value reads one dtype d value from the start of b.
func Value(b []byte, d DType) float64 {
	switch d {
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Uint8:
		return float64(b[0])
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b))
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
}

// EncodeValues packs vs back to back as dtype d.
func EncodeValues(d DType, vs ...float64) []byte {
	n := d.Size()
	b := make([]byte, n*len(vs))
	for i, v := range vs {
		PutValue(b[i*n:], d, v)
	}
	return b
}

// DecodeValues unpacks a field holding whole dtype d values.
func DecodeValues(b []byte, d DType) ([]float64, error) {
	n := d.Size()
	if len(b)%n != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %s", ErrFieldSize, len(b), d)
	}
	vs := make([]float64, len(b)/n)
	for i := range vs {
		vs[i] = Value(b[i*n:], d)
	}
	return vs, nil
}

// Field decodes a single-value field.
func Field(f Fields, key string, d DType) (float64, error) {
	b, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingField, key)
	}
	if len(b) != d.Size() {
		return 0, fmt.Errorf("%w: %q is %d bytes, want %d (%s)", ErrFieldSize, key, len(b), d.Size(), d)
	}
	return Value(b, d), nil
}

// Codec knows the names of the sync and timestamp fields.
type Codec struct {
	SyncKey string
	TimeKey string
}

// DefaultCodec uses "sync" and "ts".
var DefaultCodec = Codec{SyncKey: "sync", TimeKey: "ts"}

// Meta is carried by every published record.
type Meta struct {
	Seq  uint32
	Sync json.RawMessage
	TS   uint64
}

func (c Codec) putMeta(f Fields, m Meta) {
	f["i"] = EncodeValues(Uint32, float64(m.Seq))
	f[c.SyncKey] = syncBytes(m.Sync)
	f[c.TimeKey] = EncodeValues(Uint64, 0)
	binary.LittleEndian.PutUint64(f[c.TimeKey], m.TS)
}

func (c Codec) meta(f Fields) (Meta, error) {
	var m Meta
	seq, err := Field(f, "i", Uint32)
	if err != nil {
		return m, err
	}
	m.Seq = uint32(seq)
	if m.Sync, err = c.sync(f); err != nil {
		return m, err
	}
	m.TS, err = c.timestamp(f)
	return m, err
}

func (c Codec) sync(f Fields) (json.RawMessage, error) {
	b, ok := f[c.SyncKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingField, c.SyncKey)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%q is not valid JSON", c.SyncKey)
	}
	return json.RawMessage(append([]byte(nil), b...)), nil
}

func (c Codec) timestamp(f Fields) (uint64, error) {
	b, ok := f[c.TimeKey]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingField, c.TimeKey)
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: %q is %d bytes, want 8", ErrFieldSize, c.TimeKey, len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// SyncOf returns the sync blob of any record, or an empty object when the
// field is missing or not valid JSON.
func (c Codec) SyncOf(f Fields) json.RawMessage {
	s, err := c.sync(f)
	if err != nil {
		return json.RawMessage("{}")
	}
	return s
}

func syncBytes(s json.RawMessage) []byte {
	if len(s) == 0 {
		return []byte("{}")
	}
	return append([]byte(nil), s...)
}

// WithSyncField returns s with key set to value. An empty s is treated as an
// empty object.
func WithSyncField(s json.RawMessage, key string, value any) (json.RawMessage, error) {
	m := map[string]any{}
	if len(s) > 0 {
		if err := json.Unmarshal(s, &m); err != nil {
			return nil, fmt.Errorf("decode sync: %w", err)
		}
	}
	m[key] = value
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode sync: %w", err)
	}
	return b, nil
}

// Position is a cursor or target record.
type Position struct {
	X      float32
	Y      float32
	Radius float32
	State  int32
	Meta
}

func (c Codec) EncodePosition(p Position) Fields {
	f := Fields{
		"X":      EncodeValues(Float32, float64(p.X)),
		"Y":      EncodeValues(Float32, float64(p.Y)),
		"radius": EncodeValues(Float32, float64(p.Radius)),
		"state":  EncodeValues(Int32, float64(p.State)),
	}
	c.putMeta(f, p.Meta)
	return f
}

func (c Codec) DecodePosition(f Fields) (Position, error) {
	var p Position
	vals, err := float32Fields(f, "X", "Y", "radius")
	if err != nil {
		return p, err
	}
	p.X, p.Y, p.Radius = vals[0], vals[1], vals[2]
	state, err := Field(f, "state", Int32)
	if err != nil {
		return p, err
	}
	p.State = int32(state)
	p.Meta, err = c.meta(f)
	return p, err
}

// StateChange marks a trial phase transition.
type StateChange struct {
	Label string
	Meta
}

func (c Codec) EncodeStateChange(s StateChange) Fields {
	f := Fields{"state": []byte(s.Label)}
	c.putMeta(f, s.Meta)
	return f
}

func (c Codec) DecodeStateChange(f Fields) (StateChange, error) {
	var s StateChange
	b, ok := f["state"]
	if !ok {
		return s, fmt.Errorf("%w: %q", ErrMissingField, "state")
	}
	s.Label = string(b)
	var err error
	s.Meta, err = c.meta(f)
	return s, err
}

// Outcome is the result of a finished trial.
type Outcome struct {
	Success bool
	Meta
}

func (c Codec) EncodeOutcome(o Outcome) Fields {
	var v float64
	if o.Success {
		v = 1
	}
	f := Fields{"success": EncodeValues(Uint8, v)}
	c.putMeta(f, o.Meta)
	return f
}

func (c Codec) DecodeOutcome(f Fields) (Outcome, error) {
	var o Outcome
	v, err := Field(f, "success", Uint8)
	if err != nil {
		return o, err
	}
	o.Success = v != 0
	o.Meta, err = c.meta(f)
	return o, err
}

// TrialInfo describes a newly started trial.
type TrialInfo struct {
	TargetX      float32
	TargetY      float32
	StartX       float32
	StartY       float32
	ReachAngle   float32
	CondID       string
	TargetRadius float32
	CursorRadius float32
	DwellTime    float32 // seconds
	Meta
}

var trialInfoFloats = []string{"target_X", "target_Y", "start_X", "start_Y", "reach_angle", "target_radius", "cursor_radius", "dwell_time"}

func (c Codec) EncodeTrialInfo(t TrialInfo) Fields {
	vals := []float32{t.TargetX, t.TargetY, t.StartX, t.StartY, t.ReachAngle, t.TargetRadius, t.CursorRadius, t.DwellTime}
	f := make(Fields, len(vals)+4)
	for i, k := range trialInfoFloats {
		f[k] = EncodeValues(Float32, float64(vals[i]))
	}
	f["cond_id"] = []byte(t.CondID)
	c.putMeta(f, t.Meta)
	return f
}

func (c Codec) DecodeTrialInfo(f Fields) (TrialInfo, error) {
	var t TrialInfo
	vals, err := float32Fields(f, trialInfoFloats...)
	if err != nil {
		return t, err
	}
	t.TargetX, t.TargetY, t.StartX, t.StartY = vals[0], vals[1], vals[2], vals[3]
	t.ReachAngle, t.TargetRadius, t.CursorRadius, t.DwellTime = vals[4], vals[5], vals[6], vals[7]
	cond, ok := f["cond_id"]
	if !ok {
		return t, fmt.Errorf("%w: %q", ErrMissingField, "cond_id")
	}
	t.CondID = string(cond)
	t.Meta, err = c.meta(f)
	return t, err
}

func float32Fields(f Fields, keys ...string) ([]float32, error) {
	out := make([]float32, len(keys))
	for i, k := range keys {
		v, err := Field(f, k, Float32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}

// InputSample is one raw pointing-device displacement. Seq is optional on
// the wire; HasSeq reports whether it was present.
type InputSample struct {
	DX     float64
	DY     float64
	Seq    uint64
	HasSeq bool
	Sync   json.RawMessage
	TS     uint64
}

// EncodeInput writes the sample with both displacements packed into a
// "samples" field of dtype d.
func (c Codec) EncodeInput(s InputSample, d DType) Fields {
	f := Fields{
		"samples": EncodeValues(d, s.DX, s.DY),
		c.SyncKey: syncBytes(s.Sync),
		c.TimeKey: make([]byte, 8),
	}
	binary.LittleEndian.PutUint64(f[c.TimeKey], s.TS)
	if s.HasSeq {
		f["i"] = make([]byte, 8)
		binary.LittleEndian.PutUint64(f["i"], s.Seq)
	}
	return f
}

// DecodeInput reads a sample. The timestamp is optional; a missing sync
// field decodes as an empty object.
func (c Codec) DecodeInput(f Fields, d DType) (InputSample, error) {
	var s InputSample
	b, ok := f["samples"]
	if !ok {
		return s, fmt.Errorf("%w: %q", ErrMissingField, "samples")
	}
	if len(b) != 2*d.Size() {
		return s, fmt.Errorf("%w: samples is %d bytes, want two %s values", ErrFieldSize, len(b), d)
	}
	s.DX = Value(b, d)
	s.DY = Value(b[d.Size():], d)

	if _, ok := f[c.SyncKey]; ok {
		sync, err := c.sync(f)
		if err != nil {
			return s, err
		}
		s.Sync = sync
	} else {
		s.Sync = json.RawMessage("{}")
	}
	if _, ok := f[c.TimeKey]; ok {
		ts, err := c.timestamp(f)
		if err != nil {
			return s, err
		}
		s.TS = ts
	}
	if raw, ok := f["i"]; ok {
		switch len(raw) {
		case 4:
			s.Seq = uint64(binary.LittleEndian.Uint32(raw))
		case 8:
			s.Seq = binary.LittleEndian.Uint64(raw)
		default:
			return s, fmt.Errorf("%w: i is %d bytes", ErrFieldSize, len(raw))
		}
		s.HasSeq = true
	}
	return s, nil
}

// Triggered reports whether a trigger record signals movement: any non-zero
// byte in its "samples" field. A record without samples is not a trigger.
func Triggered(f Fields) bool {
	for _, b := range f["samples"] {
		if b > 0 {
			return true
		}
	}
	return false
}

// Kinematics is one trajectory command.
type Kinematics struct {
	Values []float64
	Seq    uint64
	Sync   json.RawMessage
	TS     uint64
}

// KinematicsLayout says how Values are laid out. With VectorName set all
// values go into one field; otherwise Names[i] carries Values[i].
type KinematicsLayout struct {
	VectorName string
	Names      []string
	DType      DType
}

func (c Codec) EncodeKinematics(k Kinematics, l KinematicsLayout) (Fields, error) {
	f := Fields{}
	if l.VectorName != "" {
		f[l.VectorName] = EncodeValues(l.DType, k.Values...)
	} else {
		if len(l.Names) != len(k.Values) {
			return nil, fmt.Errorf("kinematics has %d values for %d names", len(k.Values), len(l.Names))
		}
		for i, n := range l.Names {
			f[n] = EncodeValues(l.DType, k.Values[i])
		}
	}
	f[c.SyncKey] = syncBytes(k.Sync)
	f[c.TimeKey] = make([]byte, 8)
	binary.LittleEndian.PutUint64(f[c.TimeKey], k.TS)
	f["i"] = make([]byte, 8)
	binary.LittleEndian.PutUint64(f["i"], k.Seq)
	return f, nil
}

func (c Codec) DecodeKinematics(f Fields, l KinematicsLayout) (Kinematics, error) {
	var k Kinematics
	if l.VectorName != "" {
		b, ok := f[l.VectorName]
		if !ok {
			return k, fmt.Errorf("%w: %q", ErrMissingField, l.VectorName)
		}
		vs, err := DecodeValues(b, l.DType)
		if err != nil {
			return k, err
		}
		k.Values = vs
	} else {
		k.Values = make([]float64, len(l.Names))
		for i, n := range l.Names {
			v, err := Field(f, n, l.DType)
			if err != nil {
				return k, err
			}
			k.Values[i] = v
		}
	}
	var err error
	if k.Sync, err = c.sync(f); err != nil {
		return k, err
	}
	if k.TS, err = c.timestamp(f); err != nil {
		return k, err
	}
	raw, ok := f["i"]
	if !ok {
		return k, fmt.Errorf("%w: %q", ErrMissingField, "i")
	}
	if len(raw) != 8 {
		return k, fmt.Errorf("%w: i is %d bytes, want 8", ErrFieldSize, len(raw))
	}
	k.Seq = binary.LittleEndian.Uint64(raw)
	return k, nil
}
