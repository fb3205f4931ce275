package serialmux

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrBadLine = errors.New("malformed input line")

// InputLine is one report from the pointing device.
type InputLine struct {
	DX     float64
	DY     float64
	Button bool
	// HasButton is false for two-field lines.
	HasButton bool
}

// ParseInputLine parses "dx,dy" or "dx,dy,button". Fields may be separated
// by commas or whitespace. Lines starting with '#' are device comments and
// return ErrBadLine like any other non-sample line.
func ParseInputLine(line string) (InputLine, error) {
	var in InputLine
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return in, fmt.Errorf("%w: %q", ErrBadLine, line)
	}
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != 2 && len(fields) != 3 {
		return in, fmt.Errorf("%w: want 2 or 3 fields, got %d in %q", ErrBadLine, len(fields), line)
	}

	var err error
	if in.DX, err = parseFinite(fields[0]); err != nil {
		return in, fmt.Errorf("%w: dx: %v", ErrBadLine, err)
	}
	if in.DY, err = parseFinite(fields[1]); err != nil {
		return in, fmt.Errorf("%w: dy: %v", ErrBadLine, err)
	}
	if len(fields) == 3 {
		b, err := strconv.Atoi(fields[2])
		if err != nil {
			return in, fmt.Errorf("%w: button: %v", ErrBadLine, err)
		}
		in.Button = b != 0
		in.HasButton = true
	}
	return in, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}
