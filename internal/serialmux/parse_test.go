package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInputLine(t *testing.T) {
	tests := []struct {
		line string
		want InputLine
	}{
		{line: "1,2", want: InputLine{DX: 1, DY: 2}},
		{line: " -3.5, 4.25 ", want: InputLine{DX: -3.5, DY: 4.25}},
		{line: "0 0 1", want: InputLine{Button: true, HasButton: true}},
		{line: "5,-5,0\r", want: InputLine{DX: 5, DY: -5, HasButton: true}},
		{line: "2\t3\t7", want: InputLine{DX: 2, DY: 3, Button: true, HasButton: true}},
	}
	for _, tt := range tests {
		got, err := ParseInputLine(tt.line)
		if assert.NoError(t, err, tt.line) {
			assert.Equal(t, tt.want, got, tt.line)
		}
	}
}

func TestParseInputLine_Errors(t *testing.T) {
	for _, line := range []string{
		"",
		"# firmware 1.2",
		"1",
		"1,2,3,4",
		"a,2",
		"1,b",
		"1,2,x",
		"NaN,1",
		"1,+Inf",
	} {
		_, err := ParseInputLine(line)
		assert.ErrorIs(t, err, ErrBadLine, "%q", line)
	}
}
