package trajectory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func ptr(v float64) *float64 { return &v }

func newPlanner(t *testing.T, p Params) *Planner {
	t.Helper()
	pl, err := New(p)
	require.NoError(t, err)
	return pl
}

func TestConstant_Magnitudes(t *testing.T) {
	tests := []struct {
		name   string
		target []float64
		want   float64
	}{
		{"far target moves at speed", []float64{100, 0}, 10},
		{"near target moves exactly the distance", []float64{3, 4}, 5},
		{"within error threshold holds", []float64{0.6, 0.8}, 0},
		{"on target holds", []float64{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl := newPlanner(t, Params{Profile: Constant, Speed: 10, ErrorThres: 1})
			vel, err := pl.Step([]float64{0, 0}, tt.target, true)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, floats.Norm(vel, 2), 1e-9)
		})
	}
}

func TestConstant_Direction(t *testing.T) {
	pl := newPlanner(t, Params{Profile: Constant, Speed: 5})
	vel, err := pl.Step([]float64{10, 10}, []float64{10, -90}, true)
	require.NoError(t, err)
	assert.InDelta(t, 0, vel[0], 1e-12)
	assert.InDelta(t, -5, vel[1], 1e-12)
}

// drive applies velocity commands until the cursor is within thres of the
// target, returning the number of ticks used and every command magnitude.
func drive(t *testing.T, pl *Planner, cursor, target []float64, thres float64, limit int) (int, []float64, []float64) {
	t.Helper()
	var mags []float64
	for n := 0; n <= limit; n++ {
		if floats.Distance(cursor, target, 2) <= thres {
			return n, mags, cursor
		}
		vel, err := pl.Step(cursor, target, true)
		require.NoError(t, err)
		mags = append(mags, floats.Norm(vel, 2))
		floats.Add(cursor, vel)
	}
	t.Fatalf("cursor did not reach %v within %d ticks", target, limit)
	return 0, nil, nil
}

func TestRamped_FloorAndCompletion(t *testing.T) {
	cases := []struct {
		target   []float64
		speed    float64
		minSpeed float64
	}{
		{[]float64{60, 80}, 10, 3},
		{[]float64{300, 0}, 12, 4},
		{[]float64{0, -73}, 7, 2},
		{[]float64{212.132, 212.132}, 15, 5},
		{[]float64{22.9, 0}, 25, 0.5},
		{[]float64{0, 74}, 25, 0.5},
		{[]float64{-9, 0}, 10, 1},
		{[]float64{30, 40}, 20, 0.5},
		{[]float64{30, 40}, 11, 2},
	}
	for _, profile := range []Profile{Triangular, Gaussian} {
		for _, c := range cases {
			t.Run(profile.String(), func(t *testing.T) {
				const thres = 0.5
				pl := newPlanner(t, Params{Profile: profile, Speed: c.speed, MinSpeed: ptr(c.minSpeed), ErrorThres: thres})

				D := floats.Norm(c.target, 2)
				bound := int(math.Ceil(D/c.speed)) + 1
				n, mags, _ := drive(t, pl, []float64{0, 0}, append([]float64(nil), c.target...), thres, 4*bound)
				assert.LessOrEqual(t, n, bound, "segment of length %g at speed %g", D, c.speed)

				remaining := D
				for i, m := range mags {
					floor := math.Min(c.minSpeed, remaining)
					assert.GreaterOrEqual(t, m, floor-1e-9, "tick %d", i)
					assert.LessOrEqual(t, m, remaining+1e-9, "tick %d overshoots", i)
					remaining -= m
				}
			})
		}
	}
}

func TestTriangular_PeaksMidSegment(t *testing.T) {
	pl := newPlanner(t, Params{Profile: Triangular, Speed: 10, MinSpeed: ptr(3), ErrorThres: 0.5})
	_, mags, _ := drive(t, pl, []float64{0, 0}, []float64{60, 80}, 0.5, 50)
	require.Len(t, mags, 10)
	assert.InDelta(t, 4.4, mags[0], 1e-9)
	assert.InDelta(t, 15.6, mags[4], 1e-9)
	assert.InDelta(t, 15.6, mags[5], 1e-9)
	assert.InDelta(t, 4.4, mags[9], 1e-6)
	assert.InDelta(t, 100.0, floats.Sum(mags), 1e-6)
}

func TestRamped_NewSegmentWhenTargetMoves(t *testing.T) {
	pl := newPlanner(t, Params{Profile: Triangular, Speed: 10, MinSpeed: ptr(3), ErrorThres: 0.5})
	_, _, cursor := drive(t, pl, []float64{0, 0}, []float64{60, 80}, 0.5, 50)
	assert.Greater(t, pl.State().Iter, 0)

	// a jitter below the threshold keeps the old anchor
	_, err := pl.Step(cursor, []float64{60.2, 80}, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, pl.State().MoveStart)

	next := []float64{-40, 80}
	_, err = pl.Step(cursor, next, true)
	require.NoError(t, err)
	st := pl.State()
	assert.Equal(t, cursor, st.MoveStart)
	assert.Equal(t, next, st.TargetLast)
	assert.Equal(t, 1, st.Iter, "counter restarts while the cursor sits on the new anchor")
}

func TestInactiveTarget(t *testing.T) {
	t.Run("off center heads to origin", func(t *testing.T) {
		pl := newPlanner(t, Params{Profile: Constant, Speed: 10, OffCenter: true})
		vel, err := pl.Step([]float64{300, 0}, []float64{300, 0}, false)
		require.NoError(t, err)
		assert.InDelta(t, -10, vel[0], 1e-12)
		assert.InDelta(t, 0, vel[1], 1e-12)
	})
	t.Run("holds without off center", func(t *testing.T) {
		pl := newPlanner(t, Params{Profile: Constant, Speed: 10})
		vel, err := pl.Step([]float64{300, 0}, []float64{0, 0}, false)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0}, vel)
		assert.Nil(t, pl.State().TargetLast)
	})
}

func TestPositionOutput(t *testing.T) {
	pl := newPlanner(t, Params{Profile: Constant, Speed: 10, PositionOutput: true})
	pos, err := pl.Step([]float64{5, 5}, []float64{5, 105}, true)
	require.NoError(t, err)
	assert.InDelta(t, 5, pos[0], 1e-12)
	assert.InDelta(t, 15, pos[1], 1e-12)

	assert.Equal(t, []float64{5, 5}, pl.Hold([]float64{5, 5}))
}

func TestPD(t *testing.T) {
	pl := newPlanner(t, Params{Profile: PD, Speed: 1, Kp: ptr(0.5), Kd: ptr(0.1)})

	vel, err := pl.Step([]float64{0, 0}, []float64{10, 0}, true)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, vel[0], 1e-12) // 0.5*10 + 0.1*(10-0)

	vel, err = pl.Step([]float64{6, 0}, []float64{10, 0}, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.4, vel[0], 1e-12) // 0.5*4 + 0.1*(4-10)
	assert.Equal(t, []float64{4, 0}, pl.State().ErrLast)
}

func TestStep_DimensionMismatch(t *testing.T) {
	pl := newPlanner(t, Params{Profile: Constant, Speed: 1})
	_, err := pl.Step([]float64{0, 0}, []float64{1, 2, 3}, true)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr error
	}{
		{"triangular without min speed", Params{Profile: Triangular, Speed: 1}, ErrMissingParam},
		{"gaussian without min speed", Params{Profile: Gaussian, Speed: 1}, ErrMissingParam},
		{"PD without kd", Params{Profile: PD, Speed: 1, Kp: ptr(1)}, ErrMissingParam},
		{"unknown profile", Params{Profile: Profile(9), Speed: 1}, ErrUnknownProfile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := New(Params{Profile: Constant})
	assert.Error(t, err, "zero speed")

	for _, profile := range []Profile{Triangular, Gaussian} {
		_, err = New(Params{Profile: profile, Speed: 10, MinSpeed: ptr(0), ErrorThres: 0.5})
		assert.Error(t, err, "%s with zero min speed", profile)
	}
}

func TestTriangular_ShortSegmentsComplete(t *testing.T) {
	tests := []struct {
		name  string
		dist  float64
		ticks int
	}{
		{"single tick", 22.9, 1},
		{"three ticks", 74, 3},
		{"exact multiple", 75, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl := newPlanner(t, Params{Profile: Triangular, Speed: 25, MinSpeed: ptr(0.5), ErrorThres: 0.5})
			n, mags, _ := drive(t, pl, []float64{0, 0}, []float64{tt.dist, 0}, 0.5, 100)
			assert.Equal(t, tt.ticks, n)
			assert.InDelta(t, tt.dist, floats.Sum(mags), 1e-6)
		})
	}
}

func TestParseProfile(t *testing.T) {
	for name, want := range map[string]Profile{"constant": Constant, "Triangular": Triangular, "gaussian": Gaussian, "PD": PD} {
		got, err := ParseProfile(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseProfile("sinusoid")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}
