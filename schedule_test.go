package tactile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitSquare() *AnchorSet {
	as, _ := NewAnchorSet("square", []ActuatorAnchor{
		{ID: 0, X: 0, Y: 0},
		{ID: 1, X: 1, Y: 0},
		{ID: 2, X: 0, Y: 1},
		{ID: 3, X: 1, Y: 1},
	})
	return as
}

func TestSOA(t *testing.T) {
	assert.InDelta(t, 53.7, SOA(20), 1e-9)
	assert.InDelta(t, 69.38, SOA(69), 1e-9)
	for step := DefaultMinStepMs; step <= DefaultMaxStepMs; step++ {
		if SOA(step) <= float64(step) {
			t.Errorf("SOA(%d)=%.2f ms does not exceed the step; bursts would overlap", step, SOA(step))
		}
	}
	// 70 ms is the first step where bursts would overlap.
	assert.Less(t, SOA(70), 70.0)
}

func TestClampStepMs(t *testing.T) {
	tests := []struct{ in, want int }{
		{-5, 20}, {0, 20}, {20, 20}, {45, 45}, {69, 69}, {70, 69}, {1000, 69},
	}
	for _, test := range tests {
		if got := ClampStepMs(test.in, DefaultMinStepMs, DefaultMaxStepMs); got != test.want {
			t.Errorf("ClampStepMs(%d)=%d, want %d", test.in, got, test.want)
		}
	}
}

func TestValidateStepRange(t *testing.T) {
	assert.NoError(t, ValidateStepRange(20, 69))
	assert.NoError(t, ValidateStepRange(1, 60))
	assert.Error(t, ValidateStepRange(20, 70), "SOA(70) < 70")
	assert.Error(t, ValidateStepRange(0, 50))
	assert.Error(t, ValidateStepRange(40, 30))
}

func TestBuildSchedule(t *testing.T) {
	line := []Point{{0.1, 0.5}, {0.9, 0.5}}
	steps, err := BuildSchedule(line, unitSquare(), 60, 1.0, Phantom2, 10)
	require.NoError(t, err)

	soa := SOA(60) // 66.5 ms
	nwant := int(math.Floor(1000 / soa))
	require.Len(t, steps, nwant)
	for i, s := range steps {
		assert.Equal(t, 60, s.DurationMs)
		assert.Len(t, s.Bursts, 2)
		inRange(t, s.Bursts, "schedule step")
		if i > 0 {
			gap := s.TOn - steps[i-1].TOn
			if !(gap > 0) || math.Abs(gap-soa) > 1e-9 {
				t.Errorf("steps %d,%d onsets %.3f and %.3f are %.3f apart, want %.3f",
					i-1, i, steps[i-1].TOn, s.TOn, gap, soa)
			}
			if s.OnOffset() < steps[i-1].OffOffset() {
				t.Errorf("step %d starts before step %d ends", i, i-1)
			}
		}
	}
	assert.Equal(t, 0.0, steps[0].TOn)
	assert.Equal(t, line[0], steps[0].Point)
	assert.Equal(t, line[1], steps[len(steps)-1].Point)
	assert.Equal(t, []int{0, 2, 1, 3}, ScheduleActuators(steps))
}

func TestBuildScheduleClamps(t *testing.T) {
	line := []Point{{0, 0}, {1, 1}}
	steps, err := BuildSchedule(line, unitSquare(), 200, 0.5, Nearest1, 15)
	require.NoError(t, err)
	assert.Equal(t, 69, steps[0].DurationMs)
	assert.Len(t, steps, int(math.Floor(500/SOA(69))))

	// Very short total time still yields 2 steps.
	steps, err = BuildSchedule(line, unitSquare(), 5, 0.01, Nearest1, 15)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
	assert.Equal(t, 20, steps[0].DurationMs)

	b := NewScheduleBuilder(unitSquare(), RenderConfig{Mode: Phantom3, Gain: 9})
	b.MaxStepMs = 50
	steps, err = b.Build(line, 60, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 50, steps[0].DurationMs)
}

func TestBuildScheduleErrors(t *testing.T) {
	line := []Point{{0, 0}, {1, 1}}
	empty, _ := NewAnchorSet("empty", nil)
	tests := []struct {
		name    string
		poly    []Point
		anchors *AnchorSet
		total   float64
		mode    RenderMode
		av      int
		want    error
	}{
		{"one point", []Point{{0, 0}}, unitSquare(), 1, Phantom2, 10, ErrTooFewPoints},
		{"no anchors", line, empty, 1, Phantom2, 10, ErrNoAnchors},
		{"nil anchors", line, nil, 1, Phantom2, 10, ErrNoAnchors},
		{"zero time", line, unitSquare(), 0, Phantom2, 10, ErrInvalidDuration},
		{"NaN time", line, unitSquare(), math.NaN(), Phantom2, 10, ErrInvalidDuration},
		{"Inf time", line, unitSquare(), math.Inf(1), Phantom2, 10, ErrInvalidDuration},
		{"huge time", line, unitSquare(), 1e13, Phantom2, 10, ErrInvalidDuration},
		{"over limit", line, unitSquare(), MaxTotalSeconds + 1, Phantom2, 10, ErrInvalidDuration},
		{"bad mode", line, unitSquare(), 1, 0, 10, ErrInvalidMode},
		{"bad gain", line, unitSquare(), 1, Phantom2, 20, ErrInvalidIntensity},
	}
	for _, test := range tests {
		steps, err := BuildSchedule(test.poly, test.anchors, 40, test.total, test.mode, test.av)
		assert.ErrorIs(t, err, test.want, test.name)
		assert.NotNil(t, steps, test.name)
		assert.Empty(t, steps, test.name)
	}
}

func TestMarkerSchedule(t *testing.T) {
	markers := []PhantomMarker{
		{ID: 1, Point: Point{0.1, 0.1}, Bursts: []BurstIntensity{{0, 9}, {1, 3}}},
		{ID: 2, Point: Point{0.9, 0.9}, Bursts: []BurstIntensity{{3, 12}}},
	}
	steps, err := MarkerSchedule(markers, 30, DefaultMinStepMs, DefaultMaxStepMs)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, markers[0].Bursts, steps[0].Bursts)
	assert.Equal(t, markers[1].Point, steps[1].Point)
	assert.InDelta(t, SOA(30), steps[1].TOn, 1e-9)

	steps[0].Bursts[0].Intensity = 1
	assert.Equal(t, 9, markers[0].Bursts[0].Intensity, "schedule must not alias marker bursts")

	_, err = MarkerSchedule(nil, 30, DefaultMinStepMs, DefaultMaxStepMs)
	assert.Error(t, err)

	// The configured range applies, not the default one.
	steps, err = MarkerSchedule(markers, 65, 20, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, steps[0].DurationMs)
	assert.InDelta(t, SOA(50), steps[1].TOn, 1e-9)
	_, err = MarkerSchedule(markers, 30, 20, 70)
	assert.Error(t, err)
}

func TestBuildScheduleLongest(t *testing.T) {
	line := []Point{{0, 0}, {1, 1}}
	steps, err := BuildSchedule(line, Grid3x3(), 69, MaxTotalSeconds, Nearest1, 8)
	require.NoError(t, err)
	assert.Len(t, steps, int(math.Floor(MaxTotalSeconds*1000/SOA(69))))
}
