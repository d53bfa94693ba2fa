package tactile

import (
	"fmt"
	"math"
	"time"
)

// Default clamp range for the per-step burst duration, in ms. The upper bound
// keeps SOA(step) > step so consecutive bursts never overlap.
const (
	DefaultMinStepMs = 20
	DefaultMaxStepMs = 69
)

// MaxTotalSeconds is the longest stroke playback Build accepts.
const MaxTotalSeconds = 600.0

// SOA returns the stimulus onset asynchrony (ms) for a burst of stepMs.
func SOA(stepMs int) float64 {
	return 0.32*float64(stepMs) + 47.3
}

// ClampStepMs forces stepMs into [minMs, maxMs].
func ClampStepMs(stepMs, minMs, maxMs int) int {
	if stepMs < minMs {
		return minMs
	}
	if stepMs > maxMs {
		return maxMs
	}
	return stepMs
}

// ValidateStepRange checks that a clamp range is usable: positive, ordered,
// and with every duration in it shorter than its own SOA.
func ValidateStepRange(minMs, maxMs int) error {
	if minMs < 1 || maxMs < minMs {
		return fmt.Errorf("step duration range [%d,%d] ms is invalid", minMs, maxMs)
	}
	// SOA(d) - d decreases with d, so the upper bound is the binding one.
	if SOA(maxMs) <= float64(maxMs) {
		return fmt.Errorf("max step %d ms is not shorter than its SOA %.2f ms; bursts would overlap",
			maxMs, SOA(maxMs))
	}
	return nil
}

// ScheduleStep is one timed burst: ON at TOn, OFF at TOn+DurationMs.
type ScheduleStep struct {
	TOn        float64          `json:"t_on_ms"` // ms after schedule start
	DurationMs int              `json:"duration_ms"`
	Bursts     []BurstIntensity `json:"bursts"`
	Point      Point            `json:"point"`
}

// OnOffset returns the step's onset as a Duration after schedule start.
func (s ScheduleStep) OnOffset() time.Duration {
	return time.Duration(s.TOn * float64(time.Millisecond))
}

// OffOffset returns when the step's actuators must be turned off.
func (s ScheduleStep) OffOffset() time.Duration {
	return s.OnOffset() + time.Duration(s.DurationMs)*time.Millisecond
}

// ScheduleActuators returns the distinct actuator ids used by steps, in
// order of first use.
func ScheduleActuators(steps []ScheduleStep) []int {
	seen := make(map[int]bool)
	ids := make([]int, 0)
	for _, s := range steps {
		for _, b := range s.Bursts {
			if !seen[b.ActuatorID] {
				seen[b.ActuatorID] = true
				ids = append(ids, b.ActuatorID)
			}
		}
	}
	return ids
}

// ScheduleBuilder turns strokes into schedules for one layout and render
// configuration.
type ScheduleBuilder struct {
	Anchors   *AnchorSet
	Render    RenderConfig
	MinStepMs int
	MaxStepMs int
}

// NewScheduleBuilder creates a ScheduleBuilder with the default step range.
func NewScheduleBuilder(anchors *AnchorSet, rc RenderConfig) *ScheduleBuilder {
	return &ScheduleBuilder{Anchors: anchors, Render: rc,
		MinStepMs: DefaultMinStepMs, MaxStepMs: DefaultMaxStepMs}
}

// Build converts a drawn polyline into a schedule lasting about totalSeconds.
// stepMs is clamped into the builder's range; successive onsets are SOA(stepMs)
// apart. On bad input it returns an empty schedule and an error suitable for
// showing to the user.
func (b *ScheduleBuilder) Build(polyline []Point, stepMs int, totalSeconds float64) ([]ScheduleStep, error) {
	empty := []ScheduleStep{}
	if len(polyline) < 2 {
		return empty, fmt.Errorf("%w (have %d)", ErrTooFewPoints, len(polyline))
	}
	if b.Anchors.Len() == 0 {
		return empty, ErrNoAnchors
	}
	if err := b.Render.Validate(); err != nil {
		return empty, err
	}
	if !(totalSeconds > 0) || totalSeconds > MaxTotalSeconds {
		return empty, fmt.Errorf("%w: have %v s, limit %v s", ErrInvalidDuration, totalSeconds, MaxTotalSeconds)
	}
	minMs, maxMs := b.MinStepMs, b.MaxStepMs
	if minMs == 0 && maxMs == 0 {
		minMs, maxMs = DefaultMinStepMs, DefaultMaxStepMs
	}
	if err := ValidateStepRange(minMs, maxMs); err != nil {
		return empty, err
	}

	step := ClampStepMs(stepMs, minMs, maxMs)
	soa := SOA(step)
	nsamples := int(math.Floor(totalSeconds * 1000 / soa))
	if nsamples < 2 {
		nsamples = 2
	}

	points := Resample(polyline, nsamples)
	steps := make([]ScheduleStep, 0, nsamples)
	for i, p := range points {
		bursts, err := SolveBursts(b.Anchors, p, b.Render)
		if err != nil {
			return empty, err
		}
		steps = append(steps, ScheduleStep{
			TOn:        float64(i) * soa,
			DurationMs: step,
			Bursts:     bursts,
			Point:      p,
		})
	}
	return steps, nil
}

// BuildSchedule is a convenience wrapper for a one-off ScheduleBuilder with
// the default step range.
func BuildSchedule(polyline []Point, anchors *AnchorSet, stepMs int, totalSeconds float64,
	mode RenderMode, av int) ([]ScheduleStep, error) {
	b := NewScheduleBuilder(anchors, RenderConfig{Mode: mode, Gain: av})
	return b.Build(polyline, stepMs, totalSeconds)
}

// MarkerSchedule replays saved phantom markers in order, one marker per
// step, reusing each marker's stored bursts. stepMs is clamped into
// [minMs, maxMs].
func MarkerSchedule(markers []PhantomMarker, stepMs, minMs, maxMs int) ([]ScheduleStep, error) {
	if len(markers) == 0 {
		return []ScheduleStep{}, fmt.Errorf("no phantom markers to play")
	}
	if err := ValidateStepRange(minMs, maxMs); err != nil {
		return []ScheduleStep{}, err
	}
	step := ClampStepMs(stepMs, minMs, maxMs)
	soa := SOA(step)
	steps := make([]ScheduleStep, 0, len(markers))
	for i, m := range markers {
		bursts := make([]BurstIntensity, len(m.Bursts))
		copy(bursts, m.Bursts)
		steps = append(steps, ScheduleStep{TOn: float64(i) * soa, DurationMs: step,
			Bursts: bursts, Point: m.Point})
	}
	return steps, nil
}
