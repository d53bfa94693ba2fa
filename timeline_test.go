package tactile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampledEnvelope(t *testing.T) {
	e := SampledEnvelope{Samples: []float64{0, 1, 0}, Rate: 10}
	require.NoError(t, e.Validate())
	tests := []struct {
		t, want float64
	}{
		{-0.1, 0}, {0, 0}, {0.05, 0.5}, {0.1, 1}, {0.15, 0.5}, {0.2, 0}, {0.25, 0}, {3, 0},
	}
	for _, test := range tests {
		assert.InDelta(t, test.want, e.Sample(test.t), 1e-12, "one-shot Sample(%v)", test.t)
	}

	e.Loop = true
	assert.InDelta(t, 0.5, e.Sample(0.35), 1e-12)
	assert.InDelta(t, 1.0, e.Sample(0.4), 1e-12)
	assert.InDelta(t, 0.0, e.Sample(0.25), 1e-12, "wraps from the last sample to the first")

	loud := SampledEnvelope{Samples: []float64{2, -1}, Rate: 1}
	assert.Equal(t, 1.0, loud.Sample(0))
	assert.Equal(t, 0.0, loud.Sample(1))

	single := SampledEnvelope{Samples: []float64{0.6}, Rate: 5}
	assert.Equal(t, 0.6, single.Sample(0))
	assert.Equal(t, 0.0, single.Sample(0.1))

	assert.Error(t, (&SampledEnvelope{Rate: 10}).Validate())
	assert.Error(t, (&SampledEnvelope{Samples: []float64{1}}).Validate())

	assert.Equal(t, 1.0, ConstantEnvelope(1.5).Sample(3))
	assert.Equal(t, 0.25, ConstantEnvelope(0.25).Sample(0))
}

func TestAmplitudeToIntensity(t *testing.T) {
	tests := []struct {
		a    float64
		want int
	}{
		{-1, 0}, {0, 0}, {0.03, 0}, {0.04, 1}, {0.5, 8}, {1, 15}, {7, 15},
	}
	for _, test := range tests {
		if got := amplitudeToIntensity(test.a); got != test.want {
			t.Errorf("amplitudeToIntensity(%v)=%d, want %d", test.a, got, test.want)
		}
	}
}

func TestTimelineLevels(t *testing.T) {
	clips := []TimelineClip{
		{Actuator: 1, Start: 0, End: 1, Envelope: ConstantEnvelope(0.5)},
		{Actuator: 1, Start: 0.5, End: 1.5, Envelope: ConstantEnvelope(1)},
		{Actuator: 2, Start: 1, End: 2, Envelope: ConstantEnvelope(0.2)},
	}
	assert.Equal(t, map[int]int{1: 8, 2: 0}, TimelineLevels(clips, 0.2))
	assert.Equal(t, map[int]int{1: 15, 2: 0}, TimelineLevels(clips, 0.7))
	assert.Equal(t, map[int]int{1: 15, 2: 3}, TimelineLevels(clips, 1.0), "clip windows are half-open")
	assert.Equal(t, map[int]int{1: 0, 2: 3}, TimelineLevels(clips, 1.5))
	assert.Equal(t, map[int]int{1: 0, 2: 0}, TimelineLevels(clips, 2.0))
}

func TestClipSpec(t *testing.T) {
	cs := ClipSpec{Actuator: 4, Start: 0.1, End: 0.3, Label: "tap", Level: 0.7}
	clip, err := cs.Clip()
	require.NoError(t, err)
	assert.Equal(t, 0.7, clip.Envelope.Sample(0))

	cs.Envelope = SampledEnvelope{Samples: []float64{0, 1}, Rate: 10}
	clip, err = cs.Clip()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, clip.Envelope.Sample(0.05), 1e-12)

	cs.Envelope.Rate = 0
	_, err = cs.Clip()
	assert.Error(t, err)
}

func TestTimelineWorker(t *testing.T) {
	dev := NewSimDevice()
	clips := []TimelineClip{
		{Actuator: 3, Start: 0, End: 0.05, Envelope: ConstantEnvelope(1), Label: "a"},
		{Actuator: 4, Start: 0.02, End: 0.08, Envelope: ConstantEnvelope(0.4), Label: "b"},
		{Actuator: 5, Start: 0.01, End: 0.03, Envelope: ConstantEnvelope(0), Label: "silent"},
	}
	tw, err := NewTimelineWorker(clips, dev, 1, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 80*time.Millisecond, tw.Duration())
	assert.Equal(t, []int{3, 4, 5}, tw.Actuators())

	require.NoError(t, tw.Start())
	result, err := tw.Wait(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, Completed, result.State)
	assert.Equal(t, 16, result.StepsRun)

	levels := make(map[int][]int)
	for _, c := range dev.Commands() {
		level := 0
		if c.On {
			level = c.Intensity
		}
		levels[c.ActuatorID] = append(levels[c.ActuatorID], level)
	}
	assert.Equal(t, []int{15, 0, 0}, levels[3], "ON, OFF at clip end, final OFF")
	// Actuator 4's clip ends with the timeline, so the tick loop may or may
	// not see it drop before the final cleanup.
	require.GreaterOrEqual(t, len(levels[4]), 2)
	assert.Equal(t, 6, levels[4][0])
	for _, level := range levels[4][1:] {
		assert.Equal(t, 0, level)
	}
	assert.NotContains(t, levels, 5, "an actuator never turned on gets no commands")
	assert.Empty(t, dev.Active())
}

func TestTimelineStop(t *testing.T) {
	dev := NewSimDevice()
	clips := []TimelineClip{{Actuator: 7, Start: 0, End: 10, Envelope: ConstantEnvelope(0.6)}}
	tw, err := NewTimelineWorker(clips, dev, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimelineTick, tw.Tick)
	require.NoError(t, tw.Start())
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, []int{7}, dev.Active())

	tw.Stop()
	result, err := tw.Wait(time.Second)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, Stopped, result.State)
	assert.Empty(t, dev.Active())
}

func TestNewTimelineWorkerValidation(t *testing.T) {
	dev := NewSimDevice()
	good := TimelineClip{Actuator: 1, Start: 0, End: 1, Envelope: ConstantEnvelope(1)}
	_, err := NewTimelineWorker([]TimelineClip{good}, nil, 0, 0)
	assert.Error(t, err)
	_, err = NewTimelineWorker(nil, dev, 0, 0)
	assert.Error(t, err)
	_, err = NewTimelineWorker([]TimelineClip{good}, dev, 9, 0)
	assert.Error(t, err)

	bad := []TimelineClip{
		{Actuator: 200, Start: 0, End: 1, Envelope: ConstantEnvelope(1)},
		{Actuator: 1, Start: 1, End: 1, Envelope: ConstantEnvelope(1)},
		{Actuator: 1, Start: -1, End: 1, Envelope: ConstantEnvelope(1)},
		{Actuator: 1, Start: 0, End: 1},
	}
	for i, c := range bad {
		_, err := NewTimelineWorker([]TimelineClip{good, c}, dev, 0, 0)
		assert.Error(t, err, "bad clip %d", i)
	}
}
