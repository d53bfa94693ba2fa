package tactile

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DefaultTimelineTick is the timeline update period.
const DefaultTimelineTick = 10 * time.Millisecond

// TimelineClip drives one actuator continuously over [Start, End) seconds.
type TimelineClip struct {
	Actuator int
	Start    float64
	End      float64
	Envelope AmplitudeEnvelope
	Label    string
}

// covers tells whether the clip is active at t seconds.
func (c *TimelineClip) covers(t float64) bool {
	return t >= c.Start && t < c.End
}

// ClipSpec is the RPC- and JSON-friendly form of a TimelineClip.
type ClipSpec struct {
	Actuator int             `json:"actuator"`
	Start    float64         `json:"start_s"`
	End      float64         `json:"end_s"`
	Label    string          `json:"label"`
	Level    float64         `json:"level,omitempty"` // used when Envelope has no samples
	Envelope SampledEnvelope `json:"envelope"`
}

// Clip converts the spec, using a constant envelope at Level when no samples are given.
func (cs *ClipSpec) Clip() (TimelineClip, error) {
	clip := TimelineClip{Actuator: cs.Actuator, Start: cs.Start, End: cs.End, Label: cs.Label}
	if len(cs.Envelope.Samples) == 0 {
		clip.Envelope = ConstantEnvelope(cs.Level)
		return clip, nil
	}
	env := cs.Envelope
	if err := env.Validate(); err != nil {
		return clip, fmt.Errorf("clip %q: %w", cs.Label, err)
	}
	clip.Envelope = &env
	return clip, nil
}

// amplitudeToIntensity scales an amplitude in [0,1] to the device range 0-15.
func amplitudeToIntensity(a float64) int {
	v := int(math.Round(clamp01(a) * MaxIntensity))
	if v > MaxIntensity {
		v = MaxIntensity
	}
	return v
}

// TimelineLevels returns, for each actuator with any clip, the device
// intensity at time t: the maximum over the clips covering t.
func TimelineLevels(clips []TimelineClip, t float64) map[int]int {
	levels := make(map[int]int)
	for i := range clips {
		c := &clips[i]
		if _, ok := levels[c.Actuator]; !ok {
			levels[c.Actuator] = 0
		}
		if !c.covers(t) {
			continue
		}
		if v := amplitudeToIntensity(c.Envelope.Sample(t - c.Start)); v > levels[c.Actuator] {
			levels[c.Actuator] = v
		}
	}
	return levels
}

// TimelineWorker plays clips by sampling them every Tick and sending only
// the changes since the last tick.
type TimelineWorker struct {
	clips     []TimelineClip
	dev       Device
	frequency int
	Tick      time.Duration
	total     time.Duration
	actuators []int

	sent     map[int]int
	everOn   map[int]bool
	ticks    int
	hwErrors int
	anyTask
}

// NewTimelineWorker validates the clips and prepares a worker. The timeline
// lasts until the end of its last clip.
func NewTimelineWorker(clips []TimelineClip, dev Device, frequency int, tick time.Duration) (*TimelineWorker, error) {
	if dev == nil {
		return nil, fmt.Errorf("timeline needs a device")
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("timeline has no clips")
	}
	if frequency < 0 || frequency > MaxFrequencyCode {
		return nil, fmt.Errorf("frequency code %d out of range [0,%d]", frequency, MaxFrequencyCode)
	}
	if tick <= 0 {
		tick = DefaultTimelineTick
	}
	end := 0.0
	seen := make(map[int]bool)
	tw := &TimelineWorker{dev: dev, frequency: frequency, Tick: tick,
		sent: make(map[int]int), everOn: make(map[int]bool)}
	for i, c := range clips {
		if c.Actuator < 0 || c.Actuator > MaxActuatorID {
			return nil, fmt.Errorf("clip %d (%q): actuator %d out of range", i, c.Label, c.Actuator)
		}
		if c.Start < 0 || !(c.End > c.Start) {
			return nil, fmt.Errorf("clip %d (%q): window [%v,%v) s is invalid", i, c.Label, c.Start, c.End)
		}
		if c.Envelope == nil {
			return nil, fmt.Errorf("clip %d (%q) has no envelope", i, c.Label)
		}
		end = math.Max(end, c.End)
		if !seen[c.Actuator] {
			seen[c.Actuator] = true
			tw.actuators = append(tw.actuators, c.Actuator)
		}
	}
	sort.Ints(tw.actuators)
	tw.clips = make([]TimelineClip, len(clips))
	copy(tw.clips, clips)
	tw.total = time.Duration(end * float64(time.Second))
	tw.init("timeline")
	return tw, nil
}

// Start launches the timeline goroutine.
func (tw *TimelineWorker) Start() error {
	return tw.launch(tw.run)
}

// Actuators returns the sorted ids of all actuators with clips.
func (tw *TimelineWorker) Actuators() []int {
	result := make([]int, len(tw.actuators))
	copy(result, tw.actuators)
	return result
}

// Duration returns the timeline length.
func (tw *TimelineWorker) Duration() time.Duration {
	return tw.total
}

func (tw *TimelineWorker) send(id, intensity int, on bool) {
	if err := tw.dev.SendCommand(id, intensity, tw.frequency, on); err != nil {
		tw.hwErrors++
		ProblemLogger.Printf("timeline: %v", err)
	}
}

// update sends the difference between the levels at t and the last-sent levels.
func (tw *TimelineWorker) update(t float64) {
	levels := TimelineLevels(tw.clips, t)
	for _, id := range tw.actuators {
		level := levels[id]
		if level == tw.sent[id] {
			continue
		}
		if level > 0 {
			tw.send(id, level, true)
			tw.everOn[id] = true
		} else {
			tw.send(id, 0, false)
		}
		tw.sent[id] = level
	}
}

// cleanup sends OFF to every actuator the timeline ever turned on.
func (tw *TimelineWorker) cleanup() {
	for _, id := range tw.actuators {
		if tw.everOn[id] {
			tw.send(id, 0, false)
			tw.sent[id] = 0
		}
	}
}

func (tw *TimelineWorker) result(state TaskState, msg string) TaskResult {
	return TaskResult{OK: state == Completed, State: state, Message: msg,
		StepsRun: tw.ticks, HardwareErrors: tw.hwErrors}
}

func (tw *TimelineWorker) run() (result TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			tw.cleanup()
			result = tw.result(Errored, fmt.Sprintf("timeline loop failed: %v", r))
		}
	}()

	start := time.Now()
	for {
		target := time.Duration(tw.ticks) * tw.Tick
		if target >= tw.total {
			break
		}
		if !tw.sleep(time.Until(start.Add(target))) {
			tw.cleanup()
			return tw.result(Stopped, fmt.Sprintf("stopped by request at %v of %v", target, tw.total))
		}
		tw.update(time.Since(start).Seconds())
		tw.ticks++
	}
	tw.cleanup()
	return tw.result(Completed, fmt.Sprintf("played %v timeline in %d ticks", tw.total, tw.ticks))
}
