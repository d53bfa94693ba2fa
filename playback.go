package tactile

import (
	"container/heap"
	"fmt"
	"time"
)

// DefaultPollInterval is the granularity of the playback wait loop.
const DefaultPollInterval = 500 * time.Microsecond

// Observer is told about each step just before its ON commands are sent.
// It is called synchronously from the playback goroutine, so it must return
// quickly; hardware state has not yet changed when it is called.
type Observer interface {
	StepStarted(index int, bursts []BurstIntensity, point Point)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(index int, bursts []BurstIntensity, point Point)

// StepStarted calls f.
func (f ObserverFunc) StepStarted(index int, bursts []BurstIntensity, point Point) {
	f(index, bursts, point)
}

// offEvent is a pending OFF command.
type offEvent struct {
	at  time.Duration // since schedule start
	id  int
	seq int
}

// offQueue is a min-heap of offEvents ordered by time, then by insertion.
type offQueue []offEvent

func (q offQueue) Len() int { return len(q) }
func (q offQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q offQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *offQueue) Push(x any)   { *q = append(*q, x.(offEvent)) }
func (q *offQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// pendingOffs tracks the latest scheduled OFF for each actuator. Turning an
// actuator ON again before its earlier OFF supersedes that earlier OFF, so a
// stale OFF can never cut a newer burst short.
type pendingOffs struct {
	queue  offQueue
	latest map[int]int // actuator id -> seq of its live offEvent
	seq    int
}

func newPendingOffs() *pendingOffs {
	return &pendingOffs{latest: make(map[int]int)}
}

func (p *pendingOffs) add(id int, at time.Duration) {
	p.seq++
	p.latest[id] = p.seq
	heap.Push(&p.queue, offEvent{at: at, id: id, seq: p.seq})
}

// discardStale pops superseded events off the top of the heap.
func (p *pendingOffs) discardStale() {
	for p.queue.Len() > 0 {
		top := p.queue[0]
		if p.latest[top.id] == top.seq {
			return
		}
		heap.Pop(&p.queue)
	}
}

// next returns the earliest live OFF time.
func (p *pendingOffs) next() (time.Duration, bool) {
	p.discardStale()
	if p.queue.Len() == 0 {
		return 0, false
	}
	return p.queue[0].at, true
}

// popDue removes and returns the ids of live events due at or before now.
func (p *pendingOffs) popDue(now time.Duration) []int {
	var ids []int
	for {
		p.discardStale()
		if p.queue.Len() == 0 || p.queue[0].at > now {
			return ids
		}
		e := heap.Pop(&p.queue).(offEvent)
		delete(p.latest, e.id)
		ids = append(ids, e.id)
	}
}

// popAll removes every live event regardless of time, earliest first.
func (p *pendingOffs) popAll() []int {
	var ids []int
	for {
		p.discardStale()
		if p.queue.Len() == 0 {
			return ids
		}
		e := heap.Pop(&p.queue).(offEvent)
		delete(p.latest, e.id)
		ids = append(ids, e.id)
	}
}

func (p *pendingOffs) empty() bool {
	return len(p.latest) == 0
}

// PlaybackWorker executes one schedule against a Device in real time.
// Each worker runs at most once: Idle -> Running -> Completed|Stopped|Errored.
type PlaybackWorker struct {
	steps        []ScheduleStep
	dev          Device
	frequency    int
	observer     Observer
	PollInterval time.Duration

	start     time.Time
	pending   *pendingOffs
	stepsRun  int
	hwErrors  int
	actuators []int
	anyTask
}

// NewPlaybackWorker validates the schedule and prepares a worker for it.
// Onsets must be non-decreasing and durations non-negative.
func NewPlaybackWorker(steps []ScheduleStep, dev Device, frequency int, observer Observer) (*PlaybackWorker, error) {
	if dev == nil {
		return nil, fmt.Errorf("playback needs a device")
	}
	if frequency < 0 || frequency > MaxFrequencyCode {
		return nil, fmt.Errorf("frequency code %d out of range [0,%d]", frequency, MaxFrequencyCode)
	}
	for i, s := range steps {
		if s.DurationMs < 0 {
			return nil, fmt.Errorf("step %d has negative duration %d ms", i, s.DurationMs)
		}
		if i > 0 && s.TOn < steps[i-1].TOn {
			return nil, fmt.Errorf("step %d onset %.3f ms precedes step %d onset %.3f ms",
				i, s.TOn, i-1, steps[i-1].TOn)
		}
	}
	w := &PlaybackWorker{
		steps:        steps,
		dev:          dev,
		frequency:    frequency,
		observer:     observer,
		PollInterval: DefaultPollInterval,
		pending:      newPendingOffs(),
		actuators:    ScheduleActuators(steps),
	}
	w.init("playback")
	return w, nil
}

// Start launches the playback goroutine.
func (w *PlaybackWorker) Start() error {
	return w.launch(w.run)
}

// Actuators returns every actuator id the schedule can turn on.
func (w *PlaybackWorker) Actuators() []int {
	result := make([]int, len(w.actuators))
	copy(result, w.actuators)
	return result
}

// NSteps returns the schedule length.
func (w *PlaybackWorker) NSteps() int {
	return len(w.steps)
}

func (w *PlaybackWorker) elapsed() time.Duration {
	return time.Since(w.start)
}

func (w *PlaybackWorker) send(id, intensity int, on bool) {
	if err := w.dev.SendCommand(id, intensity, w.frequency, on); err != nil {
		w.hwErrors++
		ProblemLogger.Printf("playback: %v", err)
	}
}

// flushDue sends OFF for every pending event whose time has passed.
func (w *PlaybackWorker) flushDue() {
	for _, id := range w.pending.popDue(w.elapsed()) {
		w.send(id, 0, false)
	}
}

// waitUntil polls until the schedule clock reaches t, flushing due OFFs as
// it goes. It returns false if a stop request arrived first.
func (w *PlaybackWorker) waitUntil(t time.Duration) bool {
	for {
		w.flushDue()
		remaining := t - w.elapsed()
		if remaining <= 0 {
			return !w.stopRequested()
		}
		if remaining > w.PollInterval {
			remaining = w.PollInterval
		}
		if !w.sleep(remaining) {
			return false
		}
	}
}

// abandon turns off every actuator with a pending OFF, without waiting.
func (w *PlaybackWorker) abandon() {
	for _, id := range w.pending.popAll() {
		w.send(id, 0, false)
	}
}

func (w *PlaybackWorker) result(state TaskState, msg string) TaskResult {
	return TaskResult{OK: state == Completed, State: state, Message: msg,
		StepsRun: w.stepsRun, HardwareErrors: w.hwErrors}
}

// run is the playback loop. Every actuator it turns on gets an explicit OFF
// before it returns, whatever the exit path.
func (w *PlaybackWorker) run() (result TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			w.abandon()
			result = w.result(Errored, fmt.Sprintf("playback loop failed: %v", r))
		}
	}()

	w.start = time.Now()
	for i, step := range w.steps {
		if !w.waitUntil(step.OnOffset()) {
			w.abandon()
			return w.result(Stopped, fmt.Sprintf("stopped by request after %d of %d steps", w.stepsRun, len(w.steps)))
		}
		if w.observer != nil {
			w.observer.StepStarted(i, step.Bursts, step.Point)
		}
		off := step.OffOffset()
		for _, b := range step.Bursts {
			w.send(b.ActuatorID, b.Intensity, true)
			w.pending.add(b.ActuatorID, off)
		}
		w.stepsRun++
		w.flushDue()
	}

	// Drain: every remaining OFF is sent at its scheduled time.
	for !w.pending.empty() {
		next, _ := w.pending.next()
		if !w.waitUntil(next) {
			w.abandon()
			return w.result(Stopped, fmt.Sprintf("stopped by request while draining after all %d steps", len(w.steps)))
		}
	}
	return w.result(Completed, fmt.Sprintf("played %d steps", len(w.steps)))
}
