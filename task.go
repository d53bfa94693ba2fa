package tactile

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// TaskState is used to indicate the lifecycle state of a background playback task
type TaskState int

// Names for the possible values of TaskState
const (
	Idle      TaskState = iota // Task has not been started
	Running                    // Task is sending commands to hardware
	Completed                  // Task ran to its natural end
	Stopped                    // Task was stopped by request
	Errored                    // Task's own loop failed
)

func (s TaskState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Stopped:
		return "Stopped"
	case Errored:
		return "Errored"
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// MarshalText lets status messages carry the state by name.
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal tells whether the task can no longer change state.
func (s TaskState) Terminal() bool {
	return s == Completed || s == Stopped || s == Errored
}

// TaskResult is what a finished task reports to its controller. OK is true
// only for the Completed state.
type TaskResult struct {
	OK             bool
	State          TaskState
	Message        string
	StepsRun       int
	HardwareErrors int
}

// Task is a background job that drives the hardware: stroke playback or
// timeline playback.
type Task interface {
	Start() error
	Stop()
	Done() <-chan struct{}
	Result() TaskResult
	Wait(timeout time.Duration) (TaskResult, error)
	State() TaskState
	Actuators() []int
}

// anyTask implements the lifecycle shared by all Task types, including the
// abort channel and the exit notification.
type anyTask struct {
	name      string
	abortSelf chan struct{} // closed to ask the task loop to stop
	stopOnce  sync.Once
	finished  chan struct{} // closed once result is set
	result    TaskResult
	state     TaskState
	stateLock sync.Mutex // guards state and result
}

func (t *anyTask) init(name string) {
	t.name = name
	t.abortSelf = make(chan struct{})
	t.finished = make(chan struct{})
}

// launch moves Idle -> Running and runs loop in a new goroutine. The loop's
// result sets the terminal state and then closes the finished channel.
func (t *anyTask) launch(loop func() TaskResult) error {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	if t.state != Idle {
		return fmt.Errorf("cannot Start() a %s task that's %v, not Idle", t.name, t.state)
	}
	t.state = Running
	go func() {
		result := loop()
		t.stateLock.Lock()
		t.state = result.State
		t.result = result
		t.stateLock.Unlock()
		log.Printf("%s task finished: %s (ok=%t) %s", t.name, result.State, result.OK, result.Message)
		close(t.finished)
	}()
	return nil
}

// Stop asks the task to stop. It does not wait; use Wait or Done for that.
// Calling Stop more than once is harmless.
func (t *anyTask) Stop() {
	t.stopOnce.Do(func() { close(t.abortSelf) })
}

// Done returns a channel that is closed when the task has finished.
func (t *anyTask) Done() <-chan struct{} {
	return t.finished
}

// Result returns the task's result; it is the zero TaskResult until Done is closed.
func (t *anyTask) Result() TaskResult {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	return t.result
}

// Wait blocks until the task reports its result or timeout elapses.
func (t *anyTask) Wait(timeout time.Duration) (TaskResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.finished:
		return t.Result(), nil
	case <-timer.C:
		return TaskResult{}, fmt.Errorf("%s task did not exit within %v", t.name, timeout)
	}
}

// State returns the task state in a race-free fashion
func (t *anyTask) State() TaskState {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	return t.state
}

// stopRequested polls the abort channel without blocking.
func (t *anyTask) stopRequested() bool {
	select {
	case <-t.abortSelf:
		return true
	default:
		return false
	}
}

// sleep waits for d or until a stop request, whichever comes first. It
// returns false if the stop request arrived.
func (t *anyTask) sleep(d time.Duration) bool {
	if d <= 0 {
		return !t.stopRequested()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.abortSelf:
		return false
	case <-timer.C:
		return true
	}
}
