package tactile

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// Command is one SendCommand call as seen by a SimDevice.
type Command struct {
	When       time.Time
	ActuatorID int
	Intensity  int
	Frequency  int
	On         bool
}

// SimDevice is a drop-in replacement for an actuator controller that
// requires no hardware. It records every command for inspection.
type SimDevice struct {
	commands []Command
	level    map[int]int // actuator id -> intensity, for actuators now ON
	fail     map[int]bool
	block    map[int]chan struct{}
	isOpen   bool
	sync.Mutex
}

// NewSimDevice generates and returns a new, open SimDevice.
func NewSimDevice() *SimDevice {
	return &SimDevice{
		level:  make(map[int]int),
		fail:   make(map[int]bool),
		block:  make(map[int]chan struct{}),
		isOpen: true,
	}
}

// FailActuator makes every later command to actuator id fail.
func (d *SimDevice) FailActuator(id int) {
	d.Lock()
	defer d.Unlock()
	d.fail[id] = true
}

// BlockOn makes ON commands to actuator id block until the returned release
// function is called. OFF commands are never blocked.
func (d *SimDevice) BlockOn(id int) (release func()) {
	d.Lock()
	defer d.Unlock()
	ch := make(chan struct{})
	d.block[id] = ch
	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}

// SendCommand records the command and updates the simulated actuator state.
func (d *SimDevice) SendCommand(actuatorID, intensity, frequency int, on bool) error {
	if err := checkCommand(actuatorID, intensity, frequency, on); err != nil {
		return err
	}
	d.Lock()
	ch := d.block[actuatorID]
	d.Unlock()
	if on && ch != nil {
		<-ch
	}

	d.Lock()
	defer d.Unlock()
	if !d.isOpen {
		return &HardwareError{ActuatorID: actuatorID, On: on, Err: fmt.Errorf("SimDevice is closed")}
	}
	if d.fail[actuatorID] {
		return &HardwareError{ActuatorID: actuatorID, On: on, Err: fmt.Errorf("simulated failure")}
	}
	d.commands = append(d.commands, Command{When: time.Now(), ActuatorID: actuatorID,
		Intensity: intensity, Frequency: frequency, On: on})
	if on && intensity > 0 {
		d.level[actuatorID] = intensity
	} else {
		delete(d.level, actuatorID)
	}
	return nil
}

// Close errors if already closed
func (d *SimDevice) Close() error {
	d.Lock()
	defer d.Unlock()
	if !d.isOpen {
		return fmt.Errorf("SimDevice.Close: already closed")
	}
	d.isOpen = false
	return nil
}

// Commands returns a copy of all commands recorded so far.
func (d *SimDevice) Commands() []Command {
	d.Lock()
	defer d.Unlock()
	result := make([]Command, len(d.commands))
	copy(result, d.commands)
	return result
}

// Active returns the sorted ids of actuators that are now ON.
func (d *SimDevice) Active() []int {
	d.Lock()
	defer d.Unlock()
	ids := make([]int, 0, len(d.level))
	for id := range d.level {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Reset forgets all recorded commands (but not failure or blocking rules).
func (d *SimDevice) Reset() {
	d.Lock()
	defer d.Unlock()
	d.commands = nil
	d.level = make(map[int]int)
}

// Inspect returns a human-readable dump of the device state.
func (d *SimDevice) Inspect() string {
	d.Lock()
	defer d.Unlock()
	state := struct {
		Open      bool
		NCommands int
		Active    map[int]int
		Failing   map[int]bool
	}{d.isOpen, len(d.commands), d.level, d.fail}
	return spew.Sdump(state)
}
