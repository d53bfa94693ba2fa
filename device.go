package tactile

import (
	"fmt"
	"strings"
)

// Limits of the hardware command interface.
const (
	MaxActuatorID    = 127
	MaxFrequencyCode = 7
)

// Device is the fire-and-forget command interface to an actuator controller.
// SendCommand never waits for an acknowledgement; a returned error means the
// command could not be issued and should be treated as a dropped frame.
type Device interface {
	SendCommand(actuatorID, intensity, frequency int, on bool) error
	Close() error
}

// checkCommand validates the arguments of a SendCommand call.
func checkCommand(actuatorID, intensity, frequency int, on bool) error {
	var err error
	switch {
	case actuatorID < 0 || actuatorID > MaxActuatorID:
		err = fmt.Errorf("actuator id out of range [0,%d]", MaxActuatorID)
	case intensity < 0 || intensity > MaxIntensity:
		err = fmt.Errorf("intensity %d out of range [0,%d]", intensity, MaxIntensity)
	case frequency < 0 || frequency > MaxFrequencyCode:
		err = fmt.Errorf("frequency code %d out of range [0,%d]", frequency, MaxFrequencyCode)
	default:
		return nil
	}
	return &HardwareError{ActuatorID: actuatorID, On: on, Err: err}
}

// DeviceConfig selects and configures the hardware device.
type DeviceConfig struct {
	Kind    string // "sim" or "serial"
	Port    string // serial port name, e.g. /dev/ttyUSB0
	Baud    int
	Journal string // optional command journal filename
}

// OpenDevice opens the device described by the config. A Journal filename
// wraps the device in a JournalDevice.
func OpenDevice(config *DeviceConfig) (Device, error) {
	var dev Device
	switch strings.ToLower(config.Kind) {
	case "", "sim", "simulated":
		dev = NewSimDevice()
	case "serial":
		sd, err := OpenSerialDevice(config.Port, config.Baud)
		if err != nil {
			return nil, err
		}
		dev = sd
	default:
		return nil, fmt.Errorf("device kind %q is not recognized", config.Kind)
	}
	if config.Journal != "" {
		jd, err := NewJournalDevice(dev, config.Journal)
		if err != nil {
			dev.Close()
			return nil, err
		}
		dev = jd
	}
	return dev, nil
}

// allOff sends OFF to every id in ids, logging failures. It returns the
// number of commands that failed.
func allOff(dev Device, ids []int, frequency int) int {
	nfail := 0
	for _, id := range ids {
		if err := dev.SendCommand(id, 0, frequency, false); err != nil {
			ProblemLogger.Printf("safety OFF failed: %v", err)
			nfail++
		}
	}
	return nfail
}

// sweepIDs returns 0..maxID, the ids covered by a full safety sweep.
func sweepIDs(maxID int) []int {
	if maxID > MaxActuatorID {
		maxID = MaxActuatorID
	}
	ids := make([]int, 0, maxID+1)
	for id := 0; id <= maxID; id++ {
		ids = append(ids, id)
	}
	return ids
}
