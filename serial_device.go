package tactile

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaud is the serial rate used when the config gives none.
const DefaultBaud = 115200

// SerialDevice drives an actuator controller over a serial port. Each
// command is one 3-byte frame; the controller sends no acknowledgement.
type SerialDevice struct {
	name string
	port io.WriteCloser
	sync.Mutex
}

// OpenSerialDevice opens the named serial port at the given baud rate.
func OpenSerialDevice(portName string, baud int) (*SerialDevice, error) {
	if portName == "" {
		ports, err := serial.GetPortsList()
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no serial port configured; available ports: %v", ports)
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %s: %w", portName, err)
	}
	return &SerialDevice{name: portName, port: port}, nil
}

// encodeCommand packs a command as [0x80|id, intensity<<3|frequency, on].
// Only the first byte has its high bit set, so the controller can resync on
// frame boundaries.
func encodeCommand(actuatorID, intensity, frequency int, on bool) []byte {
	var onByte byte
	if on {
		onByte = 1
	}
	return []byte{
		0x80 | byte(actuatorID&0x7f),
		byte(intensity&0x0f)<<3 | byte(frequency&0x07),
		onByte,
	}
}

// SendCommand writes one command frame.
func (d *SerialDevice) SendCommand(actuatorID, intensity, frequency int, on bool) error {
	if err := checkCommand(actuatorID, intensity, frequency, on); err != nil {
		return err
	}
	frame := encodeCommand(actuatorID, intensity, frequency, on)
	d.Lock()
	defer d.Unlock()
	if d.port == nil {
		return &HardwareError{ActuatorID: actuatorID, On: on, Err: fmt.Errorf("serial port %s is closed", d.name)}
	}
	if n, err := d.port.Write(frame); err != nil {
		return &HardwareError{ActuatorID: actuatorID, On: on, Err: err}
	} else if n != len(frame) {
		return &HardwareError{ActuatorID: actuatorID, On: on, Err: io.ErrShortWrite}
	}
	return nil
}

// Close closes the serial port.
func (d *SerialDevice) Close() error {
	d.Lock()
	defer d.Unlock()
	if d.port == nil {
		return fmt.Errorf("SerialDevice.Close: already closed")
	}
	err := d.port.Close()
	d.port = nil
	return err
}
