package tactile

import (
	"fmt"
	"os"
	"time"

	"github.com/usnistgov/tactile/internal/asyncbufio"
)

// JournalDevice wraps another Device and appends one CSV line per command
// to a journal file. The journal is written asynchronously, so a slow disk
// never delays a command; lines are dropped if the queue overflows.
type JournalDevice struct {
	Device
	file    *os.File
	journal *asyncbufio.Writer
}

// NewJournalDevice opens (appending) filename and journals every command sent to dev.
func NewJournalDevice(dev Device, filename string) (*JournalDevice, error) {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("could not open command journal: %w", err)
	}
	jd := &JournalDevice{Device: dev, file: file,
		journal: asyncbufio.NewWriter(file, 4096, time.Second)}
	if info, err := file.Stat(); err == nil && info.Size() == 0 {
		jd.journal.WriteString("# unix_ns,actuator,intensity,frequency,on,error\n")
	}
	return jd, nil
}

// SendCommand forwards the command and journals it along with any error.
func (jd *JournalDevice) SendCommand(actuatorID, intensity, frequency int, on bool) error {
	err := jd.Device.SendCommand(actuatorID, intensity, frequency, on)
	onflag := 0
	if on {
		onflag = 1
	}
	errtext := ""
	if err != nil {
		errtext = fmt.Sprintf("%q", err.Error())
	}
	jd.journal.WriteString(fmt.Sprintf("%d,%d,%d,%d,%d,%s\n", time.Now().UnixNano(),
		actuatorID, intensity, frequency, onflag, errtext))
	return err
}

// Close flushes the journal, then closes it and the wrapped device.
func (jd *JournalDevice) Close() error {
	jerr := jd.journal.Close()
	if n := jd.journal.Dropped(); n > 0 {
		ProblemLogger.Printf("command journal %s dropped %d lines", jd.file.Name(), n)
	}
	ferr := jd.file.Close()
	derr := jd.Device.Close()
	switch {
	case derr != nil:
		return derr
	case jerr != nil:
		return jerr
	}
	return ferr
}
