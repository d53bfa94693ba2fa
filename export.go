package tactile

import (
	"fmt"
	"io"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// scheduleColumns is the width of the exported schedule matrix:
// t_on, duration, x, y, then (id, intensity) for up to 3 bursts.
const scheduleColumns = 10

// ScheduleMatrix packs a schedule into an n x 10 matrix, one row per step.
// Unused burst slots hold id -1 and intensity 0.
func ScheduleMatrix(steps []ScheduleStep) (*mat.Dense, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("cannot export an empty schedule")
	}
	m := mat.NewDense(len(steps), scheduleColumns, nil)
	for i, s := range steps {
		if len(s.Bursts) > 3 {
			return nil, fmt.Errorf("step %d has %d bursts, at most 3 can be exported", i, len(s.Bursts))
		}
		row := []float64{s.TOn, float64(s.DurationMs), s.Point.X, s.Point.Y, -1, 0, -1, 0, -1, 0}
		for j, b := range s.Bursts {
			row[4+2*j] = float64(b.ActuatorID)
			row[5+2*j] = float64(b.Intensity)
		}
		m.SetRow(i, row)
	}
	return m, nil
}

// ExportScheduleNPY writes the schedule matrix in numpy .npy format.
func ExportScheduleNPY(w io.Writer, steps []ScheduleStep) error {
	m, err := ScheduleMatrix(steps)
	if err != nil {
		return err
	}
	return npyio.Write(w, m)
}

// ExportScheduleFile writes the schedule to the named .npy file.
func ExportScheduleFile(filename string, steps []ScheduleStep) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := ExportScheduleNPY(f, steps); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
