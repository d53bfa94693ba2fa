package tactile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func exportSteps() []ScheduleStep {
	return []ScheduleStep{
		{TOn: 0, DurationMs: 40, Point: Point{0.25, 0.5}, Bursts: []BurstIntensity{{3, 9}}},
		{TOn: 60.1, DurationMs: 40, Point: Point{0.5, 0.5}, Bursts: []BurstIntensity{{3, 6}, {4, 6}, {7, 2}}},
	}
}

func TestScheduleMatrix(t *testing.T) {
	m, err := ScheduleMatrix(exportSteps())
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 10, c)
	assert.Equal(t, []float64{0, 40, 0.25, 0.5, 3, 9, -1, 0, -1, 0}, m.RawRowView(0))
	assert.Equal(t, []float64{60.1, 40, 0.5, 0.5, 3, 6, 4, 6, 7, 2}, m.RawRowView(1))

	_, err = ScheduleMatrix(nil)
	assert.Error(t, err)

	steps := exportSteps()
	steps[1].Bursts = append(steps[1].Bursts, BurstIntensity{8, 1})
	_, err = ScheduleMatrix(steps)
	assert.Error(t, err)
}

func TestExportScheduleNPY(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportScheduleNPY(&buf, exportSteps()))

	var m mat.Dense
	require.NoError(t, npyio.Read(&buf, &m))
	want, _ := ScheduleMatrix(exportSteps())
	assert.True(t, mat.Equal(want, &m))

	fname := filepath.Join(t.TempDir(), "schedule.npy")
	require.NoError(t, ExportScheduleFile(fname, exportSteps()))
	f, err := os.Open(fname)
	require.NoError(t, err)
	defer f.Close()
	var m2 mat.Dense
	require.NoError(t, npyio.Read(f, &m2))
	assert.True(t, mat.Equal(want, &m2))

	assert.Error(t, ExportScheduleFile(filepath.Join(t.TempDir(), "empty.npy"), nil))
}
