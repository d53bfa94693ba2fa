package tactiledb

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the serveractivity table.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the playbackruns table.
type RunMessage struct {
	ID      string
	Kind    string // "stroke", "markers" or "timeline"
	Mode    string
	Gain    int
	NSteps  int
	StepMs  int
	Start   time.Time
	End     time.Time
	OK      bool
	State   string
	Message string
}

// NewID returns a fresh, time-ordered identifier for a database row.
func NewID() string {
	return ulid.Make().String()
}
