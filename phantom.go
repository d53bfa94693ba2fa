package tactile

import (
	"fmt"
	"math"
	"strings"
)

// Device intensity limits for a single burst.
const (
	MinIntensity = 1
	MaxIntensity = 15
)

// distanceFloor replaces zero distances so a point sitting exactly on an
// anchor gives that anchor (almost) the whole share.
const distanceFloor = 1e-6

// RenderMode selects how many physical actuators render one stimulation point.
type RenderMode int

// Names for the possible values of RenderMode
const (
	Nearest1 RenderMode = iota + 1 // the single nearest actuator at full intensity
	Phantom2                       // energy split across the 2 nearest actuators
	Phantom3                       // energy split across the 3 nearest actuators
)

// Actuators returns how many physical actuators the mode drives per point.
func (m RenderMode) Actuators() int {
	switch m {
	case Nearest1:
		return 1
	case Phantom2:
		return 2
	case Phantom3:
		return 3
	}
	return 0
}

// Valid tells whether m is one of the defined modes.
func (m RenderMode) Valid() bool {
	return m.Actuators() > 0
}

func (m RenderMode) String() string {
	switch m {
	case Nearest1:
		return "nearest1"
	case Phantom2:
		return "phantom2"
	case Phantom3:
		return "phantom3"
	}
	return fmt.Sprintf("RenderMode(%d)", int(m))
}

// ParseRenderMode converts a mode name (case-insensitive) into a RenderMode.
// Accepted names: nearest1, phantom2, phantom3, or the bare digit 1, 2, 3.
func ParseRenderMode(s string) (RenderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest1", "nearest", "physical", "1":
		return Nearest1, nil
	case "phantom2", "2":
		return Phantom2, nil
	case "phantom3", "3":
		return Phantom3, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// MarshalText encodes the mode by name, so configs and JSON carry "phantom2".
func (m RenderMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *RenderMode) UnmarshalText(text []byte) error {
	mode, err := ParseRenderMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// RenderConfig is the phantom rendering configuration in effect.
type RenderConfig struct {
	Mode RenderMode `json:"mode"`
	Gain int        `json:"gain"` // virtual intensity Av, 1-15
}

// Validate checks the mode and gain.
func (rc RenderConfig) Validate() error {
	if !rc.Mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(rc.Mode))
	}
	if rc.Gain < MinIntensity || rc.Gain > MaxIntensity {
		return fmt.Errorf("%w: have %d", ErrInvalidIntensity, rc.Gain)
	}
	return nil
}

// BurstIntensity is one physical actuator's drive level for a burst.
type BurstIntensity struct {
	ActuatorID int `json:"id"`
	Intensity  int `json:"intensity"`
}

// roundIntensity rounds to the nearest integer and clamps into [1,15].
func roundIntensity(a float64) int {
	v := int(math.Round(a))
	if v < MinIntensity {
		return MinIntensity
	}
	if v > MaxIntensity {
		return MaxIntensity
	}
	return v
}

func floorDistance(d float64) float64 {
	if d < distanceFloor || math.IsNaN(d) {
		return distanceFloor
	}
	return d
}

// SplitNearest renders a point on the single nearest actuator.
func SplitNearest(n Neighbor, av int) []BurstIntensity {
	return []BurstIntensity{{ActuatorID: n.ID, Intensity: roundIntensity(float64(av))}}
}

// Split2 distributes virtual intensity av between two actuators using the
// energy-summation model: A1 = sqrt(d2/(d1+d2))*av, A2 = sqrt(d1/(d1+d2))*av.
func Split2(n1, n2 Neighbor, av int) []BurstIntensity {
	d1 := floorDistance(n1.Distance)
	d2 := floorDistance(n2.Distance)
	sum := d1 + d2
	a1 := math.Sqrt(d2/sum) * float64(av)
	a2 := math.Sqrt(d1/sum) * float64(av)
	return []BurstIntensity{
		{ActuatorID: n1.ID, Intensity: roundIntensity(a1)},
		{ActuatorID: n2.ID, Intensity: roundIntensity(a2)},
	}
}

// Split3 distributes virtual intensity av across three actuators with
// inverse-distance energy weights: Ai = sqrt(wi/sum(w))*av, wi = 1/di.
func Split3(n1, n2, n3 Neighbor, av int) []BurstIntensity {
	ns := [3]Neighbor{n1, n2, n3}
	var w [3]float64
	total := 0.0
	for i, n := range ns {
		w[i] = 1.0 / floorDistance(n.Distance)
		total += w[i]
	}
	bursts := make([]BurstIntensity, 3)
	for i, n := range ns {
		bursts[i] = BurstIntensity{ActuatorID: n.ID, Intensity: roundIntensity(math.Sqrt(w[i]/total) * float64(av))}
	}
	return bursts
}

// SolveBursts computes the burst set rendering a phantom at p. When the layout
// has fewer anchors than the mode needs, it falls back to a mode using as
// many anchors as exist. An empty layout returns ErrNoAnchors.
func SolveBursts(anchors *AnchorSet, p Point, rc RenderConfig) ([]BurstIntensity, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	near := anchors.Nearest(p, rc.Mode.Actuators())
	switch len(near) {
	case 0:
		return nil, ErrNoAnchors
	case 1:
		return SplitNearest(near[0], rc.Gain), nil
	case 2:
		return Split2(near[0], near[1], rc.Gain), nil
	default:
		return Split3(near[0], near[1], near[2], rc.Gain), nil
	}
}
