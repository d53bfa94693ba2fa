package tactile

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Point is a location in the normalized [0,1]x[0,1] layout space. It is used
// both for drawn stroke vertices and for stimulation points.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) vec() []float64 {
	return []float64{p.X, p.Y}
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return floats.Distance(p.vec(), q.vec(), 2)
}

// ActuatorAnchor represents the physical location of one actuator
type ActuatorAnchor struct {
	ID   int     `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Name string  `json:"name,omitempty"`
}

// Point returns the anchor's position.
func (a ActuatorAnchor) Point() Point {
	return Point{X: a.X, Y: a.Y}
}

// Neighbor is one result of a nearest-anchor query.
type Neighbor struct {
	ID       int
	Distance float64
}

// AnchorSet is an immutable collection of actuator anchors with unique ids.
// It is safe to share among goroutines.
type AnchorSet struct {
	Name    string
	anchors []ActuatorAnchor
}

// NewAnchorSet copies anchors into a new AnchorSet. It is an error for two
// anchors to share an id.
func NewAnchorSet(name string, anchors []ActuatorAnchor) (*AnchorSet, error) {
	seen := make(map[int]bool)
	for _, a := range anchors {
		if seen[a.ID] {
			return nil, fmt.Errorf("layout %q: actuator id %d appears more than once", name, a.ID)
		}
		seen[a.ID] = true
	}
	as := &AnchorSet{Name: name, anchors: make([]ActuatorAnchor, len(anchors))}
	copy(as.anchors, anchors)
	return as, nil
}

// Len returns the number of anchors (0 for a nil set).
func (as *AnchorSet) Len() int {
	if as == nil {
		return 0
	}
	return len(as.anchors)
}

// Anchors returns a copy of the anchors in their original order.
func (as *AnchorSet) Anchors() []ActuatorAnchor {
	result := make([]ActuatorAnchor, as.Len())
	if as != nil {
		copy(result, as.anchors)
	}
	return result
}

// IDs returns the actuator ids in their original order.
func (as *AnchorSet) IDs() []int {
	ids := make([]int, 0, as.Len())
	for i := 0; i < as.Len(); i++ {
		ids = append(ids, as.anchors[i].ID)
	}
	return ids
}

// Lookup returns the anchor with the given id.
func (as *AnchorSet) Lookup(id int) (ActuatorAnchor, bool) {
	for i := 0; i < as.Len(); i++ {
		if as.anchors[i].ID == id {
			return as.anchors[i], true
		}
	}
	return ActuatorAnchor{}, false
}

// Nearest returns up to n anchors closest to p, in ascending distance.
// Ties keep the anchors' original order. An empty set (or n < 1) yields an
// empty result.
func (as *AnchorSet) Nearest(p Point, n int) []Neighbor {
	if as.Len() == 0 || n < 1 {
		return []Neighbor{}
	}
	all := make([]Neighbor, len(as.anchors))
	for i, a := range as.anchors {
		all[i] = Neighbor{ID: a.ID, Distance: p.Dist(a.Point())}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Distance < all[j].Distance
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Layout24442 returns the 16-actuator layout arranged in rows of 2, 4, 4, 4,
// and 2 actuators. Ids run row by row from the top.
func Layout24442() *AnchorSet {
	rows := []int{2, 4, 4, 4, 2}
	anchors := make([]ActuatorAnchor, 0, 16)
	id := 0
	for r, n := range rows {
		y := float64(r) / float64(len(rows)-1)
		for c := 0; c < n; c++ {
			var x float64
			if n == 4 {
				x = float64(c) / 3.0
			} else {
				x = float64(c+1) / 3.0
			}
			anchors = append(anchors, ActuatorAnchor{ID: id, X: x, Y: y, Name: fmt.Sprintf("r%dc%d", r, c)})
			id++
		}
	}
	as, _ := NewAnchorSet("2-4-4-4-2", anchors)
	return as
}

// Grid3x3 returns a 3x3 grid of actuators with ids 0-8 in row-major order.
func Grid3x3() *AnchorSet {
	anchors := make([]ActuatorAnchor, 0, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			anchors = append(anchors, ActuatorAnchor{ID: 3*r + c, X: 0.5 * float64(c), Y: 0.5 * float64(r)})
		}
	}
	as, _ := NewAnchorSet("3x3", anchors)
	return as
}

// LayoutByName returns one of the built-in layouts.
func LayoutByName(name string) (*AnchorSet, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "2-4-4-4-2", "24442":
		return Layout24442(), nil
	case "3x3", "grid3x3":
		return Grid3x3(), nil
	}
	return nil, fmt.Errorf("layout %q is not recognized", name)
}

// LayoutConfig selects the active layout. Exactly one of Name, File, or
// Anchors is expected; they are tried in the order Anchors, File, Name.
type LayoutConfig struct {
	Name    string
	File    string
	Anchors []ActuatorAnchor
}

// Resolve builds the AnchorSet described by the config.
func (lc *LayoutConfig) Resolve() (*AnchorSet, error) {
	switch {
	case len(lc.Anchors) > 0:
		name := lc.Name
		if name == "" {
			name = "custom"
		}
		return NewAnchorSet(name, lc.Anchors)
	case lc.File != "":
		return ReadLayout(lc.File)
	case lc.Name != "":
		return LayoutByName(lc.Name)
	}
	return nil, ErrNoAnchors
}

// ReadLayout reads a layout file. The first non-comment line must be
// "actuators: N", followed by N lines of "id x y [name]".
func ReadLayout(filename string) (*AnchorSet, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var expected int
	haveHeader := false
	anchors := make([]ActuatorAnchor, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !haveHeader {
			if _, err := fmt.Sscanf(line, "actuators: %d", &expected); err != nil {
				return nil, fmt.Errorf("readLayout %s:%d: want \"actuators: N\" header: %v", filename, lineNum, err)
			}
			haveHeader = true
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || len(fields) > 4 {
			return nil, fmt.Errorf("readLayout %s:%d: have %d fields, want \"id x y [name]\"", filename, lineNum, len(fields))
		}
		var a ActuatorAnchor
		if a.ID, err = strconv.Atoi(fields[0]); err != nil {
			return nil, fmt.Errorf("readLayout %s:%d: bad id: %v", filename, lineNum, err)
		}
		if a.X, err = strconv.ParseFloat(fields[1], 64); err != nil {
			return nil, fmt.Errorf("readLayout %s:%d: bad x: %v", filename, lineNum, err)
		}
		if a.Y, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return nil, fmt.Errorf("readLayout %s:%d: bad y: %v", filename, lineNum, err)
		}
		if len(fields) == 4 {
			a.Name = fields[3]
		}
		anchors = append(anchors, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !haveHeader {
		return nil, fmt.Errorf("readLayout %s: no \"actuators: N\" header", filename)
	}
	if len(anchors) != expected {
		return nil, fmt.Errorf("readLayout %s: have %d actuators, header promised %d", filename, len(anchors), expected)
	}
	return NewAnchorSet(filename, anchors)
}
