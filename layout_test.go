package tactile

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLayout(t *testing.T) {
	fname := "layouts/chain5.cfg"
	as, err := ReadLayout(fname)
	if err != nil {
		t.Fatalf("Could not read layout %q: %v", fname, err)
	}
	if as.Len() != 5 {
		t.Errorf("layout has %d anchors, want 5", as.Len())
	}
	x := []float64{0, 0.25, 0.5, 0.75, 1}
	for i, a := range as.Anchors() {
		if a.ID != i {
			t.Errorf("anchor[%d].ID=%d, want %d", i, a.ID, i)
		}
		if a.X != x[i] || a.Y != 0.5 {
			t.Errorf("anchor[%d] at (%v,%v), want (%v,0.5)", i, a.X, a.Y, x[i])
		}
	}
	if a, ok := as.Lookup(4); !ok || a.Name != "elbow" {
		t.Errorf("Lookup(4)=%v,%t, want the elbow anchor", a, ok)
	}
	if _, ok := as.Lookup(5); ok {
		t.Error("Lookup(5) should fail on a 5-anchor chain")
	}

	vest, err := ReadLayout("layouts/vest2x4.cfg")
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 12, 13, 14, 15, 16, 17}, vest.IDs())

	if _, err1 := ReadLayout("doesnotexist.layout.1234"); err1 == nil {
		t.Error("ReadLayout() on nonexistent file should error")
	}
	if _, err1 := ReadLayout("layout_test.go"); err1 == nil {
		t.Error("ReadLayout() on non-layout file should error")
	}
}

func TestReadLayoutErrors(t *testing.T) {
	dir := t.TempDir()
	bad := map[string]string{
		"short":     "actuators: 3\n0 0 0\n1 1 1\n",
		"dupid":     "actuators: 2\n0 0 0\n0 1 1\n",
		"badx":      "actuators: 1\n0 left 0\n",
		"toomany":   "actuators: 1\n0 0 0 a extra\n",
		"noheader":  "# only a comment\n",
		"badheader": "spacing: 520\n",
	}
	for name, contents := range bad {
		fname := filepath.Join(dir, name+".cfg")
		require.NoError(t, os.WriteFile(fname, []byte(contents), 0644))
		_, err := ReadLayout(fname)
		assert.Error(t, err, "layout %q should fail to read", name)
	}
}

func TestBuiltinLayouts(t *testing.T) {
	as := Layout24442()
	assert.Equal(t, 16, as.Len())
	expect := map[int]Point{
		0:  {1.0 / 3, 0},
		1:  {2.0 / 3, 0},
		2:  {0, 0.25},
		5:  {1, 0.25},
		13: {1, 0.75},
		14: {1.0 / 3, 1},
		15: {2.0 / 3, 1},
	}
	for id, p := range expect {
		a, ok := as.Lookup(id)
		require.True(t, ok, "Layout24442 has no anchor %d", id)
		assert.InDelta(t, p.X, a.X, 1e-12, "anchor %d x", id)
		assert.InDelta(t, p.Y, a.Y, 1e-12, "anchor %d y", id)
	}

	g := Grid3x3()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, g.IDs())
	center, _ := g.Lookup(4)
	assert.Equal(t, Point{0.5, 0.5}, center.Point())

	for _, name := range []string{"24442", "2-4-4-4-2", "3x3", " Grid3x3 "} {
		_, err := LayoutByName(name)
		assert.NoError(t, err, "LayoutByName(%q)", name)
	}
	_, err := LayoutByName("hexagon")
	assert.Error(t, err)
}

func TestNearest(t *testing.T) {
	g := Grid3x3()
	near := g.Nearest(Point{0.1, 0}, 2)
	require.Len(t, near, 2)
	assert.Equal(t, 0, near[0].ID)
	assert.InDelta(t, 0.1, near[0].Distance, 1e-12)
	assert.Equal(t, 1, near[1].ID)
	assert.InDelta(t, 0.4, near[1].Distance, 1e-12)

	// Equidistant anchors keep layout order.
	near = g.Nearest(Point{0.25, 0.25}, 4)
	assert.Equal(t, []int{0, 1, 3, 4}, []int{near[0].ID, near[1].ID, near[2].ID, near[3].ID})
	assert.InDelta(t, math.Sqrt(0.125), near[3].Distance, 1e-12)

	assert.Len(t, g.Nearest(Point{}, 20), 9)
	assert.Empty(t, g.Nearest(Point{}, 0))
	var empty *AnchorSet
	assert.Empty(t, empty.Nearest(Point{}, 3))
}

func TestNewAnchorSet(t *testing.T) {
	_, err := NewAnchorSet("dup", []ActuatorAnchor{{ID: 1}, {ID: 2}, {ID: 1, X: 1}})
	assert.Error(t, err)

	anchors := []ActuatorAnchor{{ID: 7, X: 0.2, Y: 0.3}}
	as, err := NewAnchorSet("one", anchors)
	require.NoError(t, err)
	anchors[0].X = 0.9
	a, _ := as.Lookup(7)
	assert.Equal(t, 0.2, a.X, "AnchorSet must not alias the caller's slice")
}

func TestLayoutConfigResolve(t *testing.T) {
	lc := LayoutConfig{Name: "3x3"}
	as, err := lc.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 9, as.Len())

	lc = LayoutConfig{Name: "3x3", File: "layouts/chain5.cfg"}
	as, err = lc.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 5, as.Len(), "File takes precedence over Name")

	lc = LayoutConfig{Name: "mine", File: "layouts/chain5.cfg", Anchors: []ActuatorAnchor{{ID: 3}, {ID: 4, X: 1}}}
	as, err = lc.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "mine", as.Name)
	assert.Equal(t, []int{3, 4}, as.IDs())

	lc = LayoutConfig{}
	_, err = lc.Resolve()
	assert.ErrorIs(t, err, ErrNoAnchors)
}
