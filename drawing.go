package tactile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Drawing is the persisted form of a user's work: strokes, phantom markers,
// and everything needed to rebuild their schedules.
type Drawing struct {
	Strokes      [][]Point        `json:"strokes"`
	Markers      []PhantomMarker  `json:"markers"`
	Anchors      []ActuatorAnchor `json:"anchors"`
	Render       RenderConfig     `json:"render"`
	StepMs       int              `json:"step_ms,omitempty"`
	TotalSeconds float64          `json:"total_s,omitempty"`
}

// AnchorSet rebuilds the layout stored with the drawing.
func (d *Drawing) AnchorSet() (*AnchorSet, error) {
	if len(d.Anchors) == 0 {
		return nil, ErrNoAnchors
	}
	return NewAnchorSet("drawing", d.Anchors)
}

// Schedule rebuilds the schedule for stroke number i.
func (d *Drawing) Schedule(i int) ([]ScheduleStep, error) {
	if i < 0 || i >= len(d.Strokes) {
		return []ScheduleStep{}, fmt.Errorf("drawing has %d strokes, no stroke %d", len(d.Strokes), i)
	}
	anchors, err := d.AnchorSet()
	if err != nil {
		return []ScheduleStep{}, err
	}
	return NewScheduleBuilder(anchors, d.Render).Build(d.Strokes[i], d.StepMs, d.TotalSeconds)
}

// WriteDrawing encodes d as indented JSON.
func WriteDrawing(w io.Writer, d *Drawing) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// ReadDrawing decodes a JSON drawing.
func ReadDrawing(r io.Reader) (*Drawing, error) {
	d := new(Drawing)
	if err := json.NewDecoder(r).Decode(d); err != nil {
		return nil, fmt.Errorf("could not decode drawing: %w", err)
	}
	return d, nil
}

// DrawingStore is an opaque load/save store for drawings.
type DrawingStore interface {
	Save(key string, d *Drawing) error
	Load(key string) (*Drawing, error)
	Keys() ([]string, error)
}

// FileStore keeps one <key>.json file per drawing in Dir.
type FileStore struct {
	Dir string
}

func (fs *FileStore) filename(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("drawing key %q is not a plain name", key)
	}
	return filepath.Join(fs.Dir, key+".json"), nil
}

// Save writes the drawing, replacing any earlier one with the same key.
func (fs *FileStore) Save(key string, d *Drawing) error {
	name, err := fs.filename(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(fs.Dir, 0775); err != nil {
		return err
	}
	tmp := name + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := WriteDrawing(f, d); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, name)
}

// Load reads the drawing stored under key.
func (fs *FileStore) Load(key string) (*Drawing, error) {
	name, err := fs.filename(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDrawing(f)
}

// Keys lists the stored drawing keys in sorted order.
func (fs *FileStore) Keys() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(fs.Dir, "*.json"))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		keys = append(keys, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}
