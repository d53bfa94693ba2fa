package tactile

import (
	"fmt"
	"sync"
	"time"
)

// PhantomMarker is a persistent record of one phantom placement. Session is
// the trajectory gesture that created it, or 0 for a manual placement.
type PhantomMarker struct {
	ID      int              `json:"id"`
	Point   Point            `json:"point"`
	Bursts  []BurstIntensity `json:"bursts"`
	Session int              `json:"session,omitempty"`
}

// TrajectoryConfig controls marker creation during a drag gesture.
type TrajectoryConfig struct {
	Rate         time.Duration // minimum time between samples
	MaxMarkers   int           // per gesture; 0 means no limit
	Redistribute bool          // respace the gesture's markers evenly when it ends
}

// DefaultTrajectoryConfig samples every 100 ms, up to 10 markers per gesture.
func DefaultTrajectoryConfig() TrajectoryConfig {
	return TrajectoryConfig{Rate: 100 * time.Millisecond, MaxMarkers: 10, Redistribute: true}
}

type trajectorySession struct {
	id         int
	path       []Point
	markerIDs  []int
	lastSample time.Time
}

// LivePipeline computes bursts for live cursor points and records phantom
// markers. It never schedules anything; with an attached device, each
// preview turns the previous preview's actuators off and the new ones on.
type LivePipeline struct {
	anchors     *AnchorSet
	render      RenderConfig
	trajectory  TrajectoryConfig
	dev         Device
	frequency   int
	markers     []PhantomMarker
	nextID      int
	nextSession int
	session     *trajectorySession
	lastPreview []BurstIntensity
	sync.Mutex
}

// NewLivePipeline creates a pipeline for the given layout and configurations.
func NewLivePipeline(anchors *AnchorSet, rc RenderConfig, tc TrajectoryConfig) *LivePipeline {
	return &LivePipeline{anchors: anchors, render: rc, trajectory: tc, nextID: 1, nextSession: 1}
}

// Configure replaces the layout and render configuration.
func (lp *LivePipeline) Configure(anchors *AnchorSet, rc RenderConfig) {
	lp.Lock()
	defer lp.Unlock()
	lp.anchors = anchors
	lp.render = rc
}

// ConfigureTrajectory replaces the trajectory configuration. It applies to
// gestures that begin afterwards.
func (lp *LivePipeline) ConfigureTrajectory(tc TrajectoryConfig) {
	lp.Lock()
	defer lp.Unlock()
	lp.trajectory = tc
}

// AttachDevice makes Preview drive dev directly. A nil dev detaches,
// releasing any active preview first.
func (lp *LivePipeline) AttachDevice(dev Device, frequency int) {
	lp.Lock()
	defer lp.Unlock()
	lp.releaseLocked()
	lp.dev = dev
	lp.frequency = frequency
}

// Bursts computes the burst set for p without side effects.
func (lp *LivePipeline) Bursts(p Point) ([]BurstIntensity, error) {
	lp.Lock()
	defer lp.Unlock()
	return SolveBursts(lp.anchors, p, lp.render)
}

// Preview computes the bursts for p and, with an attached device, renders
// them immediately.
func (lp *LivePipeline) Preview(p Point) ([]BurstIntensity, error) {
	lp.Lock()
	defer lp.Unlock()
	bursts, err := SolveBursts(lp.anchors, p, lp.render)
	if err != nil {
		return nil, err
	}
	if lp.dev == nil {
		return bursts, nil
	}
	keep := make(map[int]bool)
	for _, b := range bursts {
		keep[b.ActuatorID] = true
	}
	for _, b := range lp.lastPreview {
		if !keep[b.ActuatorID] {
			lp.send(b.ActuatorID, 0, false)
		}
	}
	for _, b := range bursts {
		lp.send(b.ActuatorID, b.Intensity, true)
	}
	lp.lastPreview = bursts
	return bursts, nil
}

// Release turns off whatever the last Preview turned on.
func (lp *LivePipeline) Release() {
	lp.Lock()
	defer lp.Unlock()
	lp.releaseLocked()
}

func (lp *LivePipeline) releaseLocked() {
	if lp.dev != nil {
		for _, b := range lp.lastPreview {
			lp.send(b.ActuatorID, 0, false)
		}
	}
	lp.lastPreview = nil
}

func (lp *LivePipeline) send(id, intensity int, on bool) {
	if err := lp.dev.SendCommand(id, intensity, lp.frequency, on); err != nil {
		ProblemLogger.Printf("preview: %v", err)
	}
}

// newMarkerLocked solves p and appends a marker.
func (lp *LivePipeline) newMarkerLocked(p Point, session int) (PhantomMarker, error) {
	bursts, err := SolveBursts(lp.anchors, p, lp.render)
	if err != nil {
		return PhantomMarker{}, err
	}
	m := PhantomMarker{ID: lp.nextID, Point: p, Bursts: bursts, Session: session}
	lp.nextID++
	lp.markers = append(lp.markers, m)
	return m, nil
}

// PlaceMarker records a manually placed phantom marker at p.
func (lp *LivePipeline) PlaceMarker(p Point) (PhantomMarker, error) {
	lp.Lock()
	defer lp.Unlock()
	return lp.newMarkerLocked(p, 0)
}

// BeginTrajectory starts a drag gesture at p and samples it immediately.
func (lp *LivePipeline) BeginTrajectory(p Point, now time.Time) (PhantomMarker, error) {
	lp.Lock()
	defer lp.Unlock()
	if lp.session != nil {
		return PhantomMarker{}, fmt.Errorf("trajectory session %d is still active", lp.session.id)
	}
	s := &trajectorySession{id: lp.nextSession, path: []Point{p}, lastSample: now}
	m, err := lp.newMarkerLocked(p, s.id)
	if err != nil {
		return PhantomMarker{}, err
	}
	lp.nextSession++
	s.markerIDs = append(s.markerIDs, m.ID)
	lp.session = s
	return m, nil
}

// SampleTrajectory extends the active gesture to p. It creates a marker when
// at least Rate has passed since the last one and the gesture is under its
// marker limit; otherwise it returns nil.
func (lp *LivePipeline) SampleTrajectory(p Point, now time.Time) (*PhantomMarker, error) {
	lp.Lock()
	defer lp.Unlock()
	s := lp.session
	if s == nil {
		return nil, fmt.Errorf("no trajectory session is active")
	}
	s.path = append(s.path, p)
	if now.Sub(s.lastSample) < lp.trajectory.Rate {
		return nil, nil
	}
	if lp.trajectory.MaxMarkers > 0 && len(s.markerIDs) >= lp.trajectory.MaxMarkers {
		return nil, nil
	}
	m, err := lp.newMarkerLocked(p, s.id)
	if err != nil {
		return nil, err
	}
	s.markerIDs = append(s.markerIDs, m.ID)
	s.lastSample = now
	return &m, nil
}

// EndTrajectory finishes the active gesture and returns its final markers.
// With Redistribute set, the gesture's markers are replaced by MaxMarkers
// markers (or as many as were sampled, if there is no limit) spaced evenly
// by arc length along the recorded path. Markers from other gestures and
// manual markers are untouched.
func (lp *LivePipeline) EndTrajectory() ([]PhantomMarker, error) {
	lp.Lock()
	defer lp.Unlock()
	s := lp.session
	if s == nil {
		return nil, fmt.Errorf("no trajectory session is active")
	}
	lp.session = nil

	if !lp.trajectory.Redistribute || len(s.path) < 2 || PathLength(s.path) == 0 {
		return lp.sessionMarkersLocked(s.id), nil
	}
	count := lp.trajectory.MaxMarkers
	if count <= 0 {
		count = len(s.markerIDs)
	}
	points := Resample(s.path, count)
	fresh := make([]PhantomMarker, 0, count)
	for _, p := range points {
		bursts, err := SolveBursts(lp.anchors, p, lp.render)
		if err != nil {
			return lp.sessionMarkersLocked(s.id), err
		}
		fresh = append(fresh, PhantomMarker{Point: p, Bursts: bursts, Session: s.id})
	}

	kept := lp.markers[:0]
	for _, m := range lp.markers {
		if m.Session != s.id {
			kept = append(kept, m)
		}
	}
	lp.markers = kept
	for i := range fresh {
		fresh[i].ID = lp.nextID
		lp.nextID++
		lp.markers = append(lp.markers, fresh[i])
	}
	return fresh, nil
}

func (lp *LivePipeline) sessionMarkersLocked(session int) []PhantomMarker {
	result := make([]PhantomMarker, 0)
	for _, m := range lp.markers {
		if m.Session == session {
			result = append(result, m)
		}
	}
	return result
}

// Markers returns a copy of all markers in creation order.
func (lp *LivePipeline) Markers() []PhantomMarker {
	lp.Lock()
	defer lp.Unlock()
	result := make([]PhantomMarker, len(lp.markers))
	copy(result, lp.markers)
	return result
}

// SetMarkers replaces all markers, e.g. after loading a drawing. Later ids
// and sessions continue past the largest loaded values.
func (lp *LivePipeline) SetMarkers(markers []PhantomMarker) {
	lp.Lock()
	defer lp.Unlock()
	lp.markers = make([]PhantomMarker, len(markers))
	copy(lp.markers, markers)
	lp.nextID, lp.nextSession = 1, 1
	for _, m := range markers {
		if m.ID >= lp.nextID {
			lp.nextID = m.ID + 1
		}
		if m.Session >= lp.nextSession {
			lp.nextSession = m.Session + 1
		}
	}
}

// ClearMarkers forgets all markers and abandons any active gesture.
func (lp *LivePipeline) ClearMarkers() {
	lp.Lock()
	defer lp.Unlock()
	lp.markers = nil
	lp.session = nil
}
