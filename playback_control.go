package tactile

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/usnistgov/tactile/internal/tactiledb"
)

// PlaybackConfig holds the timing parameters for schedule playback.
type PlaybackConfig struct {
	StepMs         int     // requested burst duration, clamped into [MinStepMs, MaxStepMs]
	TotalSeconds   float64 // requested stroke playback time
	FrequencyCode  int     // 0-7, sent with every command
	MinStepMs      int
	MaxStepMs      int
	JoinTimeoutMs  int // how long Stop waits for the task to exit
	SweepMaxID     int // highest id turned off by a forced safety sweep
	PollIntervalUs int
	TimelineTickMs int
}

// DefaultPlaybackConfig returns the settings used before any are configured.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		StepMs:         40,
		TotalSeconds:   2.0,
		FrequencyCode:  3,
		MinStepMs:      DefaultMinStepMs,
		MaxStepMs:      DefaultMaxStepMs,
		JoinTimeoutMs:  3000,
		SweepMaxID:     MaxActuatorID,
		PollIntervalUs: int(DefaultPollInterval / time.Microsecond),
		TimelineTickMs: int(DefaultTimelineTick / time.Millisecond),
	}
}

// Validate checks the config for internal consistency.
func (pc *PlaybackConfig) Validate() error {
	if err := ValidateStepRange(pc.MinStepMs, pc.MaxStepMs); err != nil {
		return err
	}
	if !(pc.TotalSeconds > 0) || pc.TotalSeconds > MaxTotalSeconds {
		return fmt.Errorf("%w: have %v s", ErrInvalidDuration, pc.TotalSeconds)
	}
	if pc.FrequencyCode < 0 || pc.FrequencyCode > MaxFrequencyCode {
		return fmt.Errorf("frequency code %d out of range [0,%d]", pc.FrequencyCode, MaxFrequencyCode)
	}
	if pc.JoinTimeoutMs <= 0 {
		return fmt.Errorf("join timeout %d ms must be positive", pc.JoinTimeoutMs)
	}
	if pc.SweepMaxID < 0 || pc.SweepMaxID > MaxActuatorID {
		return fmt.Errorf("sweep range [0,%d] exceeds actuator ids [0,%d]", pc.SweepMaxID, MaxActuatorID)
	}
	if pc.PollIntervalUs <= 0 || pc.TimelineTickMs <= 0 {
		return fmt.Errorf("poll interval (%d us) and timeline tick (%d ms) must be positive",
			pc.PollIntervalUs, pc.TimelineTickMs)
	}
	return nil
}

func (pc *PlaybackConfig) joinTimeout() time.Duration {
	return time.Duration(pc.JoinTimeoutMs) * time.Millisecond
}

// PlaybackControl is the JSON-RPC service that configures the renderer and
// runs playback tasks on the actuator device.
type PlaybackControl struct {
	layout     LayoutConfig
	anchors    *AnchorSet
	render     RenderConfig
	playback   PlaybackConfig
	trajectory TrajectoryConfig
	devConfig  DeviceConfig
	dev        Device
	live       *LivePipeline
	store      DrawingStore

	strokes      [][]Point      // strokes built since the last ClearDrawing or LoadDrawing
	lastSchedule []ScheduleStep // most recently built or played schedule

	task     Task
	taskKind string
	zombie   Task // stopped but not yet exited; it may still write to dev
	step     atomic.Int64 // 1 + index of the step now playing; 0 if none

	status        ServerStatus
	clientUpdates chan<- ClientUpdate
	db            *tactiledb.Connection
	persist       bool // store successful configurations with viper
	sync.Mutex
}

// ServerStatus is the status that PlaybackControl reports to clients.
type ServerStatus struct {
	Running    bool
	Kind       string // "stroke", "markers", "timeline", or "" when idle
	Step       int
	NSteps     int
	Layout     string
	NAnchors   int
	Mode       string
	Gain       int
	Device     string
	LastResult *TaskResult
}

// NewPlaybackControl creates a controller with the default layout and
// configuration, driving dev. A nil store disables SaveDrawing and LoadDrawing.
func NewPlaybackControl(dev Device, store DrawingStore, clientUpdates chan<- ClientUpdate,
	db *tactiledb.Connection) *PlaybackControl {
	if db == nil {
		db = tactiledb.DummyDBConnection()
	}
	s := &PlaybackControl{
		layout:        LayoutConfig{Name: "24442"},
		anchors:       Layout24442(),
		render:        RenderConfig{Mode: Phantom2, Gain: 10},
		playback:      DefaultPlaybackConfig(),
		trajectory:    DefaultTrajectoryConfig(),
		devConfig:     DeviceConfig{Kind: "sim"},
		dev:           dev,
		store:         store,
		clientUpdates: clientUpdates,
		db:            db,
	}
	s.live = NewLivePipeline(s.anchors, s.render, s.trajectory)
	s.live.AttachDevice(dev, s.playback.FrequencyCode)
	s.updateStatusLocked()
	return s
}

// saveSetting stores value under key in the config file.
func (s *PlaybackControl) saveSetting(key string, value any) {
	if !s.persist {
		return
	}
	viper.Set(key, value)
	if err := viper.WriteConfig(); err != nil {
		log.Printf("could not store %q setting: %v", key, err)
	}
}

// settingsDecodeHook lets the config file name render modes and durations as strings.
func settingsDecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// restoreSettings applies the settings stored in the config file. Invalid
// stored values are logged and skipped.
func (s *PlaybackControl) restoreSettings() {
	var okay bool
	log.Printf("Tactile server is using config file %s\n", viper.ConfigFileUsed())

	var lc LayoutConfig
	if viper.IsSet("layout") {
		if err := viper.UnmarshalKey("layout", &lc, settingsDecodeHook()); err != nil {
			log.Printf("stored layout could not be decoded: %v", err)
		} else if err := s.ConfigureLayout(&lc, &okay); err != nil {
			log.Printf("stored layout not used: %v", err)
		}
	}
	var rc RenderConfig
	if viper.IsSet("render") {
		if err := viper.UnmarshalKey("render", &rc, settingsDecodeHook()); err != nil {
			log.Printf("stored render config could not be decoded: %v", err)
		} else if err := s.ConfigureRender(&rc, &okay); err != nil {
			log.Printf("stored render config not used: %v", err)
		}
	}
	pc := DefaultPlaybackConfig()
	if viper.IsSet("playback") {
		if err := viper.UnmarshalKey("playback", &pc, settingsDecodeHook()); err != nil {
			log.Printf("stored playback config could not be decoded: %v", err)
		} else if err := s.ConfigurePlayback(&pc, &okay); err != nil {
			log.Printf("stored playback config not used: %v", err)
		}
	}
	tc := DefaultTrajectoryConfig()
	if viper.IsSet("trajectory") {
		if err := viper.UnmarshalKey("trajectory", &tc, settingsDecodeHook()); err != nil {
			log.Printf("stored trajectory config could not be decoded: %v", err)
		} else if err := s.ConfigureTrajectory(&tc, &okay); err != nil {
			log.Printf("stored trajectory config not used: %v", err)
		}
	}
}

// ConfigureLayout selects the actuator layout by name, file, or explicit anchors.
func (s *PlaybackControl) ConfigureLayout(args *LayoutConfig, reply *bool) error {
	anchors, err := args.Resolve()
	*reply = (err == nil)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	s.layout = *args
	s.anchors = anchors
	s.live.Configure(anchors, s.render)
	log.Printf("ConfigureLayout: %q with %d anchors\n", anchors.Name, anchors.Len())
	s.saveSetting("layout", *args)
	s.clientUpdates <- ClientUpdate{"LAYOUT", anchors.Anchors()}
	s.broadcastUpdateLocked()
	return nil
}

// LoadLayoutFile reads a layout file and makes it the active layout.
func (s *PlaybackControl) LoadLayoutFile(filename *string, reply *bool) error {
	return s.ConfigureLayout(&LayoutConfig{File: *filename}, reply)
}

// ConfigureRender sets the phantom render mode and virtual intensity.
func (s *PlaybackControl) ConfigureRender(args *RenderConfig, reply *bool) error {
	err := args.Validate()
	*reply = (err == nil)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	s.render = *args
	s.live.Configure(s.anchors, s.render)
	log.Printf("ConfigureRender: mode=%v gain=%d\n", args.Mode, args.Gain)
	s.saveSetting("render", *args)
	s.clientUpdates <- ClientUpdate{"RENDER", args}
	s.broadcastUpdateLocked()
	return nil
}

// ConfigurePlayback sets the timing parameters used by later playbacks.
func (s *PlaybackControl) ConfigurePlayback(args *PlaybackConfig, reply *bool) error {
	err := args.Validate()
	*reply = (err == nil)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	s.playback = *args
	s.live.AttachDevice(s.dev, args.FrequencyCode)
	log.Printf("ConfigurePlayback: %+v\n", *args)
	s.saveSetting("playback", *args)
	s.clientUpdates <- ClientUpdate{"PLAYBACK", args}
	return nil
}

// ConfigureTrajectory sets the marker sampling used by later drag gestures.
func (s *PlaybackControl) ConfigureTrajectory(args *TrajectoryConfig, reply *bool) error {
	*reply = false
	if args.Rate < 0 || args.MaxMarkers < 0 {
		return fmt.Errorf("trajectory rate %v and max markers %d must not be negative", args.Rate, args.MaxMarkers)
	}
	s.Lock()
	defer s.Unlock()
	s.trajectory = *args
	s.live.ConfigureTrajectory(*args)
	s.saveSetting("trajectory", *args)
	*reply = true
	return nil
}

// ConfigureDevice closes the current device and opens the one described by args.
func (s *PlaybackControl) ConfigureDevice(args *DeviceConfig, reply *bool) error {
	*reply = false
	s.Lock()
	defer s.Unlock()
	if err := s.busyLocked(); err != nil {
		return err
	}
	dev, err := OpenDevice(args)
	if err != nil {
		return err
	}
	s.live.AttachDevice(dev, s.playback.FrequencyCode)
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			ProblemLogger.Printf("closing previous device: %v", err)
		}
	}
	s.dev = dev
	s.devConfig = *args
	log.Printf("ConfigureDevice: %+v\n", *args)
	s.saveSetting("device", *args)
	s.broadcastUpdateLocked()
	*reply = true
	return nil
}

// StrokeArgs is a drawn stroke plus optional timing. Zero StepMs or
// TotalSeconds means use the configured value.
type StrokeArgs struct {
	Points       []Point
	StepMs       int
	TotalSeconds float64
}

// ScheduleSummary describes a built schedule.
type ScheduleSummary struct {
	NSteps     int
	StepMs     int
	SOAMs      float64
	DurationMs float64 // from the first onset to the last offset
	Actuators  []int
}

func summarize(steps []ScheduleStep) ScheduleSummary {
	summary := ScheduleSummary{NSteps: len(steps), Actuators: ScheduleActuators(steps)}
	if len(steps) > 0 {
		last := steps[len(steps)-1]
		summary.StepMs = steps[0].DurationMs
		summary.SOAMs = SOA(summary.StepMs)
		summary.DurationMs = last.TOn + float64(last.DurationMs)
	}
	return summary
}

func (s *PlaybackControl) buildLocked(args *StrokeArgs) ([]ScheduleStep, error) {
	stepMs, total := args.StepMs, args.TotalSeconds
	if stepMs == 0 {
		stepMs = s.playback.StepMs
	}
	if total == 0 {
		total = s.playback.TotalSeconds
	}
	b := ScheduleBuilder{Anchors: s.anchors, Render: s.render,
		MinStepMs: s.playback.MinStepMs, MaxStepMs: s.playback.MaxStepMs}
	steps, err := b.Build(args.Points, stepMs, total)
	if err != nil {
		return steps, err
	}
	stroke := make([]Point, len(args.Points))
	copy(stroke, args.Points)
	s.strokes = append(s.strokes, stroke)
	s.lastSchedule = steps
	return steps, nil
}

// BuildStroke builds the schedule for a stroke without playing it.
func (s *PlaybackControl) BuildStroke(args *StrokeArgs, reply *ScheduleSummary) error {
	s.Lock()
	defer s.Unlock()
	steps, err := s.buildLocked(args)
	if err != nil {
		return err
	}
	*reply = summarize(steps)
	return nil
}

// PlayStroke builds the schedule for a stroke and starts playing it.
func (s *PlaybackControl) PlayStroke(args *StrokeArgs, reply *bool) error {
	*reply = false
	s.Lock()
	defer s.Unlock()
	if err := s.busyLocked(); err != nil {
		return err
	}
	steps, err := s.buildLocked(args)
	if err != nil {
		return err
	}
	if err := s.startScheduleLocked("stroke", steps); err != nil {
		return err
	}
	*reply = true
	return nil
}

// PlayMarkers plays the saved phantom markers in creation order, one per step.
func (s *PlaybackControl) PlayMarkers(dummy *string, reply *bool) error {
	*reply = false
	s.Lock()
	defer s.Unlock()
	if err := s.busyLocked(); err != nil {
		return err
	}
	steps, err := MarkerSchedule(s.live.Markers(), s.playback.StepMs, s.playback.MinStepMs, s.playback.MaxStepMs)
	if err != nil {
		return err
	}
	s.lastSchedule = steps
	if err := s.startScheduleLocked("markers", steps); err != nil {
		return err
	}
	*reply = true
	return nil
}

// TimelineArgs holds the clips of a timeline.
type TimelineArgs struct {
	Clips []ClipSpec
}

// PlayTimeline starts continuous playback of the given clips.
func (s *PlaybackControl) PlayTimeline(args *TimelineArgs, reply *bool) error {
	*reply = false
	clips := make([]TimelineClip, 0, len(args.Clips))
	for i := range args.Clips {
		clip, err := args.Clips[i].Clip()
		if err != nil {
			return err
		}
		clips = append(clips, clip)
	}
	s.Lock()
	defer s.Unlock()
	if err := s.busyLocked(); err != nil {
		return err
	}
	if s.dev == nil {
		return fmt.Errorf("no device is configured")
	}
	tick := time.Duration(s.playback.TimelineTickMs) * time.Millisecond
	tw, err := NewTimelineWorker(clips, s.dev, s.playback.FrequencyCode, tick)
	if err != nil {
		return err
	}
	nticks := int(tw.Duration() / tw.Tick)
	if err := s.startTaskLocked("timeline", tw, nticks); err != nil {
		return err
	}
	*reply = true
	return nil
}

// stepTracker records the playing step for status reports, then forwards
// to the client observer.
type stepTracker struct {
	step *atomic.Int64
	next Observer
}

func (st stepTracker) StepStarted(index int, bursts []BurstIntensity, point Point) {
	st.step.Store(int64(index + 1))
	if st.next != nil {
		st.next.StepStarted(index, bursts, point)
	}
}

func (s *PlaybackControl) startScheduleLocked(kind string, steps []ScheduleStep) error {
	if s.dev == nil {
		return fmt.Errorf("no device is configured")
	}
	observer := stepTracker{step: &s.step, next: updateObserver{clientUpdates: s.clientUpdates}}
	w, err := NewPlaybackWorker(steps, s.dev, s.playback.FrequencyCode, observer)
	if err != nil {
		return err
	}
	w.PollInterval = time.Duration(s.playback.PollIntervalUs) * time.Microsecond
	return s.startTaskLocked(kind, w, len(steps))
}

// startTaskLocked releases any live preview, starts t, and launches the
// goroutine that records its result.
func (s *PlaybackControl) startTaskLocked(kind string, t Task, nsteps int) error {
	if err := s.busyLocked(); err != nil {
		return err
	}
	s.live.Release()
	s.step.Store(0)
	if err := t.Start(); err != nil {
		return err
	}
	s.task = t
	s.taskKind = kind
	s.status.NSteps = nsteps
	log.Printf("Starting %s playback: %d steps on actuators %v\n", kind, nsteps, t.Actuators())

	run := &tactiledb.RunMessage{
		ID:     tactiledb.NewID(),
		Kind:   kind,
		Mode:   s.render.Mode.String(),
		Gain:   s.render.Gain,
		NSteps: nsteps,
		StepMs: ClampStepMs(s.playback.StepMs, s.playback.MinStepMs, s.playback.MaxStepMs),
		Start:  time.Now(),
	}
	s.db.RecordRun(run)
	go s.monitor(t, run)
	s.broadcastUpdateLocked()
	return nil
}

// monitor waits for t to finish, then records and broadcasts its result.
func (s *PlaybackControl) monitor(t Task, run *tactiledb.RunMessage) {
	<-t.Done()
	result := t.Result()
	run.OK = result.OK
	run.State = result.State.String()
	run.Message = result.Message
	s.db.FinishRun(run)

	s.Lock()
	defer s.Unlock()
	if s.task == t {
		s.task = nil
		s.taskKind = ""
	}
	if s.zombie == t {
		s.zombie = nil
	}
	s.status.LastResult = &result
	s.clientUpdates <- ClientUpdate{"RESULT", result}
	s.broadcastUpdateLocked()
}

// busyLocked returns ErrBusy while a task runs, or while a task abandoned by
// Stop has not yet exited.
func (s *PlaybackControl) busyLocked() error {
	if s.task != nil {
		return ErrBusy
	}
	if s.zombie != nil {
		select {
		case <-s.zombie.Done():
			s.zombie = nil
		default:
			return fmt.Errorf("%w: an abandoned playback has not exited", ErrBusy)
		}
	}
	return nil
}

// Stop stops the running playback, waits up to the join timeout for it to
// exit, and turns off every actuator it could have turned on. If the task
// does not exit in time, it is abandoned and every id up to SweepMaxID is
// turned off directly. New tasks are refused until the abandoned one exits.
func (s *PlaybackControl) Stop(dummy *string, reply *bool) error {
	*reply = false
	s.Lock()
	defer s.Unlock()
	t := s.task
	if t == nil {
		return ErrNotRunning
	}
	log.Printf("Stopping %s playback\n", s.taskKind)
	t.Stop()
	result, err := t.Wait(s.playback.joinTimeout())
	if err != nil {
		log.Printf("%v; abandoning it and sweeping actuators 0-%d\n", err, s.playback.SweepMaxID)
		nfail := allOff(s.dev, sweepIDs(s.playback.SweepMaxID), s.playback.FrequencyCode)
		if nfail > 0 {
			ProblemLogger.Printf("safety sweep: %d OFF commands failed", nfail)
		}
		s.zombie = t
	} else {
		log.Printf("%s playback exited: %s %s\n", s.taskKind, result.State, result.Message)
	}
	allOff(s.dev, t.Actuators(), s.playback.FrequencyCode)

	s.task = nil
	s.taskKind = ""
	s.broadcastUpdateLocked()
	*reply = true
	return nil
}

// Preview computes the bursts for one live point and, when no playback is
// running or abandoned, renders them on the device at once.
func (s *PlaybackControl) Preview(p *Point, reply *[]BurstIntensity) error {
	s.Lock()
	defer s.Unlock()
	preview := s.live.Preview
	if s.busyLocked() != nil {
		preview = s.live.Bursts
	}
	bursts, err := preview(*p)
	if err != nil {
		return err
	}
	*reply = bursts
	return nil
}

// PreviewRelease turns off the actuators of the last preview.
func (s *PlaybackControl) PreviewRelease(dummy *string, reply *bool) error {
	s.live.Release()
	*reply = true
	return nil
}

// BeginTrajectory starts a drag gesture; the reply holds its first marker.
func (s *PlaybackControl) BeginTrajectory(p *Point, reply *PhantomMarker) error {
	m, err := s.live.BeginTrajectory(*p, time.Now())
	if err != nil {
		return err
	}
	*reply = m
	s.clientUpdates <- ClientUpdate{"MARKER", m}
	return nil
}

// SampleTrajectory extends the active gesture. The reply holds the new
// marker, or is empty when the point was not sampled.
func (s *PlaybackControl) SampleTrajectory(p *Point, reply *[]PhantomMarker) error {
	m, err := s.live.SampleTrajectory(*p, time.Now())
	if err != nil {
		return err
	}
	*reply = []PhantomMarker{}
	if m != nil {
		*reply = append(*reply, *m)
		s.clientUpdates <- ClientUpdate{"MARKER", *m}
	}
	return nil
}

// EndTrajectory finishes the active gesture; the reply holds its final markers.
func (s *PlaybackControl) EndTrajectory(dummy *string, reply *[]PhantomMarker) error {
	markers, err := s.live.EndTrajectory()
	if err != nil {
		return err
	}
	*reply = markers
	s.clientUpdates <- ClientUpdate{"MARKERS", s.live.Markers()}
	return nil
}

// PlaceMarker records a manually placed phantom marker.
func (s *PlaybackControl) PlaceMarker(p *Point, reply *PhantomMarker) error {
	m, err := s.live.PlaceMarker(*p)
	if err != nil {
		return err
	}
	*reply = m
	s.clientUpdates <- ClientUpdate{"MARKER", m}
	return nil
}

// ClearMarkers forgets all phantom markers.
func (s *PlaybackControl) ClearMarkers(dummy *string, reply *bool) error {
	s.live.ClearMarkers()
	s.clientUpdates <- ClientUpdate{"MARKERS", []PhantomMarker{}}
	*reply = true
	return nil
}

// ClearDrawing forgets all strokes and markers.
func (s *PlaybackControl) ClearDrawing(dummy *string, reply *bool) error {
	s.Lock()
	s.strokes = nil
	s.lastSchedule = nil
	s.Unlock()
	return s.ClearMarkers(dummy, reply)
}

// drawingLocked captures the current work as a Drawing.
func (s *PlaybackControl) drawingLocked() *Drawing {
	strokes := make([][]Point, len(s.strokes))
	copy(strokes, s.strokes)
	return &Drawing{
		Strokes:      strokes,
		Markers:      s.live.Markers(),
		Anchors:      s.anchors.Anchors(),
		Render:       s.render,
		StepMs:       s.playback.StepMs,
		TotalSeconds: s.playback.TotalSeconds,
	}
}

// SaveDrawing stores the current strokes, markers, layout, and render
// settings under the given key.
func (s *PlaybackControl) SaveDrawing(key *string, reply *bool) error {
	*reply = false
	s.Lock()
	defer s.Unlock()
	if s.store == nil {
		return fmt.Errorf("no drawing store is configured")
	}
	if err := s.store.Save(*key, s.drawingLocked()); err != nil {
		return err
	}
	log.Printf("SaveDrawing: %q with %d strokes\n", *key, len(s.strokes))
	*reply = true
	return nil
}

// LoadDrawing restores the drawing stored under key, replacing the layout,
// render settings, strokes, and markers.
func (s *PlaybackControl) LoadDrawing(key *string, reply *bool) error {
	*reply = false
	s.Lock()
	defer s.Unlock()
	if s.store == nil {
		return fmt.Errorf("no drawing store is configured")
	}
	d, err := s.store.Load(*key)
	if err != nil {
		return err
	}
	anchors, err := d.AnchorSet()
	if err != nil {
		return err
	}
	if err := d.Render.Validate(); err != nil {
		return err
	}
	s.anchors = anchors
	s.layout = LayoutConfig{Name: anchors.Name, Anchors: anchors.Anchors()}
	s.render = d.Render
	s.live.Configure(anchors, d.Render)
	s.live.SetMarkers(d.Markers)
	s.strokes = d.Strokes
	s.lastSchedule = nil
	log.Printf("LoadDrawing: %q with %d strokes and %d markers\n", *key, len(d.Strokes), len(d.Markers))
	s.clientUpdates <- ClientUpdate{"DRAWING", d}
	s.broadcastUpdateLocked()
	*reply = true
	return nil
}

// ListDrawings returns the keys of all stored drawings.
func (s *PlaybackControl) ListDrawings(dummy *string, reply *[]string) error {
	if s.store == nil {
		return fmt.Errorf("no drawing store is configured")
	}
	keys, err := s.store.Keys()
	if err != nil {
		return err
	}
	*reply = keys
	return nil
}

// ExportSchedule writes the most recent schedule to the named .npy file.
func (s *PlaybackControl) ExportSchedule(filename *string, reply *bool) error {
	*reply = false
	s.Lock()
	steps := s.lastSchedule
	s.Unlock()
	if len(steps) == 0 {
		return fmt.Errorf("no schedule has been built")
	}
	if err := ExportScheduleFile(*filename, steps); err != nil {
		return err
	}
	*reply = true
	return nil
}

func (s *PlaybackControl) updateStatusLocked() {
	s.status.Running = s.task != nil
	s.status.Kind = s.taskKind
	if s.task == nil {
		s.status.NSteps = 0
		s.step.Store(0)
	}
	s.status.Step = int(s.step.Load())
	s.status.Layout = s.anchors.Name
	s.status.NAnchors = s.anchors.Len()
	s.status.Mode = s.render.Mode.String()
	s.status.Gain = s.render.Gain
	s.status.Device = s.devConfig.Kind
}

func (s *PlaybackControl) broadcastUpdateLocked() {
	s.updateStatusLocked()
	s.clientUpdates <- ClientUpdate{"STATUS", s.status}
}

func (s *PlaybackControl) broadcastUpdate() {
	s.Lock()
	defer s.Unlock()
	s.broadcastUpdateLocked()
}

// Status returns a copy of the current status.
func (s *PlaybackControl) Status(dummy *string, reply *ServerStatus) error {
	s.Lock()
	defer s.Unlock()
	s.updateStatusLocked()
	*reply = s.status
	return nil
}

// SendAllStatus causes a broadcast to clients containing all broadcastable status info
func (s *PlaybackControl) SendAllStatus(dummy *string, reply *bool) error {
	s.Lock()
	defer s.Unlock()
	s.broadcastUpdateLocked()
	s.clientUpdates <- ClientUpdate{"LAYOUT", s.anchors.Anchors()}
	s.clientUpdates <- ClientUpdate{"RENDER", s.render}
	s.clientUpdates <- ClientUpdate{"PLAYBACK", s.playback}
	s.clientUpdates <- ClientUpdate{"MARKERS", s.live.Markers()}
	s.clientUpdates <- ClientUpdate{"SENDALL", 0}
	*reply = true
	return nil
}

// shutdown stops any playback and closes the device.
func (s *PlaybackControl) shutdown() {
	var okay bool
	if err := s.Stop(nil, &okay); err != nil && err != ErrNotRunning {
		log.Printf("shutdown: %v", err)
	}
	s.live.AttachDevice(nil, 0)
	s.Lock()
	defer s.Unlock()
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			ProblemLogger.Printf("closing device: %v", err)
		}
		s.dev = nil
	}
}

// DrawingDir returns the configured directory for stored drawings.
func DrawingDir() string {
	if dir := viper.GetString("drawings"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".tactile", "drawings")
}

// RunRPCServer sets up and runs a permanent JSON-RPC server. It opens the
// configured device, restores stored settings, and broadcasts status every
// 2 seconds. If block, it runs until the listener fails; otherwise it
// serves in the background and returns once listening.
func RunRPCServer(portrpc int, clientUpdates chan<- ClientUpdate, db *tactiledb.Connection, block bool) error {
	devConfig := DeviceConfig{Kind: "sim"}
	if viper.IsSet("device") {
		if err := viper.UnmarshalKey("device", &devConfig); err != nil {
			return err
		}
	}
	dev, err := OpenDevice(&devConfig)
	if err != nil {
		return fmt.Errorf("could not open %s device: %w", devConfig.Kind, err)
	}

	// Set up objects to handle remote calls
	pc := NewPlaybackControl(dev, &FileStore{Dir: DrawingDir()}, clientUpdates, db)
	pc.devConfig = devConfig
	pc.restoreSettings()
	pc.persist = true

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			pc.broadcastUpdate()
		}
	}()

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	if err := server.Register(pc); err != nil {
		return err
	}
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		pc.shutdown()
		return fmt.Errorf("listen error: %w", err)
	}
	serve := func() error {
		defer pc.shutdown()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return fmt.Errorf("accept error: %w", err)
			}
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
	if block {
		return serve()
	}
	go func() {
		if err := serve(); err != nil {
			log.Println(err)
		}
	}()
	return nil
}
