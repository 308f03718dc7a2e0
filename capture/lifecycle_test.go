package capture

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ridelog-data/ridelog/model"
	"github.com/ridelog-data/ridelog/storage"
	"github.com/ridelog-data/ridelog/timeutil"
)

// latStepForMeters converts a northward distance to a latitude delta.
func latStepForMeters(meters float64) float64 {
	return meters / model.EarthRadiusMeters * 180 / math.Pi
}

type testCapture struct {
	lifecycle *Lifecycle
	store     *storage.SQLiteStore
	clock     *timeutil.MockClock
	listener  *recordingListener
	location  *MockLocationSource
	accel     *MockSensorSource
}

func newTestCapture(t *testing.T) *testCapture {
	return newTestCaptureWith(t, func(s storage.Store) storage.Store { return s })
}

// newTestCaptureWith builds the capture service over a real database, with
// the lifecycle's store view optionally wrapped, e.g. to inject failures.
func newTestCaptureWith(t *testing.T, wrap func(storage.Store) storage.Store) *testCapture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	buffers := &Buffers{}
	listener := &recordingListener{}
	accel := &MockSensorSource{}
	location := &MockLocationSource{}

	sensors := NewSensorSampler(SensorSamplerConfig{
		Accelerometer: accel,
		Buffers:       buffers,
		Clock:         clock,
	})
	locations := NewLocationSampler(LocationSamplerConfig{
		Source:   location,
		Buffers:  buffers,
		Listener: listener,
		Clock:    clock,
	})
	lifecycle := NewLifecycle(LifecycleConfig{
		Store:     wrap(store),
		Sensors:   sensors,
		Locations: locations,
		Buffers:   buffers,
		Listener:  listener,
		Clock:     clock,
	})
	return &testCapture{
		lifecycle: lifecycle,
		store:     store,
		clock:     clock,
		listener:  listener,
		location:  location,
		accel:     accel,
	}
}

// emitFix delivers a clean fix at the given offset from the mock clock's
// start, stepping north so consecutive fixes are meters apart.
func (tc *testCapture) emitFix(offset time.Duration, latSteps int) {
	fix := validFix(tc.clock.Now().Add(offset).UnixMilli())
	fix.Latitude += float64(latSteps) * latStepForMeters(10)
	tc.location.Emit(fix)
}

func TestLifecycleFullSession(t *testing.T) {
	tc := newTestCapture(t)
	l := tc.lifecycle

	if err := l.Start("BICYCLE"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if l.State() != StateRunning {
		t.Fatalf("state = %v, want running", l.State())
	}
	id, ok := l.CurrentMeasurement()
	if !ok {
		t.Fatal("no current measurement after start")
	}

	// Two clean fixes one second and roughly ten meters apart.
	tc.emitFix(0, 0)
	tc.emitFix(time.Second, 1)

	if err := l.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if l.State() != StatePaused {
		t.Fatalf("state = %v, want paused", l.State())
	}
	if err := l.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}

	// One more fix on the resumed track, another ten meters north. It must
	// not add distance: the previous track's anchor does not carry across
	// the track boundary.
	tc.emitFix(10*time.Second, 2)

	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if l.State() != StateIdle {
		t.Fatalf("state = %v, want idle", l.State())
	}
	if _, ok := l.CurrentMeasurement(); ok {
		t.Error("current measurement survived stop")
	}

	m, err := tc.store.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.Synchronizable {
		t.Error("stopped measurement not synchronizable")
	}
	if m.Modality != "BICYCLE" {
		t.Errorf("modality = %q, want BICYCLE", m.Modality)
	}
	if len(m.Tracks) != 2 {
		t.Fatalf("tracks = %d, want 2 (one per running span)", len(m.Tracks))
	}
	if n := len(m.Tracks[0].Locations); n != 2 {
		t.Errorf("first track has %d locations, want 2", n)
	}
	if n := len(m.Tracks[1].Locations); n != 1 {
		t.Errorf("second track has %d locations, want 1", n)
	}
	if math.Abs(m.TrackLength-10) > 0.1 {
		t.Errorf("track length = %f, want ~10", m.TrackLength)
	}

	wantEvents := []model.EventType{
		model.EventModalityChange,
		model.EventLifecycleStart,
		model.EventLifecyclePause,
		model.EventLifecycleResume,
		model.EventLifecycleStop,
	}
	if len(m.Events) != len(wantEvents) {
		t.Fatalf("events = %d, want %d", len(m.Events), len(wantEvents))
	}
	for i, want := range wantEvents {
		if m.Events[i].Type != want {
			t.Errorf("event %d = %v, want %v", i, m.Events[i].Type, want)
		}
	}
	if m.Events[0].Value != "BICYCLE" {
		t.Errorf("modality event value = %q, want BICYCLE", m.Events[0].Value)
	}

	// The listener saw the same event sequence.
	got := tc.listener.eventTypes()
	if len(got) != len(wantEvents) {
		t.Fatalf("listener events = %d, want %d", len(got), len(wantEvents))
	}
	for i, want := range wantEvents {
		if got[i] != want {
			t.Errorf("listener event %d = %v, want %v", i, got[i], want)
		}
	}
}

func TestLifecycleMisuseErrors(t *testing.T) {
	tests := []struct {
		name    string
		arrange func(l *Lifecycle)
		call    func(l *Lifecycle) error
		want    error
	}{
		{
			name:    "pause while idle",
			arrange: func(l *Lifecycle) {},
			call:    (*Lifecycle).Pause,
			want:    ErrNotRunning,
		},
		{
			name:    "resume while idle",
			arrange: func(l *Lifecycle) {},
			call:    (*Lifecycle).Resume,
			want:    ErrNotPaused,
		},
		{
			name:    "resume while running",
			arrange: func(l *Lifecycle) { l.Start("BICYCLE") },
			call:    (*Lifecycle).Resume,
			want:    ErrIsRunning,
		},
		{
			name: "pause while paused",
			arrange: func(l *Lifecycle) {
				l.Start("BICYCLE")
				l.Pause()
			},
			call: (*Lifecycle).Pause,
			want: ErrIsPaused,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCapture(t)
			tt.arrange(tc.lifecycle)
			if err := tt.call(tc.lifecycle); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLifecycleDoubleStartAndStopAreNoOps(t *testing.T) {
	tc := newTestCapture(t)
	l := tc.lifecycle

	if err := l.Start("BICYCLE"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, _ := l.CurrentMeasurement()

	// A duplicate start must not create a second measurement.
	if err := l.Start("CAR"); err != nil {
		t.Fatalf("double start: %v", err)
	}
	second, _ := l.CurrentMeasurement()
	if first != second {
		t.Errorf("double start replaced measurement %d with %d", first, second)
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("double stop: %v", err)
	}

	all, err := tc.store.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("stored measurements = %d, want 1", len(all))
	}
}

func TestLifecycleModalityChangeIdempotent(t *testing.T) {
	tc := newTestCapture(t)
	l := tc.lifecycle

	if err := l.Start("BICYCLE"); err != nil {
		t.Fatalf("start: %v", err)
	}
	id, _ := l.CurrentMeasurement()

	// Same value again: no new event.
	if err := l.ChangeModality("BICYCLE"); err != nil {
		t.Fatalf("change modality: %v", err)
	}
	// New value: one event.
	if err := l.ChangeModality("CAR"); err != nil {
		t.Fatalf("change modality: %v", err)
	}
	// Back-to-back duplicate of the new value: no event.
	if err := l.ChangeModality("CAR"); err != nil {
		t.Fatalf("change modality: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	m, err := tc.store.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var modalities []string
	for _, e := range m.Events {
		if e.Type == model.EventModalityChange {
			modalities = append(modalities, e.Value)
		}
	}
	if len(modalities) != 2 || modalities[0] != "BICYCLE" || modalities[1] != "CAR" {
		t.Errorf("modality events = %v, want [BICYCLE CAR]", modalities)
	}
}

func TestLifecycleModalityChangeWithoutMeasurement(t *testing.T) {
	tc := newTestCapture(t)
	if err := tc.lifecycle.ChangeModality("BICYCLE"); err != nil {
		t.Errorf("modality change while idle: %v", err)
	}
}

func TestLifecycleStartWhilePausedFinalizes(t *testing.T) {
	tc := newTestCapture(t)
	l := tc.lifecycle

	if err := l.Start("BICYCLE"); err != nil {
		t.Fatalf("start: %v", err)
	}
	stale, _ := l.CurrentMeasurement()
	if err := l.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Starting over a paused measurement finalizes it first. This is the
	// recovery path after a process restart lost the pause state.
	if err := l.Start("CAR"); err != nil {
		t.Fatalf("start while paused: %v", err)
	}
	if l.State() != StateRunning {
		t.Fatalf("state = %v, want running", l.State())
	}
	fresh, ok := l.CurrentMeasurement()
	if !ok || fresh == stale {
		t.Fatalf("current = %d (ok=%v), want a new measurement", fresh, ok)
	}

	old, err := tc.store.Load(stale)
	if err != nil {
		t.Fatalf("load stale: %v", err)
	}
	if !old.Synchronizable {
		t.Error("stale measurement not finalized")
	}
	last := old.Events[len(old.Events)-1]
	if last.Type != model.EventLifecycleStop {
		t.Errorf("stale measurement's last event = %v, want stop", last.Type)
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

// faultStore wraps a real store and fails selected operations on demand.
type faultStore struct {
	storage.Store
	createErr error
	eventErr  error
}

func (s *faultStore) CreateMeasurement(startTimestamp int64, modality string) (*model.Measurement, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.Store.CreateMeasurement(startTimestamp, modality)
}

func (s *faultStore) CreateEvent(id model.MeasurementID, typ model.EventType, value string, timestamp int64) (model.Event, error) {
	if s.eventErr != nil {
		return model.Event{}, s.eventErr
	}
	return s.Store.CreateEvent(id, typ, value, timestamp)
}

func TestLifecycleStartWhilePausedCreateFailure(t *testing.T) {
	faults := &faultStore{}
	tc := newTestCaptureWith(t, func(s storage.Store) storage.Store {
		faults.Store = s
		return faults
	})
	l := tc.lifecycle

	if err := l.Start("BICYCLE"); err != nil {
		t.Fatalf("start: %v", err)
	}
	stale, _ := l.CurrentMeasurement()
	if err := l.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// The stale measurement is finalized before the create runs; when the
	// create fails the machine must end up idle, not paused over nothing.
	faults.createErr = errors.New("disk full")
	if err := l.Start("CAR"); !errors.Is(err, ErrNoCurrentMeasurement) {
		t.Fatalf("start over failing store = %v, want ErrNoCurrentMeasurement", err)
	}
	if l.State() != StateIdle {
		t.Fatalf("state = %v, want idle", l.State())
	}
	if _, ok := l.CurrentMeasurement(); ok {
		t.Fatal("current measurement set after failed start")
	}

	// Follow-up calls behave like any idle service instead of panicking.
	if err := l.Stop(); err != nil {
		t.Errorf("stop after failed start: %v", err)
	}
	if err := l.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Errorf("resume after failed start = %v, want ErrNotPaused", err)
	}

	old, err := tc.store.Load(stale)
	if err != nil {
		t.Fatalf("load stale: %v", err)
	}
	if !old.Synchronizable {
		t.Error("stale measurement not finalized")
	}

	// Once the store recovers, a fresh capture starts normally.
	faults.createErr = nil
	if err := l.Start("CAR"); err != nil {
		t.Fatalf("start after recovery: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestLifecyclePauseEventFailureStillPauses(t *testing.T) {
	faults := &faultStore{}
	tc := newTestCaptureWith(t, func(s storage.Store) storage.Store {
		faults.Store = s
		return faults
	})
	l := tc.lifecycle

	if err := l.Start("BICYCLE"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The samplers are detached before the pause event is appended, so a
	// failed append must still leave the machine paused.
	faults.eventErr = errors.New("disk full")
	if err := l.Pause(); err == nil {
		t.Fatal("pause over failing store succeeded")
	}
	if l.State() != StatePaused {
		t.Fatalf("state = %v, want paused", l.State())
	}
	if tc.location.Subscribed() || tc.accel.Subscribed() {
		t.Error("samplers still attached after failed pause")
	}

	faults.eventErr = nil
	if err := l.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestLifecycleReattachPaused(t *testing.T) {
	tc := newTestCapture(t)

	// An open measurement in storage means a previous process died while
	// capturing.
	orphan, err := tc.store.CreateMeasurement(tc.clock.Now().UnixMilli(), "BICYCLE")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tc.store.AppendTrack(orphan.ID); err != nil {
		t.Fatalf("append track: %v", err)
	}

	l := tc.lifecycle
	if err := l.ReattachPaused(); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if l.State() != StatePaused {
		t.Fatalf("state = %v, want paused", l.State())
	}
	id, ok := l.CurrentMeasurement()
	if !ok || id != orphan.ID {
		t.Fatalf("current = %d (ok=%v), want %d", id, ok, orphan.ID)
	}

	tc.listener.mu.Lock()
	paused := append([]model.MeasurementID(nil), tc.listener.paused...)
	tc.listener.mu.Unlock()
	if len(paused) != 1 || paused[0] != orphan.ID {
		t.Errorf("paused notifications = %v, want [%d]", paused, orphan.ID)
	}

	// The reattached measurement resumes and stops like any paused one.
	if err := l.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	m, err := tc.store.Load(orphan.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.Synchronizable {
		t.Error("reattached measurement not finalized by stop")
	}
}

func TestLifecycleReattachPausedEmptyStore(t *testing.T) {
	tc := newTestCapture(t)
	if err := tc.lifecycle.ReattachPaused(); err != nil {
		t.Fatalf("reattach on empty store: %v", err)
	}
	if tc.lifecycle.State() != StateIdle {
		t.Errorf("state = %v, want idle", tc.lifecycle.State())
	}
}

func TestLifecycleStopFlushesBuffers(t *testing.T) {
	tc := newTestCapture(t)
	l := tc.lifecycle

	if err := l.Start("BICYCLE"); err != nil {
		t.Fatalf("start: %v", err)
	}
	id, _ := l.CurrentMeasurement()

	tc.emitFix(0, 0)
	tc.accel.Emit(SensorReading{MonotonicNs: 1, X: 0.1})
	tc.accel.Emit(SensorReading{MonotonicNs: 2, X: 0.2})

	// No flush tick has fired; Stop performs the final flush itself.
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	m, err := tc.store.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Tracks) != 1 || len(m.Tracks[0].Locations) != 1 {
		t.Fatalf("tracks = %+v, want one track with one location", m.Tracks)
	}
	if m.AccelerationCount != 2 {
		t.Errorf("acceleration count = %d, want 2", m.AccelerationCount)
	}
	accelerations, _, _, err := tc.store.LoadSensorValues(id)
	if err != nil {
		t.Fatalf("load sensor values: %v", err)
	}
	if len(accelerations) != 2 {
		t.Errorf("stored accelerations = %d, want 2", len(accelerations))
	}
}

func TestLifecyclePeriodicFlush(t *testing.T) {
	tc := newTestCapture(t)
	l := tc.lifecycle

	if err := l.Start("BICYCLE"); err != nil {
		t.Fatalf("start: %v", err)
	}
	id, _ := l.CurrentMeasurement()
	tc.emitFix(0, 0)

	// Drive the mock clock past the flush interval until the flusher
	// goroutine has picked up the tick and persisted the batch.
	deadline := time.Now().Add(5 * time.Second)
	for {
		tc.clock.Advance(DefaultFlushInterval)
		time.Sleep(5 * time.Millisecond)

		m, err := tc.store.Load(id)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(m.Tracks) == 1 && len(m.Tracks[0].Locations) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("periodic flush never persisted the batch")
		}
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestLifecycleSamplersDetachedWhilePaused(t *testing.T) {
	tc := newTestCapture(t)
	l := tc.lifecycle

	if err := l.Start("BICYCLE"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !tc.location.Subscribed() || !tc.accel.Subscribed() {
		t.Fatal("samplers not attached while running")
	}

	if err := l.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if tc.location.Subscribed() || tc.accel.Subscribed() {
		t.Error("samplers still attached while paused")
	}

	if err := l.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !tc.location.Subscribed() || !tc.accel.Subscribed() {
		t.Error("samplers not re-attached after resume")
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if tc.location.Subscribed() || tc.accel.Subscribed() {
		t.Error("samplers still attached after stop")
	}
}
