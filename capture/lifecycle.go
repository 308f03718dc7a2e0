package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ridelog-data/ridelog/model"
	"github.com/ridelog-data/ridelog/monitoring"
	"github.com/ridelog-data/ridelog/storage"
	"github.com/ridelog-data/ridelog/timeutil"
)

// State is the capture service's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Lifecycle misuse errors. Double start and double stop are deliberately
// not errors so duplicate UI button presses stay harmless.
var (
	ErrNotRunning           = errors.New("capture: not running")
	ErrNotPaused            = errors.New("capture: not paused")
	ErrIsRunning            = errors.New("capture: already running")
	ErrIsPaused             = errors.New("capture: already paused")
	ErrNoCurrentMeasurement = errors.New("capture: no current measurement")
)

// LifecycleConfig wires a Lifecycle. Store, Sensors, Locations and Buffers
// are required; everything else has defaults.
type LifecycleConfig struct {
	Store     storage.Store
	Sensors   *SensorSampler
	Locations *LocationSampler
	Buffers   *Buffers
	Listener  Listener

	// FlushInterval defaults to DefaultFlushInterval.
	FlushInterval time.Duration

	// Clock defaults to timeutil.RealClock{}.
	Clock timeutil.Clock
}

// Lifecycle owns the idle/running/paused state machine. All transitions
// are serialized through one mutex so overlapping calls from different
// goroutines can never interleave; sampler callbacks write into the
// buffers under their own finer-grained lock and never contend with
// transitions. Periodic flush ticks yield to an in-progress transition
// instead of blocking, which keeps flushes and transitions mutually
// exclusive without a deadlock between Flusher.Stop and the tick.
type Lifecycle struct {
	store     storage.Store
	sensors   *SensorSampler
	locations *LocationSampler
	buffers   *Buffers
	listener  Listener
	flusher   *Flusher
	clock     timeutil.Clock

	mu      sync.Mutex
	state   State
	current *model.Measurement
}

// NewLifecycle builds an idle capture service.
func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	listener := cfg.Listener
	if listener == nil {
		listener = NopListener{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	l := &Lifecycle{
		store:     cfg.Store,
		sensors:   cfg.Sensors,
		locations: cfg.Locations,
		buffers:   cfg.Buffers,
		listener:  listener,
		clock:     clock,
	}
	l.flusher = NewFlusher(cfg.FlushInterval, clock, l.flushTick)
	return l
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// CurrentMeasurement returns the id of the active measurement, if any.
func (l *Lifecycle) CurrentMeasurement() (model.MeasurementID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return 0, false
	}
	return l.current.ID, true
}

// ReattachPaused scans storage for a measurement that was never finalized,
// which means a previous process died mid-capture. If one is found the
// service resumes ownership of it in the paused state and notifies the
// listener, reconstructing the pause state lost with the old process.
func (l *Lifecycle) ReattachPaused() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateIdle {
		return nil
	}

	m, err := l.store.LoadOpen()
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan for open measurement: %w", err)
	}

	monitoring.Logf("capture: reattached to interrupted measurement %d as paused", m.ID)
	l.current = m
	l.state = StatePaused
	l.listener.OnMeasurementPaused(m.ID)
	return nil
}

// Start begins a new measurement with the given modality. Valid from idle,
// a logged no-op while running. From paused it first finalizes the stale
// measurement as if Stop had been called: that path runs when a process
// restart lost the in-memory pause state but left paused data in storage.
func (l *Lifecycle) Start(modality string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRunning:
		monitoring.Logf("capture: start while running ignored")
		return nil
	case StatePaused:
		monitoring.Logf("capture: start while paused, finalizing measurement %d", l.current.ID)
		if err := l.finalizeLocked(); err != nil {
			return err
		}
		// The stale measurement is finalized and current is nil; the state
		// must say idle now, or a failure below would leave a paused state
		// with no measurement behind it.
		l.state = StateIdle
	}

	now := l.clock.Now().UnixMilli()
	m, err := l.store.CreateMeasurement(now, modality)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoCurrentMeasurement, err)
	}
	if err := l.store.AppendTrack(m.ID); err != nil {
		return fmt.Errorf("open track: %w", err)
	}
	l.current = m

	if err := l.appendEventLocked(model.EventModalityChange, modality); err != nil {
		l.current = nil
		return err
	}
	if err := l.appendEventLocked(model.EventLifecycleStart, ""); err != nil {
		l.current = nil
		return err
	}

	if err := l.startSamplersLocked(); err != nil {
		l.current = nil
		return err
	}
	l.flusher.Start()
	l.state = StateRunning
	return nil
}

// Pause suspends a running capture. The samplers are detached and a final
// flush drains the buffers before the pause event is appended.
func (l *Lifecycle) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StatePaused:
		return ErrIsPaused
	case StateIdle:
		return ErrNotRunning
	}

	l.stopSamplersLocked()
	l.flusher.Stop()
	l.flushLocked()

	// The samplers and flusher are already detached, so the machine is
	// paused from here on even if appending the event fails.
	l.state = StatePaused
	return l.appendEventLocked(model.EventLifecyclePause, "")
}

// Resume continues a paused capture on a new track, so the pause gap never
// corrupts distance or duration calculations.
func (l *Lifecycle) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRunning:
		return ErrIsRunning
	case StateIdle:
		return ErrNotPaused
	}

	if err := l.store.AppendTrack(l.current.ID); err != nil {
		return fmt.Errorf("open track: %w", err)
	}
	if err := l.appendEventLocked(model.EventLifecycleResume, ""); err != nil {
		return err
	}
	if err := l.startSamplersLocked(); err != nil {
		return err
	}
	l.flusher.Start()
	l.state = StateRunning
	return nil
}

// Stop finalizes the current measurement. Valid from running or paused; a
// logged no-op while idle. The measurement becomes synchronizable and
// immutable afterwards.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateIdle {
		monitoring.Logf("capture: stop while idle ignored")
		return nil
	}

	l.stopSamplersLocked()
	l.flusher.Stop()
	l.flushLocked()

	if err := l.finalizeLocked(); err != nil {
		return err
	}
	l.state = StateIdle
	return nil
}

// ChangeModality appends a modality-change event unless the value equals
// the most recent one, making repeated calls idempotent. Without an active
// measurement it silently returns.
func (l *Lifecycle) ChangeModality(modality string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		monitoring.Logf("capture: modality change without measurement ignored")
		return nil
	}

	last, ok, err := l.store.LastModality(l.current.ID)
	if err != nil {
		return fmt.Errorf("load last modality: %w", err)
	}
	if ok && last == modality {
		return nil
	}
	return l.appendEventLocked(model.EventModalityChange, modality)
}

// finalizeLocked appends the stop event, marks the measurement
// synchronizable and clears the current-measurement pointer.
func (l *Lifecycle) finalizeLocked() error {
	if err := l.appendEventLocked(model.EventLifecycleStop, ""); err != nil {
		return err
	}
	if err := l.store.MarkSynchronizable(l.current.ID); err != nil {
		return fmt.Errorf("mark synchronizable: %w", err)
	}
	l.current = nil
	return nil
}

func (l *Lifecycle) appendEventLocked(typ model.EventType, value string) error {
	e, err := l.store.CreateEvent(l.current.ID, typ, value, l.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append %s event: %w", typ, err)
	}
	l.listener.OnLifecycleEvent(e)
	return nil
}

func (l *Lifecycle) startSamplersLocked() error {
	if err := l.locations.Start(); err != nil {
		return err
	}
	if err := l.sensors.Start(); err != nil {
		l.locations.Stop()
		return err
	}
	return nil
}

// stopSamplersLocked detaches both samplers synchronously: once it returns
// no further buffer writes from this session are possible, so the final
// flush captures a consistent snapshot.
func (l *Lifecycle) stopSamplersLocked() {
	if err := l.sensors.Stop(); err != nil {
		monitoring.Logf("capture: stop sensor sampler: %v", err)
	}
	if err := l.locations.Stop(); err != nil {
		monitoring.Logf("capture: stop location sampler: %v", err)
	}
}

// flushTick runs on the flusher goroutine. It yields when a lifecycle
// transition holds the lock: the transition performs its own final flush,
// and blocking here would deadlock against Flusher.Stop.
func (l *Lifecycle) flushTick() {
	if !l.mu.TryLock() {
		return
	}
	defer l.mu.Unlock()

	if l.state != StateRunning {
		return
	}
	l.locations.CheckFix()
	l.flushLocked()
}

// flushLocked detaches the buffers and persists the batch. A storage
// failure here is logged and the batch dropped rather than retried:
// requeueing would grow memory without bound on a persistently failing
// store.
func (l *Lifecycle) flushLocked() {
	if l.current == nil {
		return
	}
	batch := l.buffers.Swap()
	if batch.Empty() {
		return
	}

	id := l.current.ID
	if err := l.store.SaveLocations(id, batch.Locations); err != nil {
		monitoring.Logf("capture: flush locations for %d: %v", id, err)
	}
	if err := l.store.SaveAltitudes(id, batch.Altitudes); err != nil {
		monitoring.Logf("capture: flush altitudes for %d: %v", id, err)
	}
	if err := l.store.SaveSensorValues(id, batch.Accelerations, batch.Rotations, batch.Directions); err != nil {
		monitoring.Logf("capture: flush sensor values for %d: %v", id, err)
	}
}
