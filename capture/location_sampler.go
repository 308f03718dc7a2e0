package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/ridelog-data/ridelog/model"
	"github.com/ridelog-data/ridelog/monitoring"
	"github.com/ridelog-data/ridelog/timeutil"
)

// FixTimeout is the maximum gap between accepted location updates for the
// fix to count as acquired.
const FixTimeout = 2 * time.Second

// TrackCleaner classifies a single location fix as part of the cleaned
// track. The predicate is a pure function of one fix so it can run on
// every update: jitter below SpeedMin is GPS noise while stationary,
// speeds above SpeedMax are GPS spikes, and poor vertical accuracy marks
// an unreliable fix.
type TrackCleaner struct {
	VerticalAccuracyMax float64 // m
	SpeedMin            float64 // m/s
	SpeedMax            float64 // m/s
}

// DefaultTrackCleaner returns the thresholds used in production.
func DefaultTrackCleaner() TrackCleaner {
	return TrackCleaner{
		VerticalAccuracyMax: 20.0,
		SpeedMin:            1.0,
		SpeedMax:            100.0,
	}
}

// Valid reports whether the fix belongs to the cleaned track.
func (c TrackCleaner) Valid(fix LocationFix) bool {
	if fix.VerticalAccuracy > c.VerticalAccuracyMax {
		return false
	}
	if fix.Speed < c.SpeedMin {
		return false
	}
	if fix.Speed > c.SpeedMax {
		return false
	}
	return true
}

// LocationSamplerConfig wires a LocationSampler.
type LocationSamplerConfig struct {
	Source   LocationSource
	Buffers  *Buffers
	Listener Listener

	// Cleaner defaults to DefaultTrackCleaner().
	Cleaner *TrackCleaner

	// SkipRate throttles OnLocation notifications to every Nth accepted
	// update. It never affects what is buffered and persisted. Values
	// below 1 mean no throttling.
	SkipRate int

	// Clock defaults to timeutil.RealClock{}.
	Clock timeutil.Clock
}

// LocationSampler subscribes to the platform location feed, rejects late
// updates, tracks fix acquired/lost state, classifies each point via the
// track cleaner and buffers every accepted point.
type LocationSampler struct {
	source   LocationSource
	buffers  *Buffers
	listener Listener
	cleaner  TrackCleaner
	skipRate int
	clock    timeutil.Clock

	mu            sync.Mutex
	running       bool
	lastTimestamp int64     // ms, last accepted update
	lastArrival   time.Time // wall clock of last accepted update
	hasFix        bool
	accepted      int
}

// NewLocationSampler builds a sampler from the given config.
func NewLocationSampler(cfg LocationSamplerConfig) *LocationSampler {
	cleaner := DefaultTrackCleaner()
	if cfg.Cleaner != nil {
		cleaner = *cfg.Cleaner
	}
	listener := cfg.Listener
	if listener == nil {
		listener = NopListener{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	skipRate := cfg.SkipRate
	if skipRate < 1 {
		skipRate = 1
	}
	return &LocationSampler{
		source:   cfg.Source,
		buffers:  cfg.Buffers,
		listener: listener,
		cleaner:  cleaner,
		skipRate: skipRate,
		clock:    clock,
	}
}

// Start attaches the location callback. Calling Start while running is a
// no-op.
func (s *LocationSampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.source != nil {
		if err := s.source.Subscribe(s.handleFix); err != nil {
			return fmt.Errorf("subscribe location source: %w", err)
		}
	}
	s.lastTimestamp = 0
	s.lastArrival = time.Time{}
	s.hasFix = false
	s.accepted = 0
	s.running = true
	return nil
}

// Stop detaches the location callback. Idempotent.
func (s *LocationSampler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	if s.source != nil {
		if err := s.source.Unsubscribe(); err != nil {
			monitoring.Logf("location sampler: unsubscribe: %v", err)
		}
	}
	s.running = false
	return nil
}

// HasFix reports the current fix state.
func (s *LocationSampler) HasFix() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasFix
}

func (s *LocationSampler) handleFix(fix LocationFix) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	// Late locations are dropped, never reordered.
	if s.lastTimestamp != 0 && fix.Timestamp <= s.lastTimestamp {
		s.mu.Unlock()
		monitoring.Logf("location sampler: dropping late location (%d <= %d)",
			fix.Timestamp, s.lastTimestamp)
		return
	}

	// The fix flag is recomputed on every update: a small enough gap to
	// the previous accepted update means the receiver is tracking.
	fixChanged := false
	if s.lastTimestamp != 0 {
		acquired := fix.Timestamp-s.lastTimestamp < FixTimeout.Milliseconds()
		fixChanged = acquired != s.hasFix
		s.hasFix = acquired
	}
	s.lastTimestamp = fix.Timestamp
	s.lastArrival = s.clock.Now()

	location := model.GeoLocation{
		Timestamp: fix.Timestamp,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Speed:     fix.Speed,
		Accuracy:  fix.HorizontalAccuracy,
		IsValid:   s.cleaner.Valid(fix),
	}

	s.accepted++
	notify := s.accepted%s.skipRate == 0
	hasFix := s.hasFix
	s.mu.Unlock()

	// Every accepted point is buffered; the skip rate only throttles the
	// handler notification.
	s.buffers.AppendLocation(location)

	if fixChanged {
		if hasFix {
			s.listener.OnFixAcquired()
		} else {
			s.listener.OnFixLost()
		}
	}
	if notify {
		s.listener.OnLocation(location)
	}
}

// CheckFix re-evaluates the fix flag against elapsed wall-clock time. The
// flush scheduler calls it every tick so a silently dying receiver flips
// the flag even when no new updates arrive.
func (s *LocationSampler) CheckFix() {
	s.mu.Lock()
	lost := s.hasFix && !s.lastArrival.IsZero() && s.clock.Since(s.lastArrival) >= FixTimeout
	if lost {
		s.hasFix = false
	}
	s.mu.Unlock()

	if lost {
		s.listener.OnFixLost()
	}
}
