package capture

import (
	"fmt"
	"sync"

	"github.com/ridelog-data/ridelog/model"
	"github.com/ridelog-data/ridelog/monitoring"
	"github.com/ridelog-data/ridelog/timeutil"
)

// DefaultSampleRateHz is the subscription rate requested for the motion
// channels.
const DefaultSampleRateHz = 100

// SensorSamplerConfig wires a SensorSampler. Any nil source marks that
// hardware channel as unavailable; it is silently skipped.
type SensorSamplerConfig struct {
	Accelerometer SensorSource
	Gyroscope     SensorSource
	Magnetometer  SensorSource
	Barometer     BarometerSource

	Buffers *Buffers

	// SampleRateHz defaults to DefaultSampleRateHz.
	SampleRateHz int

	// Clock defaults to timeutil.RealClock{}.
	Clock timeutil.Clock
}

// SensorSampler subscribes to up to four independent hardware channels and
// appends their events to the shared buffers. Hardware events carry
// boot-relative timestamps that do not survive device sleep, so every
// accepted event is re-stamped with wall-clock time; the hardware
// timestamp only gates out-of-order callbacks.
type SensorSampler struct {
	cfg   SensorSamplerConfig
	clock timeutil.Clock

	mu      sync.Mutex
	running bool
	lastNs  [numChannels]int64
}

// NewSensorSampler builds a sampler from the given config.
func NewSensorSampler(cfg SensorSamplerConfig) *SensorSampler {
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = DefaultSampleRateHz
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SensorSampler{cfg: cfg, clock: clock}
}

// Start attaches the hardware callbacks. Calling Start while running is a
// no-op.
func (s *SensorSampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	for _, ch := range []struct {
		channel SensorChannel
		source  SensorSource
	}{
		{ChannelAccelerometer, s.cfg.Accelerometer},
		{ChannelGyroscope, s.cfg.Gyroscope},
		{ChannelMagnetometer, s.cfg.Magnetometer},
	} {
		if ch.source == nil {
			continue
		}
		channel := ch.channel
		if err := ch.source.Subscribe(s.cfg.SampleRateHz, func(r SensorReading) {
			s.handleMotion(channel, r)
		}); err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	if s.cfg.Barometer != nil {
		if err := s.cfg.Barometer.Subscribe(s.handlePressure); err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", ChannelBarometer, err)
		}
	}

	s.lastNs = [numChannels]int64{}
	s.running = true
	return nil
}

// Stop detaches the hardware callbacks. By the time it returns no new
// events are accepted; a callback already dispatched by the OS may still
// land. Calling Stop while stopped is a no-op.
func (s *SensorSampler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.unsubscribeLocked()
	s.running = false
	return nil
}

func (s *SensorSampler) unsubscribeLocked() {
	for _, src := range []SensorSource{s.cfg.Accelerometer, s.cfg.Gyroscope, s.cfg.Magnetometer} {
		if src == nil {
			continue
		}
		if err := src.Unsubscribe(); err != nil {
			monitoring.Logf("sensor sampler: unsubscribe: %v", err)
		}
	}
	if s.cfg.Barometer != nil {
		if err := s.cfg.Barometer.Unsubscribe(); err != nil {
			monitoring.Logf("sensor sampler: unsubscribe barometer: %v", err)
		}
	}
}

// IsEmpty reports whether all sensor buffers are currently empty.
func (s *SensorSampler) IsEmpty() bool {
	return s.cfg.Buffers.IsEmpty()
}

// accept enforces the strictly-increasing hardware timestamp rule for one
// channel. A rejected event is logged and dropped; a single bad sample
// must never abort the session.
func (s *SensorSampler) accept(channel SensorChannel, monotonicNs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	if monotonicNs <= s.lastNs[channel] {
		monitoring.Logf("sensor sampler: dropping out-of-order %s event (%d <= %d)",
			channel, monotonicNs, s.lastNs[channel])
		return false
	}
	s.lastNs[channel] = monotonicNs
	return true
}

func (s *SensorSampler) handleMotion(channel SensorChannel, r SensorReading) {
	if !s.accept(channel, r.MonotonicNs) {
		return
	}
	s.cfg.Buffers.AppendSensorValue(channel, model.SensorValue{
		Timestamp: s.clock.Now().UnixMilli(),
		X:         r.X,
		Y:         r.Y,
		Z:         r.Z,
	})
}

func (s *SensorSampler) handlePressure(r PressureReading) {
	if !s.accept(ChannelBarometer, r.MonotonicNs) {
		return
	}
	s.cfg.Buffers.AppendAltitude(model.Altitude{
		Timestamp: s.clock.Now().UnixMilli(),
		Value:     r.RelativeAltitude,
		Pressure:  r.Pressure,
	})
}
