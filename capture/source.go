// Package capture implements the trip-capture core: the lifecycle state
// machine, the sensor and location samplers, the in-memory sample buffers
// and the periodic flush scheduler.
package capture

// SensorChannel identifies one hardware sensor stream.
type SensorChannel int

const (
	ChannelAccelerometer SensorChannel = iota
	ChannelGyroscope
	ChannelMagnetometer
	ChannelBarometer

	numChannels
)

// String returns the channel name used in logs.
func (c SensorChannel) String() string {
	switch c {
	case ChannelAccelerometer:
		return "accelerometer"
	case ChannelGyroscope:
		return "gyroscope"
	case ChannelMagnetometer:
		return "magnetometer"
	case ChannelBarometer:
		return "barometer"
	default:
		return "unknown"
	}
}

// SensorReading is one raw 3-axis hardware event. MonotonicNs carries the
// hardware's boot-relative timestamp; it is only used to reject
// out-of-order callbacks, never stored.
type SensorReading struct {
	MonotonicNs int64
	X, Y, Z     float64
}

// PressureReading is one raw barometer event.
type PressureReading struct {
	MonotonicNs      int64
	RelativeAltitude float64 // m
	Pressure         float64 // kPa
}

// LocationFix is one raw geolocation update from the positioning subsystem.
// Unlike motion sensors, GPS timestamps are already wall-clock.
type LocationFix struct {
	Timestamp          int64 // ms since epoch
	Latitude           float64
	Longitude          float64
	Speed              float64 // m/s
	HorizontalAccuracy float64 // m
	VerticalAccuracy   float64 // m
}

// SensorSource is a push subscription to one 3-axis hardware channel.
// Implementations deliver events on OS-owned callback threads; Subscribe
// and Unsubscribe must be callable repeatedly.
type SensorSource interface {
	// Subscribe attaches the callback at the requested sampling rate.
	Subscribe(rateHz int, fn func(SensorReading)) error
	// Unsubscribe detaches the callback. No new events are delivered after
	// it returns; an already-dispatched callback may still land.
	Unsubscribe() error
}

// BarometerSource is a push subscription to the barometric altimeter.
type BarometerSource interface {
	Subscribe(fn func(PressureReading)) error
	Unsubscribe() error
}

// LocationSource is a push subscription to the platform location feed.
type LocationSource interface {
	Subscribe(fn func(LocationFix)) error
	Unsubscribe() error
}
