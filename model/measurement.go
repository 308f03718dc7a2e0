// Package model defines the plain value types recorded during a trip and
// the aggregation functions computed over a loaded measurement.
//
// All types are identified by integer ids and moved through the repository
// layer explicitly; nothing here holds a live handle into storage.
package model

// MeasurementID identifies one recorded trip. Identifiers are assigned
// monotonically by the store and are never reused across process restarts.
type MeasurementID int64

// Measurement is one complete recorded trip. It is created when capture
// starts, mutated while the trip is active, and becomes immutable once a
// lifecycle-stop event has been appended.
type Measurement struct {
	ID             MeasurementID
	StartTimestamp int64 // ms since epoch
	Modality       string
	Synchronizable bool
	Synchronized   bool

	// TrackLength is the accumulated distance in meters over consecutive
	// valid locations, updated on every flush.
	TrackLength float64

	// Per-channel sample counts, updated on every flush.
	AccelerationCount int
	RotationCount     int
	DirectionCount    int

	Tracks []Track
	Events []Event
}

// Track is one contiguous capture segment within a measurement. A new
// track is appended every time capture (re)starts, so pause gaps never
// leak into distance or duration calculations.
type Track struct {
	ID        int64
	Locations []GeoLocation
	Altitudes []Altitude
}

// GeoLocation is a single accepted geolocation fix. Immutable once created;
// ordering within a track is by timestamp, strictly increasing.
type GeoLocation struct {
	Timestamp int64   // ms since epoch
	Latitude  float64 // degrees
	Longitude float64 // degrees
	Speed     float64 // m/s
	Accuracy  float64 // m

	// IsValid marks the location as part of the cleaned track. Invalid
	// points are stored but excluded from distance accumulation.
	IsValid bool
}

// SensorValue is one timestamped 3-axis sensor reading. One stream exists
// per channel (acceleration, rotation, direction), each append-only and
// strictly increasing in timestamp.
type SensorValue struct {
	Timestamp int64 // ms since epoch
	X         float64
	Y         float64
	Z         float64
}

// Altitude is one barometric altimeter reading, append-only per track.
type Altitude struct {
	Timestamp int64   // ms since epoch
	Value     float64 // relative altitude in m
	Pressure  float64 // kPa
}

// Open reports whether the measurement has not yet been finalized. Open
// measurements found at startup indicate a capture interrupted by a
// process restart.
func (m *Measurement) Open() bool {
	return !m.Synchronizable && !m.Synchronized
}

// LastTrack returns the currently open (last) track, or nil if the
// measurement has none.
func (m *Measurement) LastTrack() *Track {
	if len(m.Tracks) == 0 {
		return nil
	}
	return &m.Tracks[len(m.Tracks)-1]
}
