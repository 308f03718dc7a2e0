package capture

import (
	"sync"

	"github.com/ridelog-data/ridelog/model"
)

// Buffers holds the in-memory sample caches shared between the producer
// callbacks and the flush path. One mutex guards the whole group; it is
// held only for the duration of an append or the swap, never across I/O.
type Buffers struct {
	mu            sync.Mutex
	locations     []model.GeoLocation
	accelerations []model.SensorValue
	rotations     []model.SensorValue
	directions    []model.SensorValue
	altitudes     []model.Altitude
}

// Batch is one detached set of samples handed to the persistence layer.
type Batch struct {
	Locations     []model.GeoLocation
	Accelerations []model.SensorValue
	Rotations     []model.SensorValue
	Directions    []model.SensorValue
	Altitudes     []model.Altitude
}

// Empty reports whether the batch carries no samples at all.
func (b Batch) Empty() bool {
	return len(b.Locations) == 0 &&
		len(b.Accelerations) == 0 &&
		len(b.Rotations) == 0 &&
		len(b.Directions) == 0 &&
		len(b.Altitudes) == 0
}

// AppendLocation buffers one accepted location.
func (b *Buffers) AppendLocation(l model.GeoLocation) {
	b.mu.Lock()
	b.locations = append(b.locations, l)
	b.mu.Unlock()
}

// AppendSensorValue buffers one re-stamped motion sample on the stream
// belonging to the given channel.
func (b *Buffers) AppendSensorValue(channel SensorChannel, v model.SensorValue) {
	b.mu.Lock()
	switch channel {
	case ChannelAccelerometer:
		b.accelerations = append(b.accelerations, v)
	case ChannelGyroscope:
		b.rotations = append(b.rotations, v)
	case ChannelMagnetometer:
		b.directions = append(b.directions, v)
	}
	b.mu.Unlock()
}

// AppendAltitude buffers one barometer sample.
func (b *Buffers) AppendAltitude(a model.Altitude) {
	b.mu.Lock()
	b.altitudes = append(b.altitudes, a)
	b.mu.Unlock()
}

// Swap atomically detaches all current samples and replaces the caches
// with fresh empty ones. Producers appending concurrently land either in
// the returned batch or in the fresh caches; nothing is lost.
func (b *Buffers) Swap() Batch {
	b.mu.Lock()
	batch := Batch{
		Locations:     b.locations,
		Accelerations: b.accelerations,
		Rotations:     b.rotations,
		Directions:    b.directions,
		Altitudes:     b.altitudes,
	}
	b.locations = nil
	b.accelerations = nil
	b.rotations = nil
	b.directions = nil
	b.altitudes = nil
	b.mu.Unlock()
	return batch
}

// IsEmpty reports whether all caches are currently empty, letting the
// flush path skip redundant work.
func (b *Buffers) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.locations) == 0 &&
		len(b.accelerations) == 0 &&
		len(b.rotations) == 0 &&
		len(b.directions) == 0 &&
		len(b.altitudes) == 0
}
