package model

import (
	"time"

	"github.com/golang/geo/s2"
	"gonum.org/v1/gonum/stat"
)

// EarthRadiusMeters is Earth's mean radius.
const EarthRadiusMeters = 6371000.0

// Distance returns the great-circle distance between two points in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// TrackLength returns the total distance of a measurement in meters.
//
// Only consecutive valid locations within one track contribute. An invalid
// point never extends the sum; the last valid point persists across invalid
// points and anchors the next delta. Nothing is counted across track
// boundaries, so pause gaps add no distance.
func TrackLength(m *Measurement) float64 {
	var total float64
	for _, t := range m.Tracks {
		total += trackDistance(t.Locations)
	}
	return total
}

func trackDistance(locations []GeoLocation) float64 {
	var sum float64
	var anchor *GeoLocation
	for i := range locations {
		l := &locations[i]
		if !l.IsValid {
			continue
		}
		if anchor != nil {
			sum += Distance(anchor.Latitude, anchor.Longitude, l.Latitude, l.Longitude)
		}
		anchor = l
	}
	return sum
}

// Duration returns the captured duration of a measurement: the sum of each
// track's first-to-last location time span. Pause gaps between tracks do
// not count.
func Duration(m *Measurement) time.Duration {
	var ms int64
	for _, t := range m.Tracks {
		if len(t.Locations) < 2 {
			continue
		}
		ms += t.Locations[len(t.Locations)-1].Timestamp - t.Locations[0].Timestamp
	}
	return time.Duration(ms) * time.Millisecond
}

// AverageSpeed returns the mean speed in m/s over all valid locations of a
// measurement, or 0 if it has none.
func AverageSpeed(m *Measurement) float64 {
	var speeds []float64
	for _, t := range m.Tracks {
		for _, l := range t.Locations {
			if l.IsValid {
				speeds = append(speeds, l.Speed)
			}
		}
	}
	if len(speeds) == 0 {
		return 0
	}
	return stat.Mean(speeds, nil)
}

// Ascend returns the total barometric rise of a measurement in meters: the
// sum of positive altitude deltas within each track.
func Ascend(m *Measurement) float64 {
	var total float64
	for _, t := range m.Tracks {
		for i := 1; i < len(t.Altitudes); i++ {
			d := t.Altitudes[i].Value - t.Altitudes[i-1].Value
			if d > 0 {
				total += d
			}
		}
	}
	return total
}
