package model

import (
	"math"
	"testing"
	"time"
)

// latStepForMeters returns the latitude delta in degrees that corresponds
// to roughly the given distance in meters.
func latStepForMeters(m float64) float64 {
	return m / EarthRadiusMeters * 180 / math.Pi
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of latitude is ~111.2 km on the sphere used here.
	got := Distance(51.0, 13.0, 52.0, 13.0)
	want := EarthRadiusMeters * math.Pi / 180
	if math.Abs(got-want) > 1.0 {
		t.Errorf("Distance = %.1f, want %.1f", got, want)
	}
}

func TestTrackLengthSkipsInvalidPoints(t *testing.T) {
	step := latStepForMeters(10)
	m := &Measurement{
		Tracks: []Track{{
			Locations: []GeoLocation{
				{Timestamp: 1000, Latitude: 51.0, Longitude: 13.0, IsValid: true},
				// GPS jitter: stored but must not extend the sum.
				{Timestamp: 2000, Latitude: 51.0 + 5*step, Longitude: 13.0, IsValid: false},
				// Distance resumes from the last valid point, not the
				// invalid one.
				{Timestamp: 3000, Latitude: 51.0 + step, Longitude: 13.0, IsValid: true},
			},
		}},
	}

	got := TrackLength(m)
	if math.Abs(got-10) > 0.1 {
		t.Errorf("TrackLength = %.3f, want ~10m (anchor must persist across invalid points)", got)
	}
}

func TestTrackLengthNoCrossTrackDistance(t *testing.T) {
	step := latStepForMeters(10)
	m := &Measurement{
		Tracks: []Track{
			{Locations: []GeoLocation{
				{Timestamp: 1000, Latitude: 51.0, Longitude: 13.0, IsValid: true},
				{Timestamp: 2000, Latitude: 51.0 + step, Longitude: 13.0, IsValid: true},
			}},
			// Far away after a pause; the gap must not count.
			{Locations: []GeoLocation{
				{Timestamp: 9000, Latitude: 52.0, Longitude: 13.0, IsValid: true},
			}},
		},
	}

	got := TrackLength(m)
	if math.Abs(got-10) > 0.1 {
		t.Errorf("TrackLength = %.3f, want ~10m (nothing across track boundaries)", got)
	}
}

func TestDurationSumsPerTrackSpans(t *testing.T) {
	m := &Measurement{
		Tracks: []Track{
			{Locations: []GeoLocation{{Timestamp: 1000}, {Timestamp: 5000}}},
			{Locations: []GeoLocation{{Timestamp: 60000}, {Timestamp: 63000}}},
			{Locations: []GeoLocation{{Timestamp: 90000}}}, // single point, no span
		},
	}

	if got := Duration(m); got != 7*time.Second {
		t.Errorf("Duration = %v, want 7s", got)
	}
}

func TestAverageSpeedValidPointsOnly(t *testing.T) {
	m := &Measurement{
		Tracks: []Track{{
			Locations: []GeoLocation{
				{Speed: 4, IsValid: true},
				{Speed: 100, IsValid: false},
				{Speed: 6, IsValid: true},
			},
		}},
	}

	if got := AverageSpeed(m); math.Abs(got-5) > 1e-9 {
		t.Errorf("AverageSpeed = %v, want 5", got)
	}
}

func TestAverageSpeedEmpty(t *testing.T) {
	if got := AverageSpeed(&Measurement{}); got != 0 {
		t.Errorf("AverageSpeed of empty measurement = %v, want 0", got)
	}
}

func TestAscendCountsOnlyRises(t *testing.T) {
	m := &Measurement{
		Tracks: []Track{{
			Altitudes: []Altitude{
				{Value: 0}, {Value: 5}, {Value: 2}, {Value: 10},
			},
		}},
	}

	// +5 then +8; the descent in between does not count.
	if got := Ascend(m); math.Abs(got-13) > 1e-9 {
		t.Errorf("Ascend = %v, want 13", got)
	}
}

func TestOpenFlag(t *testing.T) {
	tests := []struct {
		name string
		m    Measurement
		want bool
	}{
		{"fresh", Measurement{}, true},
		{"finalized", Measurement{Synchronizable: true}, false},
		{"uploaded", Measurement{Synchronized: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.Open(); got != tt.want {
				t.Errorf("Open() = %v, want %v", got, tt.want)
			}
		})
	}
}
