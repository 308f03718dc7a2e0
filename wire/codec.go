// Package wire implements the fixed-record binary format (version 1) used
// to ship a complete measurement to the collector service.
//
// Layout, all fields big-endian:
//
//	header (18 bytes): format version uint16, then four uint32 counts
//	  (geolocations, accelerations, rotations, directions)
//	geolocation record (36 bytes): timestamp int64, latitude float64 bits,
//	  longitude float64 bits, speed float64 bits, accuracy uint32 in cm
//	sensor record (32 bytes): timestamp int64, x/y/z float64 bits
//
// Geolocation records appear in track order then location order; sensor
// records follow in acceleration, rotation, direction stream order.
package wire

import (
	"errors"
	"math"

	"github.com/ridelog-data/ridelog/model"
)

// FormatVersion is the wire format generation emitted by Serialize.
const FormatVersion uint16 = 1

const (
	headerSize         = 18
	locationRecordSize = 36
	sensorRecordSize   = 32
)

var (
	// ErrMissingData marks a measurement whose structural fields (e.g. a
	// track's location list) were never loaded.
	ErrMissingData = errors.New("wire: missing data")

	// ErrInvalidData marks a byte sequence inconsistent with its header.
	ErrInvalidData = errors.New("wire: invalid data")

	// ErrCompressionFailed marks a failed deflate pass. Compression errors
	// are hard failures, never a silent fallback to uncompressed bytes.
	ErrCompressionFailed = errors.New("wire: compression failed")
)

// Payload is the decoded form of a serialized measurement: the flattened
// location stream plus the three sensor streams.
type Payload struct {
	Version       uint16
	Locations     []model.GeoLocation
	Accelerations []model.SensorValue
	Rotations     []model.SensorValue
	Directions    []model.SensorValue
}

// Serialize encodes a fully loaded measurement and its sensor streams into
// the version 1 format. It emits either a complete payload or an error,
// never partial bytes.
func Serialize(m *model.Measurement, accelerations, rotations, directions []model.SensorValue) ([]byte, error) {
	if m == nil {
		return nil, ErrMissingData
	}
	var locationCount int
	for i := range m.Tracks {
		if m.Tracks[i].Locations == nil {
			return nil, ErrMissingData
		}
		locationCount += len(m.Tracks[i].Locations)
	}

	buf := make([]byte, 0, headerSize+
		locationCount*locationRecordSize+
		(len(accelerations)+len(rotations)+len(directions))*sensorRecordSize)

	buf = appendU16(buf, FormatVersion)
	buf = appendU32(buf, uint32(locationCount))
	buf = appendU32(buf, uint32(len(accelerations)))
	buf = appendU32(buf, uint32(len(rotations)))
	buf = appendU32(buf, uint32(len(directions)))

	for i := range m.Tracks {
		for _, l := range m.Tracks[i].Locations {
			buf = appendU64(buf, uint64(l.Timestamp))
			buf = appendU64(buf, math.Float64bits(l.Latitude))
			buf = appendU64(buf, math.Float64bits(l.Longitude))
			buf = appendU64(buf, math.Float64bits(l.Speed))
			buf = appendU32(buf, uint32(l.Accuracy*100))
		}
	}

	for _, stream := range [][]model.SensorValue{accelerations, rotations, directions} {
		for _, v := range stream {
			buf = appendU64(buf, uint64(v.Timestamp))
			buf = appendU64(buf, math.Float64bits(v.X))
			buf = appendU64(buf, math.Float64bits(v.Y))
			buf = appendU64(buf, math.Float64bits(v.Z))
		}
	}

	return buf, nil
}

// Deserialize decodes a version 1 byte sequence.
func Deserialize(data []byte) (*Payload, error) {
	if len(data) < headerSize {
		return nil, ErrMissingData
	}

	p := &Payload{Version: FromWire16([2]byte(data[0:2]))}
	if p.Version != FormatVersion {
		return nil, ErrInvalidData
	}

	locationCount := FromWire32([4]byte(data[2:6]))
	accelerationCount := FromWire32([4]byte(data[6:10]))
	rotationCount := FromWire32([4]byte(data[10:14]))
	directionCount := FromWire32([4]byte(data[14:18]))

	// Widen each count before arithmetic: summing in uint32 would let a
	// crafted header wrap the expected size to a small value and drive the
	// allocations below from attacker-controlled counts.
	expected := int64(locationCount)*locationRecordSize +
		(int64(accelerationCount)+int64(rotationCount)+int64(directionCount))*sensorRecordSize
	if int64(len(data)-headerSize) != expected {
		return nil, ErrInvalidData
	}

	off := headerSize
	p.Locations = make([]model.GeoLocation, 0, locationCount)
	for i := uint32(0); i < locationCount; i++ {
		var l model.GeoLocation
		l.Timestamp = int64(FromWire64([8]byte(data[off : off+8])))
		l.Latitude = math.Float64frombits(FromWire64([8]byte(data[off+8 : off+16])))
		l.Longitude = math.Float64frombits(FromWire64([8]byte(data[off+16 : off+24])))
		l.Speed = math.Float64frombits(FromWire64([8]byte(data[off+24 : off+32])))
		l.Accuracy = float64(FromWire32([4]byte(data[off+32:off+36]))) / 100
		l.IsValid = true
		p.Locations = append(p.Locations, l)
		off += locationRecordSize
	}

	read := func(count uint32) []model.SensorValue {
		out := make([]model.SensorValue, 0, count)
		for i := uint32(0); i < count; i++ {
			var v model.SensorValue
			v.Timestamp = int64(FromWire64([8]byte(data[off : off+8])))
			v.X = math.Float64frombits(FromWire64([8]byte(data[off+8 : off+16])))
			v.Y = math.Float64frombits(FromWire64([8]byte(data[off+16 : off+24])))
			v.Z = math.Float64frombits(FromWire64([8]byte(data[off+24 : off+32])))
			out = append(out, v)
			off += sensorRecordSize
		}
		return out
	}
	p.Accelerations = read(accelerationCount)
	p.Rotations = read(rotationCount)
	p.Directions = read(directionCount)

	return p, nil
}

func appendU16(buf []byte, v uint16) []byte {
	b := ToWire16(v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	b := ToWire32(v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	b := ToWire64(v)
	return append(buf, b[:]...)
}
