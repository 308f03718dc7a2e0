// Package storage persists measurements, tracks, locations, sensor values
// and lifecycle events in a local SQLite database.
package storage

import (
	"errors"

	"github.com/ridelog-data/ridelog/model"
)

var (
	// ErrNotFound is returned when a measurement id resolves to nothing.
	ErrNotFound = errors.New("storage: measurement not found")

	// ErrNoContext is returned when the backing database is unavailable.
	ErrNoContext = errors.New("storage: database unavailable")

	// ErrInconsistentData is returned when stored rows violate the data
	// model, e.g. a location row outside any track.
	ErrInconsistentData = errors.New("storage: inconsistent data")
)

// Store is the persistence collaborator consumed by the capture lifecycle,
// the flush path and the uploader.
type Store interface {
	// CreateMeasurement assigns a fresh monotonic identifier and inserts a
	// new open measurement. Identifiers are probed against existing rows so
	// legacy or corrupted data can never cause a duplicate id.
	CreateMeasurement(startTimestamp int64, modality string) (*model.Measurement, error)

	// AppendTrack opens a new empty track on the measurement.
	AppendTrack(id model.MeasurementID) error

	// SaveLocations appends a batch of locations to the measurement's open
	// track and advances its accumulated track length.
	SaveLocations(id model.MeasurementID, locations []model.GeoLocation) error

	// SaveAltitudes appends a batch of barometric readings to the
	// measurement's open track.
	SaveAltitudes(id model.MeasurementID, altitudes []model.Altitude) error

	// SaveSensorValues appends per-channel sensor batches and advances the
	// measurement's sample counts.
	SaveSensorValues(id model.MeasurementID, accelerations, rotations, directions []model.SensorValue) error

	// CreateEvent appends one entry to the measurement's event log.
	CreateEvent(id model.MeasurementID, typ model.EventType, value string, timestamp int64) (model.Event, error)

	// LastModality returns the value of the most recent modality-change
	// event, or ok=false if the measurement has none.
	LastModality(id model.MeasurementID) (modality string, ok bool, err error)

	// Load returns the complete measurement graph: metadata, tracks with
	// their locations and altitudes, and the event log.
	Load(id model.MeasurementID) (*model.Measurement, error)

	// LoadSensorValues returns the measurement's three sensor streams in
	// append order.
	LoadSensorValues(id model.MeasurementID) (accelerations, rotations, directions []model.SensorValue, err error)

	// LoadAll returns metadata for every stored measurement.
	LoadAll() ([]model.Measurement, error)

	// LoadOpen returns the newest measurement that was never finalized, or
	// ErrNotFound. Used on startup to reattach to an interrupted capture.
	LoadOpen() (*model.Measurement, error)

	// LoadSynchronizable returns metadata for measurements that are
	// finalized but not yet uploaded.
	LoadSynchronizable() ([]model.Measurement, error)

	// MarkSynchronizable finalizes the measurement for upload.
	MarkSynchronizable(id model.MeasurementID) error

	// MarkSynchronized records a completed upload.
	MarkSynchronized(id model.MeasurementID) error

	// Delete removes the measurement and all owned rows.
	Delete(id model.MeasurementID) error

	// Clean strips the measurement's sensor data, keeping the location
	// tracks and events.
	Clean(id model.MeasurementID) error
}
