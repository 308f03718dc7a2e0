package upload

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ridelog-data/ridelog/model"
	"github.com/ridelog-data/ridelog/monitoring"
	"github.com/ridelog-data/ridelog/storage"
	"github.com/ridelog-data/ridelog/wire"
)

// Syncer walks finalized measurements and ships them to the collector.
type Syncer struct {
	store    storage.Store
	uploader Uploader
	deviceID uuid.UUID
}

// NewSyncer creates a Syncer for one device identity.
func NewSyncer(store storage.Store, uploader Uploader, deviceID uuid.UUID) *Syncer {
	return &Syncer{store: store, uploader: uploader, deviceID: deviceID}
}

// SyncAll serializes and uploads every synchronizable measurement, marking
// each one synchronized on success. The first error aborts the pass so the
// caller can surface it; already-uploaded measurements stay marked.
func (s *Syncer) SyncAll(ctx context.Context) error {
	pending, err := s.store.LoadSynchronizable()
	if err != nil {
		return fmt.Errorf("load synchronizable measurements: %w", err)
	}

	for _, meta := range pending {
		if err := s.syncOne(ctx, meta.ID); err != nil {
			return fmt.Errorf("sync measurement %d: %w", meta.ID, err)
		}
		monitoring.Logf("upload: measurement %d synchronized", meta.ID)
	}
	return nil
}

func (s *Syncer) syncOne(ctx context.Context, id model.MeasurementID) error {
	m, err := s.store.Load(id)
	if err != nil {
		return err
	}
	accelerations, rotations, directions, err := s.store.LoadSensorValues(id)
	if err != nil {
		return err
	}

	payload, err := wire.SerializeCompressed(m, accelerations, rotations, directions)
	if err != nil {
		return err
	}

	locationCount := 0
	for i := range m.Tracks {
		locationCount += len(m.Tracks[i].Locations)
	}

	err = s.uploader.Upload(ctx, payload, Metadata{
		DeviceID:      s.deviceID,
		MeasurementID: id,
		Modality:      m.Modality,
		LocationCount: locationCount,
		SensorCount:   len(accelerations) + len(rotations) + len(directions),
	})
	if err != nil {
		return err
	}

	return s.store.MarkSynchronized(id)
}
