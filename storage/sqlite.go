package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ridelog-data/ridelog/model"
)

// Sensor channel discriminators for the sensor_values table.
const (
	channelAcceleration = 1
	channelRotation     = 2
	channelDirection    = 3
)

const nextIDKey = "next_measurement_id"

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// createMu serializes identifier assignment so concurrent creates can
	// never observe the same next-id value.
	createMu sync.Mutex
}

// Open opens (creating if necessary) the database at path, applies the
// usual pragmas and runs pending schema migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoContext, err)
	}

	// SQLite allows a single writer; funneling all connections through one
	// keeps concurrent flush and lifecycle writes from ever seeing
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrNoContext, pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateMeasurement assigns the next unused identifier and inserts a new
// open measurement. The candidate id from the metadata table is probed
// against existing rows first: legacy databases have been seen carrying
// ids ahead of the counter, and reusing one would corrupt the data model.
func (s *SQLiteStore) CreateMeasurement(startTimestamp int64, modality string) (*model.Measurement, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoContext, err)
	}
	defer tx.Rollback()

	id, err := nextFreeID(tx)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(
		`INSERT INTO measurements (id, start_timestamp, modality) VALUES (?, ?, ?)`,
		int64(id), startTimestamp, modality,
	); err != nil {
		return nil, fmt.Errorf("insert measurement: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		nextIDKey, strconv.FormatInt(int64(id)+1, 10),
	); err != nil {
		return nil, fmt.Errorf("advance measurement counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit measurement: %w", err)
	}

	return &model.Measurement{
		ID:             id,
		StartTimestamp: startTimestamp,
		Modality:       modality,
	}, nil
}

func nextFreeID(tx *sql.Tx) (model.MeasurementID, error) {
	var raw string
	candidate := int64(1)
	err := tx.QueryRow(`SELECT value FROM metadata WHERE key = ?`, nextIDKey).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		// fresh database, start at 1
	case err != nil:
		return 0, fmt.Errorf("read measurement counter: %w", err)
	default:
		candidate, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad measurement counter %q", ErrInconsistentData, raw)
		}
	}

	for {
		var exists int
		err := tx.QueryRow(`SELECT 1 FROM measurements WHERE id = ?`, candidate).Scan(&exists)
		if err == sql.ErrNoRows {
			return model.MeasurementID(candidate), nil
		}
		if err != nil {
			return 0, fmt.Errorf("probe measurement id: %w", err)
		}
		candidate++
	}
}

// AppendTrack opens a new empty track on the measurement.
func (s *SQLiteStore) AppendTrack(id model.MeasurementID) error {
	if err := s.exists(id); err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO tracks (measurement_id) VALUES (?)`, int64(id)); err != nil {
		return fmt.Errorf("append track: %w", err)
	}
	return nil
}

func (s *SQLiteStore) exists(id model.MeasurementID) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM measurements WHERE id = ?`, int64(id)).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoContext, err)
	}
	return nil
}

// openTrackID returns the id of the measurement's last (open) track.
func (s *SQLiteStore) openTrackID(tx *sql.Tx, id model.MeasurementID) (int64, error) {
	var trackID int64
	err := tx.QueryRow(
		`SELECT id FROM tracks WHERE measurement_id = ? ORDER BY id DESC LIMIT 1`,
		int64(id),
	).Scan(&trackID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: measurement %d has no track", ErrInconsistentData, id)
	}
	if err != nil {
		return 0, fmt.Errorf("find open track: %w", err)
	}
	return trackID, nil
}

// SaveLocations appends locations to the open track and advances the
// measurement's track length by the distance between consecutive valid
// points. The last persisted valid point of the open track anchors the
// first delta so flush boundaries add no error.
func (s *SQLiteStore) SaveLocations(id model.MeasurementID, locations []model.GeoLocation) error {
	if len(locations) == 0 {
		return nil
	}
	if err := s.exists(id); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoContext, err)
	}
	defer tx.Rollback()

	trackID, err := s.openTrackID(tx, id)
	if err != nil {
		return err
	}

	var anchor *model.GeoLocation
	var lat, lon float64
	err = tx.QueryRow(
		`SELECT latitude, longitude FROM locations
		 WHERE track_id = ? AND is_valid = 1 ORDER BY timestamp DESC LIMIT 1`,
		trackID,
	).Scan(&lat, &lon)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("find distance anchor: %w", err)
	}
	if err == nil {
		anchor = &model.GeoLocation{Latitude: lat, Longitude: lon}
	}

	insert, err := tx.Prepare(
		`INSERT INTO locations (track_id, timestamp, latitude, longitude, speed, accuracy, is_valid)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare location insert: %w", err)
	}
	defer insert.Close()

	var added float64
	for i := range locations {
		l := &locations[i]
		if _, err := insert.Exec(trackID, l.Timestamp, l.Latitude, l.Longitude, l.Speed, l.Accuracy, boolToInt(l.IsValid)); err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
		if !l.IsValid {
			continue
		}
		if anchor != nil {
			added += model.Distance(anchor.Latitude, anchor.Longitude, l.Latitude, l.Longitude)
		}
		anchor = l
	}

	if added > 0 {
		if _, err := tx.Exec(
			`UPDATE measurements SET track_length = track_length + ? WHERE id = ?`,
			added, int64(id),
		); err != nil {
			return fmt.Errorf("update track length: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit locations: %w", err)
	}
	return nil
}

// SaveAltitudes appends barometric readings to the open track.
func (s *SQLiteStore) SaveAltitudes(id model.MeasurementID, altitudes []model.Altitude) error {
	if len(altitudes) == 0 {
		return nil
	}
	if err := s.exists(id); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoContext, err)
	}
	defer tx.Rollback()

	trackID, err := s.openTrackID(tx, id)
	if err != nil {
		return err
	}

	for _, a := range altitudes {
		if _, err := tx.Exec(
			`INSERT INTO altitudes (track_id, timestamp, value, pressure) VALUES (?, ?, ?, ?)`,
			trackID, a.Timestamp, a.Value, a.Pressure,
		); err != nil {
			return fmt.Errorf("insert altitude: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit altitudes: %w", err)
	}
	return nil
}

// SaveSensorValues appends per-channel batches and advances the sample
// counters on the measurement row.
func (s *SQLiteStore) SaveSensorValues(id model.MeasurementID, accelerations, rotations, directions []model.SensorValue) error {
	if len(accelerations)+len(rotations)+len(directions) == 0 {
		return nil
	}
	if err := s.exists(id); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoContext, err)
	}
	defer tx.Rollback()

	insert, err := tx.Prepare(
		`INSERT INTO sensor_values (measurement_id, channel, timestamp, x, y, z) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare sensor insert: %w", err)
	}
	defer insert.Close()

	for _, group := range []struct {
		channel int
		batch   []model.SensorValue
	}{
		{channelAcceleration, accelerations},
		{channelRotation, rotations},
		{channelDirection, directions},
	} {
		for _, v := range group.batch {
			if _, err := insert.Exec(int64(id), group.channel, v.Timestamp, v.X, v.Y, v.Z); err != nil {
				return fmt.Errorf("insert sensor value: %w", err)
			}
		}
	}

	if _, err := tx.Exec(
		`UPDATE measurements SET
			acceleration_count = acceleration_count + ?,
			rotation_count = rotation_count + ?,
			direction_count = direction_count + ?
		 WHERE id = ?`,
		len(accelerations), len(rotations), len(directions), int64(id),
	); err != nil {
		return fmt.Errorf("update sensor counts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sensor values: %w", err)
	}
	return nil
}

// CreateEvent appends one entry to the measurement's event log.
func (s *SQLiteStore) CreateEvent(id model.MeasurementID, typ model.EventType, value string, timestamp int64) (model.Event, error) {
	if err := s.exists(id); err != nil {
		return model.Event{}, err
	}

	res, err := s.db.Exec(
		`INSERT INTO events (measurement_id, type, value, timestamp) VALUES (?, ?, ?, ?)`,
		int64(id), int(typ), value, timestamp,
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return model.Event{}, fmt.Errorf("event id: %w", err)
	}

	return model.Event{
		ID:            eventID,
		MeasurementID: id,
		Type:          typ,
		Value:         value,
		Timestamp:     timestamp,
	}, nil
}

// LastModality returns the value of the most recent modality-change event.
func (s *SQLiteStore) LastModality(id model.MeasurementID) (string, bool, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM events WHERE measurement_id = ? AND type = ? ORDER BY id DESC LIMIT 1`,
		int64(id), int(model.EventModalityChange),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load last modality: %w", err)
	}
	return value, true, nil
}

// Load returns the complete measurement graph.
func (s *SQLiteStore) Load(id model.MeasurementID) (*model.Measurement, error) {
	m, err := s.loadRow(id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT id FROM tracks WHERE measurement_id = ? ORDER BY id`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var trackID int64
		if err := rows.Scan(&trackID); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		m.Tracks = append(m.Tracks, model.Track{ID: trackID})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}

	for i := range m.Tracks {
		t := &m.Tracks[i]
		if t.Locations, err = s.loadLocations(t.ID); err != nil {
			return nil, err
		}
		if t.Altitudes, err = s.loadAltitudes(t.ID); err != nil {
			return nil, err
		}
	}

	if m.Events, err = s.loadEvents(id); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) loadRow(id model.MeasurementID) (*model.Measurement, error) {
	var m model.Measurement
	var synchronizable, synchronized int
	err := s.db.QueryRow(
		`SELECT id, start_timestamp, modality, synchronizable, synchronized,
		        track_length, acceleration_count, rotation_count, direction_count
		 FROM measurements WHERE id = ?`,
		int64(id),
	).Scan(
		&m.ID, &m.StartTimestamp, &m.Modality, &synchronizable, &synchronized,
		&m.TrackLength, &m.AccelerationCount, &m.RotationCount, &m.DirectionCount,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load measurement: %w", err)
	}
	m.Synchronizable = synchronizable != 0
	m.Synchronized = synchronized != 0
	return &m, nil
}

func (s *SQLiteStore) loadLocations(trackID int64) ([]model.GeoLocation, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, latitude, longitude, speed, accuracy, is_valid
		 FROM locations WHERE track_id = ? ORDER BY timestamp`,
		trackID,
	)
	if err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}
	defer rows.Close()

	// Non-nil even when empty: a nil location list means "not loaded" to
	// the wire codec.
	locations := make([]model.GeoLocation, 0)
	for rows.Next() {
		var l model.GeoLocation
		var valid int
		if err := rows.Scan(&l.Timestamp, &l.Latitude, &l.Longitude, &l.Speed, &l.Accuracy, &valid); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		l.IsValid = valid != 0
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

func (s *SQLiteStore) loadAltitudes(trackID int64) ([]model.Altitude, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, value, pressure FROM altitudes WHERE track_id = ? ORDER BY timestamp`,
		trackID,
	)
	if err != nil {
		return nil, fmt.Errorf("load altitudes: %w", err)
	}
	defer rows.Close()

	altitudes := make([]model.Altitude, 0)
	for rows.Next() {
		var a model.Altitude
		if err := rows.Scan(&a.Timestamp, &a.Value, &a.Pressure); err != nil {
			return nil, fmt.Errorf("scan altitude: %w", err)
		}
		altitudes = append(altitudes, a)
	}
	return altitudes, rows.Err()
}

func (s *SQLiteStore) loadEvents(id model.MeasurementID) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, type, value, timestamp FROM events WHERE measurement_id = ? ORDER BY id`,
		int64(id),
	)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var typ int
		if err := rows.Scan(&e.ID, &typ, &e.Value, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.MeasurementID = id
		e.Type = model.EventType(typ)
		events = append(events, e)
	}
	return events, rows.Err()
}

// LoadSensorValues returns the three sensor streams in append order.
func (s *SQLiteStore) LoadSensorValues(id model.MeasurementID) (accelerations, rotations, directions []model.SensorValue, err error) {
	if err := s.exists(id); err != nil {
		return nil, nil, nil, err
	}

	rows, err := s.db.Query(
		`SELECT channel, timestamp, x, y, z FROM sensor_values WHERE measurement_id = ? ORDER BY id`,
		int64(id),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load sensor values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var channel int
		var v model.SensorValue
		if err := rows.Scan(&channel, &v.Timestamp, &v.X, &v.Y, &v.Z); err != nil {
			return nil, nil, nil, fmt.Errorf("scan sensor value: %w", err)
		}
		switch channel {
		case channelAcceleration:
			accelerations = append(accelerations, v)
		case channelRotation:
			rotations = append(rotations, v)
		case channelDirection:
			directions = append(directions, v)
		default:
			return nil, nil, nil, fmt.Errorf("%w: unknown sensor channel %d", ErrInconsistentData, channel)
		}
	}
	return accelerations, rotations, directions, rows.Err()
}

// LoadAll returns metadata for every stored measurement.
func (s *SQLiteStore) LoadAll() ([]model.Measurement, error) {
	return s.loadWhere("")
}

// LoadSynchronizable returns measurements finalized but not yet uploaded.
func (s *SQLiteStore) LoadSynchronizable() ([]model.Measurement, error) {
	return s.loadWhere("WHERE synchronizable = 1 AND synchronized = 0")
}

func (s *SQLiteStore) loadWhere(where string) ([]model.Measurement, error) {
	rows, err := s.db.Query(
		`SELECT id, start_timestamp, modality, synchronizable, synchronized,
		        track_length, acceleration_count, rotation_count, direction_count
		 FROM measurements ` + where + ` ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoContext, err)
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		var m model.Measurement
		var synchronizable, synchronized int
		if err := rows.Scan(
			&m.ID, &m.StartTimestamp, &m.Modality, &synchronizable, &synchronized,
			&m.TrackLength, &m.AccelerationCount, &m.RotationCount, &m.DirectionCount,
		); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		m.Synchronizable = synchronizable != 0
		m.Synchronized = synchronized != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadOpen returns the newest measurement that was never finalized.
func (s *SQLiteStore) LoadOpen() (*model.Measurement, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM measurements WHERE synchronizable = 0 AND synchronized = 0 ORDER BY id DESC LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load open measurement: %w", err)
	}
	return s.loadRow(model.MeasurementID(id))
}

// MarkSynchronizable finalizes the measurement for upload.
func (s *SQLiteStore) MarkSynchronizable(id model.MeasurementID) error {
	return s.setFlag(id, `UPDATE measurements SET synchronizable = 1 WHERE id = ?`)
}

// MarkSynchronized records a completed upload.
func (s *SQLiteStore) MarkSynchronized(id model.MeasurementID) error {
	return s.setFlag(id, `UPDATE measurements SET synchronized = 1 WHERE id = ?`)
}

func (s *SQLiteStore) setFlag(id model.MeasurementID, query string) error {
	res, err := s.db.Exec(query, int64(id))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoContext, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// Delete removes the measurement and all owned rows.
func (s *SQLiteStore) Delete(id model.MeasurementID) error {
	if err := s.exists(id); err != nil {
		return err
	}
	// ON DELETE CASCADE covers tracks, locations, altitudes, sensor values
	// and events.
	if _, err := s.db.Exec(`DELETE FROM measurements WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete measurement: %w", err)
	}
	return nil
}

// Clean strips the measurement's sensor data, keeping the location tracks
// and events, and zeroes the sample counters.
func (s *SQLiteStore) Clean(id model.MeasurementID) error {
	if err := s.exists(id); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoContext, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sensor_values WHERE measurement_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("clean sensor values: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE measurements SET acceleration_count = 0, rotation_count = 0, direction_count = 0 WHERE id = ?`,
		int64(id),
	); err != nil {
		return fmt.Errorf("reset sensor counts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clean: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
