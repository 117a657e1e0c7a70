package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
)

// Sensor is a scanned sensor descriptor as recorded in the journal.
type Sensor struct {
	capture.SensorDescriptor
	// FOVDegrees is the horizontal field of view, zero when unknown.
	FOVDegrees float64   `json:"fov_deg,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// SensorRepository records sensors reported by the scanner.
type SensorRepository struct {
	db *sql.DB
}

// Sensors returns the sensor repository for this store.
func (s *Store) Sensors() *SensorRepository {
	return &SensorRepository{db: s.db}
}

// Upsert inserts d or refreshes its descriptor and last-seen time.
func (r *SensorRepository) Upsert(d capture.SensorDescriptor) error {
	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return err
	}
	focal, err := json.Marshal(d.FocalLengths)
	if err != nil {
		return err
	}

	var fov sql.NullFloat64
	if rad, ok := capture.FieldOfView(d); ok {
		fov = sql.NullFloat64{Float64: rad * 180 / math.Pi, Valid: true}
	}

	now := time.Now().UTC()
	_, err = r.db.Exec(
		`INSERT INTO sensors (id, facing, capabilities, sensor_width, sensor_height, focal_lengths, fov_deg, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			facing = excluded.facing,
			capabilities = excluded.capabilities,
			sensor_width = excluded.sensor_width,
			sensor_height = excluded.sensor_height,
			focal_lengths = excluded.focal_lengths,
			fov_deg = excluded.fov_deg,
			last_seen = excluded.last_seen`,
		d.ID, d.Facing.String(), string(caps), d.PhysicalSize.Width, d.PhysicalSize.Height,
		string(focal), fov, now, now,
	)
	return err
}

// GetByID retrieves a sensor by its ID.
func (r *SensorRepository) GetByID(id string) (*Sensor, error) {
	row := r.db.QueryRow(
		`SELECT id, facing, capabilities, sensor_width, sensor_height, focal_lengths, fov_deg, first_seen, last_seen
		 FROM sensors WHERE id = ?`, id,
	)
	sensor, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sensor, err
}

// List returns all recorded sensors ordered by ID.
func (r *SensorRepository) List() ([]*Sensor, error) {
	rows, err := r.db.Query(
		`SELECT id, facing, capabilities, sensor_width, sensor_height, focal_lengths, fov_deg, first_seen, last_seen
		 FROM sensors ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sensors []*Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}
	return sensors, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSensor(row rowScanner) (*Sensor, error) {
	var (
		s           Sensor
		facing      string
		caps, focal string
		fov         sql.NullFloat64
	)
	err := row.Scan(&s.ID, &facing, &caps, &s.PhysicalSize.Width, &s.PhysicalSize.Height,
		&focal, &fov, &s.FirstSeen, &s.LastSeen)
	if err != nil {
		return nil, err
	}

	if s.Facing, err = capture.ParseFacing(facing); err != nil {
		return nil, fmt.Errorf("sensor %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(caps), &s.Capabilities); err != nil {
		return nil, fmt.Errorf("sensor %s capabilities: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(focal), &s.FocalLengths); err != nil {
		return nil, fmt.Errorf("sensor %s focal lengths: %w", s.ID, err)
	}
	if fov.Valid {
		s.FOVDegrees = fov.Float64
	}
	return &s, nil
}
