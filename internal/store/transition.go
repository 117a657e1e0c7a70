package store

import (
	"database/sql"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
)

// TransitionRecord is a stored lifecycle transition.
type TransitionRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	SensorID  string    `json:"sensor_id,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// TransitionRepository appends and reads lifecycle transitions.
type TransitionRepository struct {
	db *sql.DB
}

// Transitions returns the transition repository for this store.
func (s *Store) Transitions() *TransitionRepository {
	return &TransitionRepository{db: s.db}
}

// Append stores t.
func (r *TransitionRepository) Append(t capture.Transition) error {
	var errMsg string
	if t.Err != nil {
		errMsg = t.Err.Error()
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.db.Exec(
		`INSERT INTO transitions (session_id, sensor_id, from_state, to_state, error, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.SensorID, t.From.String(), t.To.String(), errMsg, at.UTC(),
	)
	return err
}

// ListBySession returns the transitions of a session in emission order.
func (r *TransitionRepository) ListBySession(sessionID string) ([]*TransitionRecord, error) {
	return r.query(
		`SELECT id, session_id, sensor_id, from_state, to_state, error, at
		 FROM transitions WHERE session_id = ? ORDER BY id`, sessionID,
	)
}

// Recent returns the last limit transitions, oldest first.
func (r *TransitionRepository) Recent(limit int) ([]*TransitionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	records, err := r.query(
		`SELECT id, session_id, sensor_id, from_state, to_state, error, at
		 FROM transitions ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (r *TransitionRepository) query(q string, args ...any) ([]*TransitionRecord, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*TransitionRecord
	for rows.Next() {
		rec := &TransitionRecord{}
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.SensorID, &rec.From, &rec.To, &rec.Error, &rec.At); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
