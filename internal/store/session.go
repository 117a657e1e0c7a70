package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
)

// Session is one capture session from open to close.
type Session struct {
	ID         string           `json:"id"`
	SensorID   string           `json:"sensor_id"`
	FPS        capture.FPSRange `json:"fps"`
	FinalState string           `json:"final_state"`
	Error      string           `json:"error,omitempty"`
	Frames     uint64           `json:"frames"`
	Dropped    uint64           `json:"dropped"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    *time.Time       `json:"ended_at,omitempty"`
}

// SessionRepository provides access to recorded capture sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	if sess.FinalState == "" {
		sess.FinalState = capture.StateOpening.String()
	}
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, sensor_id, fps_min, fps_max, final_state, error, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SensorID, sess.FPS.Min, sess.FPS.Max, sess.FinalState, sess.Error, sess.StartedAt,
	)
	return err
}

// SetState records the latest state of a session.
func (r *SessionRepository) SetState(id string, state capture.State, errMsg string) error {
	return r.exec(`UPDATE sessions SET final_state = ?, error = CASE WHEN ? = '' THEN error ELSE ? END WHERE id = ?`,
		state.String(), errMsg, errMsg, id)
}

// SetFPS records the frame-rate bound of the repeating request.
func (r *SessionRepository) SetFPS(id string, fps capture.FPSRange) error {
	return r.exec(`UPDATE sessions SET fps_min = ?, fps_max = ? WHERE id = ?`, fps.Min, fps.Max, id)
}

// AddCounts adds delivered and dropped frame counts to a session.
func (r *SessionRepository) AddCounts(id string, frames, dropped uint64) error {
	return r.exec(`UPDATE sessions SET frames = frames + ?, dropped = dropped + ? WHERE id = ?`,
		int64(frames), int64(dropped), id)
}

// End marks a session finished.
func (r *SessionRepository) End(id string, state capture.State, at time.Time) error {
	return r.exec(`UPDATE sessions SET final_state = ?, ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		state.String(), at.UTC(), id)
}

func (r *SessionRepository) exec(query string, args ...any) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(
		`SELECT id, sensor_id, fps_min, fps_max, final_state, error, frames, dropped, started_at, ended_at
		 FROM sessions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// List returns up to limit sessions, most recent first.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT id, sensor_id, fps_min, fps_max, final_state, error, frames, dropped, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess            Session
		frames, dropped int64
		ended           sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.SensorID, &sess.FPS.Min, &sess.FPS.Max, &sess.FinalState,
		&sess.Error, &frames, &dropped, &sess.StartedAt, &ended)
	if err != nil {
		return nil, err
	}
	sess.Frames = uint64(frames)
	sess.Dropped = uint64(dropped)
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}
