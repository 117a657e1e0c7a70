package store

import (
	"log/slog"
	"time"

	"github.com/ayusman/depthcam/internal/capture"
)

// Journal records controller transitions and session summaries.
// It observes the controller and never drives it.
type Journal struct {
	store  *Store
	logger *slog.Logger

	// Snapshot, when set, supplies the frame-rate bound recorded once a
	// session starts streaming.
	Snapshot func() (capture.HandleInfo, bool)
}

// NewJournal creates a journal writing to s.
func NewJournal(s *Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: s, logger: logger}
}

// Record stores t and updates the session it belongs to. Storage errors are
// logged; capture continues regardless.
func (j *Journal) Record(t capture.Transition) {
	if err := j.store.Transitions().Append(t); err != nil {
		j.logger.Warn("journal append failed", "to", t.To.String(), "error", err)
	}
	if t.SessionID == "" {
		return
	}

	sessions := j.store.Sessions()
	var err error
	switch t.To {
	case capture.StateOpening:
		err = j.startSession(t)
	case capture.StateClosed:
		err = sessions.End(t.SessionID, t.To, t.At)
	case capture.StateStreaming:
		err = sessions.SetState(t.SessionID, t.To, "")
		if err == nil && j.Snapshot != nil {
			if info, ok := j.Snapshot(); ok && info.ID == t.SessionID && info.Configured {
				err = sessions.SetFPS(t.SessionID, info.FPS)
			}
		}
	default:
		var msg string
		if t.Err != nil {
			msg = t.Err.Error()
		}
		err = sessions.SetState(t.SessionID, t.To, msg)
	}
	if err != nil {
		j.logger.Warn("journal session update failed", "session_id", t.SessionID, "to", t.To.String(), "error", err)
	}
}

// startSession creates the session row and ends any session left open by an
// attempt that failed before reaching Closed.
func (j *Journal) startSession(t capture.Transition) error {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := j.store.DB().Exec(
		`UPDATE sessions SET ended_at = ? WHERE ended_at IS NULL AND id != ?`,
		at.UTC(), t.SessionID,
	); err != nil {
		return err
	}
	return j.store.Sessions().Create(&Session{
		ID:        t.SessionID,
		SensorID:  t.SensorID,
		StartedAt: at.UTC(),
	})
}

// RecordStats adds frame counts to a session.
func (j *Journal) RecordStats(sessionID string, frames, dropped uint64) {
	if sessionID == "" || (frames == 0 && dropped == 0) {
		return
	}
	if err := j.store.Sessions().AddCounts(sessionID, frames, dropped); err != nil {
		j.logger.Warn("journal stats update failed", "session_id", sessionID, "error", err)
	}
}

// RecordFPS stores the frame-rate bound a session is streaming with.
func (j *Journal) RecordFPS(sessionID string, fps capture.FPSRange) {
	if sessionID == "" {
		return
	}
	if err := j.store.Sessions().SetFPS(sessionID, fps); err != nil {
		j.logger.Warn("journal fps update failed", "session_id", sessionID, "error", err)
	}
}
