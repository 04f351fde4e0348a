package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jpkarvonen/villaged/internal/model"
)

// MarkDispatch claims the (event, channel) dispatch slot. The first caller
// wins and gets true; later calls are no-ops. This is what makes enqueueing
// at-most-once across restarts and replays.
func (s *Store) MarkDispatch(eventID, channel string, tick uint64) (bool, error) {
	res, err := s.conn.Exec(
		"INSERT OR IGNORE INTO render_marks (event_id, channel, tick) VALUES (?, ?, ?)",
		eventID, channel, tick)
	if err != nil {
		return false, fmt.Errorf("mark dispatch %s/%s: %w", eventID, channel, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delivered reports whether a stimulus has already been delivered to an NPC.
func (s *Store) Delivered(stimulusID, npcID string) (bool, error) {
	var n int
	err := s.conn.Get(&n,
		"SELECT COUNT(*) FROM deliveries WHERE stimulus_id = ? AND npc_id = ?",
		stimulusID, npcID)
	return n > 0, err
}

// RecordDelivery marks a stimulus as seen by an NPC. Duplicate deliveries
// are no-ops; the bool says whether this call created the record.
func (s *Store) RecordDelivery(stimulusID, npcID string, tick uint64, simTS time.Time) (bool, error) {
	res, err := s.conn.Exec(`INSERT OR IGNORE INTO deliveries
		(stimulus_id, npc_id, tick, sim_ts) VALUES (?, ?, ?, ?)`,
		stimulusID, npcID, tick, simTS.Unix())
	if err != nil {
		return false, fmt.Errorf("record delivery %s/%s: %w", stimulusID, npcID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordReply marks a delivery as replied-to on a channel. The delivery row
// must already exist.
func (s *Store) RecordReply(stimulusID, npcID, channel string, simTS time.Time) error {
	_, err := s.conn.Exec(`UPDATE deliveries
		SET replied = 1, reply_channel = ?, sim_ts = ?
		WHERE stimulus_id = ? AND npc_id = ?`,
		channel, simTS.Unix(), stimulusID, npcID)
	return err
}

// Replied reports whether an NPC already replied to a stimulus.
func (s *Store) Replied(stimulusID, npcID string) (bool, error) {
	var n int
	err := s.conn.Get(&n,
		"SELECT COUNT(*) FROM deliveries WHERE stimulus_id = ? AND npc_id = ? AND replied = 1",
		stimulusID, npcID)
	return n > 0, err
}

// LastReplyAt returns the sim time of the NPC's most recent reply on a
// channel. ok=false means the NPC has never replied there.
func (s *Store) LastReplyAt(npcID, channel string) (time.Time, bool, error) {
	var ts int64
	err := s.conn.Get(&ts, `SELECT sim_ts FROM deliveries
		WHERE npc_id = ? AND reply_channel = ? AND replied = 1
		ORDER BY sim_ts DESC LIMIT 1`, npcID, channel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.Unix(ts, 0).UTC(), true, nil
}

type ambientRow struct {
	ID         string  `db:"id"`
	SimDate    string  `db:"sim_date"`
	Type       string  `db:"type"`
	Topic      string  `db:"topic"`
	Intensity  float64 `db:"intensity"`
	Sentiment  float64 `db:"sentiment"`
	Confidence float64 `db:"confidence"`
	ExpiresAt  int64   `db:"expires_at"`
	Payload    string  `db:"payload_json"`
}

func (r ambientRow) toAmbient() (model.AmbientEvent, error) {
	a := model.AmbientEvent{
		ID:         r.ID,
		SimDate:    r.SimDate,
		Type:       r.Type,
		Topic:      r.Topic,
		Intensity:  r.Intensity,
		Sentiment:  r.Sentiment,
		Confidence: r.Confidence,
		ExpiresAt:  time.Unix(r.ExpiresAt, 0).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Payload), &a.Payload); err != nil {
		return a, fmt.Errorf("ambient %s payload: %w", r.ID, err)
	}
	return a, nil
}

// InsertAmbient stores one ambient stimulus. Ids are stable per sim date,
// so re-collecting a day is a no-op.
func (s *Store) InsertAmbient(a model.AmbientEvent) (bool, error) {
	payload, err := json.Marshal(emptyMapIfNil(a.Payload))
	if err != nil {
		return false, fmt.Errorf("marshal ambient payload: %w", err)
	}
	res, err := s.conn.Exec(`INSERT OR IGNORE INTO ambient_events
		(id, sim_date, type, topic, intensity, sentiment, confidence, expires_at, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SimDate, a.Type, a.Topic, a.Intensity, a.Sentiment,
		a.Confidence, a.ExpiresAt.Unix(), string(payload))
	if err != nil {
		return false, fmt.Errorf("insert ambient %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ActiveAmbient returns unexpired ambient stimuli at a sim time, in id
// order for deterministic iteration.
func (s *Store) ActiveAmbient(simTS time.Time) ([]model.AmbientEvent, error) {
	var rows []ambientRow
	err := s.conn.Select(&rows,
		"SELECT * FROM ambient_events WHERE expires_at > ? ORDER BY id ASC",
		simTS.Unix())
	if err != nil {
		return nil, err
	}
	out := make([]model.AmbientEvent, 0, len(rows))
	for _, r := range rows {
		a, err := r.toAmbient()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// HasAmbientForDate reports whether any ambient stimuli exist for a sim date.
func (s *Store) HasAmbientForDate(simDate string) (bool, error) {
	var n int
	err := s.conn.Get(&n, "SELECT COUNT(*) FROM ambient_events WHERE sim_date = ?", simDate)
	return n > 0, err
}
