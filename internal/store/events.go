package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jpkarvonen/villaged/internal/model"
)

type eventRow struct {
	RowID      int64   `db:"rowid_alias"`
	ID         string  `db:"id"`
	Tick       uint64  `db:"tick"`
	SimTS      int64   `db:"sim_ts"`
	Type       string  `db:"type"`
	PlaceID    string  `db:"place_id"`
	Actors     string  `db:"actors_json"`
	Targets    string  `db:"targets_json"`
	Publicness float64 `db:"publicness"`
	Severity   float64 `db:"severity"`
	ChainDepth int     `db:"chain_depth"`
	Payload    string  `db:"payload_json"`
}

const eventCols = `rowid_alias, id, tick, sim_ts, type, place_id, actors_json,
	targets_json, publicness, severity, chain_depth, payload_json`

func (r eventRow) toEvent() (model.Event, error) {
	ev := model.Event{
		ID:         r.ID,
		Tick:       r.Tick,
		SimTS:      time.Unix(r.SimTS, 0).UTC(),
		Type:       r.Type,
		PlaceID:    r.PlaceID,
		Publicness: r.Publicness,
		Severity:   r.Severity,
		ChainDepth: r.ChainDepth,
	}
	if err := json.Unmarshal([]byte(r.Actors), &ev.Actors); err != nil {
		return ev, fmt.Errorf("event %s actors: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Targets), &ev.Targets); err != nil {
		return ev, fmt.Errorf("event %s targets: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Payload), &ev.Payload); err != nil {
		return ev, fmt.Errorf("event %s payload: %w", r.ID, err)
	}
	return ev, nil
}

func rowsToEvents(rows []eventRow) ([]model.Event, error) {
	out := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// InsertEvent appends one event. Inserting an id that already exists is a
// no-op; the returned bool says whether this call created the row.
func (s *Store) InsertEvent(ev model.Event) (bool, error) {
	actors, err := json.Marshal(emptyIfNil(ev.Actors))
	if err != nil {
		return false, fmt.Errorf("marshal actors: %w", err)
	}
	targets, err := json.Marshal(emptyIfNil(ev.Targets))
	if err != nil {
		return false, fmt.Errorf("marshal targets: %w", err)
	}
	payload, err := json.Marshal(emptyMapIfNil(ev.Payload))
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	res, err := s.conn.Exec(`INSERT OR IGNORE INTO events
		(id, tick, sim_ts, type, place_id, actors_json, targets_json,
		 publicness, severity, chain_depth, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Tick, ev.SimTS.Unix(), ev.Type, ev.PlaceID,
		string(actors), string(targets), ev.Publicness, ev.Severity,
		ev.ChainDepth, string(payload),
	)
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetEvent fetches one event by id.
func (s *Store) GetEvent(id string) (model.Event, bool, error) {
	var row eventRow
	err := s.conn.Get(&row, "SELECT "+eventCols+" FROM events WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, false, nil
		}
		return model.Event{}, false, err
	}
	ev, err := row.toEvent()
	return ev, err == nil, err
}

// MaxTick returns the highest tick index in the event log, or -1 when the
// log is empty. Resume starts at MaxTick+1.
func (s *Store) MaxTick() (int64, error) {
	var max int64
	err := s.conn.Get(&max, "SELECT COALESCE(MAX(tick), -1) FROM events")
	return max, err
}

// CountEvents returns the total number of logged events.
func (s *Store) CountEvents() (int64, error) {
	var n int64
	err := s.conn.Get(&n, "SELECT COUNT(*) FROM events")
	return n, err
}

// CountEventsByTypeBefore counts events of a type with sim_ts in
// [since, before), excluding the given id. Used for novelty scoring.
func (s *Store) CountEventsByTypeBefore(eventType string, since, before time.Time, excludeID string) (int, error) {
	var n int
	err := s.conn.Get(&n, `SELECT COUNT(*) FROM events
		WHERE type = ? AND sim_ts >= ? AND sim_ts < ? AND id != ?`,
		eventType, since.Unix(), before.Unix(), excludeID)
	return n, err
}

// RecentEvents returns the most recent N events, newest first.
func (s *Store) RecentEvents(limit int) ([]model.Event, error) {
	var rows []eventRow
	err := s.conn.Select(&rows,
		"SELECT "+eventCols+" FROM events ORDER BY rowid_alias DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return rowsToEvents(rows)
}

// EventsAfter returns events with a rowid greater than after, oldest first,
// along with the highest rowid seen. Used by the live feed.
func (s *Store) EventsAfter(after int64, limit int) ([]model.Event, int64, error) {
	var rows []eventRow
	err := s.conn.Select(&rows,
		"SELECT "+eventCols+" FROM events WHERE rowid_alias > ? ORDER BY rowid_alias ASC LIMIT ?",
		after, limit)
	if err != nil {
		return nil, 0, err
	}
	last := after
	if len(rows) > 0 {
		last = rows[len(rows)-1].RowID
	}
	evs, err := rowsToEvents(rows)
	return evs, last, err
}

// LatestEventRowID returns the rowid of the newest event, or 0 when the log
// is empty. Live feeds start tailing from here.
func (s *Store) LatestEventRowID() (int64, error) {
	var id int64
	err := s.conn.Get(&id, "SELECT COALESCE(MAX(rowid_alias), 0) FROM events")
	return id, err
}

// StimulusEvents returns events in the tick window [fromTick, toTick] that
// are public enough to be noticed and still below the reply chain cap.
func (s *Store) StimulusEvents(fromTick, toTick uint64, minPublicness float64, maxDepth int) ([]model.Event, error) {
	var rows []eventRow
	err := s.conn.Select(&rows, `SELECT `+eventCols+` FROM events
		WHERE tick >= ? AND tick <= ? AND publicness >= ? AND chain_depth < ?
		ORDER BY rowid_alias ASC`,
		fromTick, toTick, minPublicness, maxDepth)
	if err != nil {
		return nil, err
	}
	return rowsToEvents(rows)
}

func emptyIfNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func emptyMapIfNil(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
