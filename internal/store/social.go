package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jpkarvonen/villaged/internal/model"
)

type npcRow struct {
	ID         string  `db:"id"`
	Name       string  `db:"name"`
	Role       string  `db:"role"`
	Archetypes string  `db:"archetypes_json"`
	Values     string  `db:"values_json"`
	Voice      string  `db:"voice_json"`
	Bio        string  `db:"bio"`
	Reputation float64 `db:"reputation"`
}

func (r npcRow) toNPC() (model.NPC, error) {
	n := model.NPC{ID: r.ID, Name: r.Name, Role: r.Role, Bio: r.Bio}
	if err := json.Unmarshal([]byte(r.Archetypes), &n.Archetypes); err != nil {
		return n, fmt.Errorf("npc %s archetypes: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Values), &n.Values); err != nil {
		return n, fmt.Errorf("npc %s values: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Voice), &n.Voice); err != nil {
		return n, fmt.Errorf("npc %s voice: %w", r.ID, err)
	}
	return n, nil
}

// NPCs returns all villagers in id order. The order is part of the routine
// generator's determinism contract.
func (s *Store) NPCs() ([]model.NPC, error) {
	var rows []npcRow
	err := s.conn.Select(&rows, "SELECT * FROM npcs ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	out := make([]model.NPC, 0, len(rows))
	for _, r := range rows {
		n, err := r.toNPC()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// NPC fetches one villager.
func (s *Store) NPC(id string) (model.NPC, bool, error) {
	var row npcRow
	err := s.conn.Get(&row, "SELECT * FROM npcs WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NPC{}, false, nil
		}
		return model.NPC{}, false, err
	}
	n, err := row.toNPC()
	return n, err == nil, err
}

// NPCStatus returns an NPC's status value, defaulting to 0.5 when the
// profile does not declare one.
func (s *Store) NPCStatus(id string) (float64, error) {
	n, ok, err := s.NPC(id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0.5, nil
	}
	if v, declared := n.Values["status"]; declared {
		return v, nil
	}
	return 0.5, nil
}

// Places returns all places in id order.
func (s *Store) Places() ([]model.Place, error) {
	var out []model.Place
	err := s.conn.Select(&out, "SELECT id, name, type FROM places ORDER BY id ASC")
	return out, err
}

type edgeRow struct {
	From       string `db:"from_npc"`
	To         string `db:"to_npc"`
	Mode       string `db:"mode"`
	Trust      int    `db:"trust"`
	Respect    int    `db:"respect"`
	Affection  int    `db:"affection"`
	Jealousy   int    `db:"jealousy"`
	Fear       int    `db:"fear"`
	Grievances string `db:"grievances_json"`
	Debts      string `db:"debts_json"`
}

func (r edgeRow) toEdge() (model.RelationshipEdge, error) {
	e := model.RelationshipEdge{
		From: r.From, To: r.To, Mode: r.Mode,
		Trust: r.Trust, Respect: r.Respect, Affection: r.Affection,
		Jealousy: r.Jealousy, Fear: r.Fear,
	}
	if err := json.Unmarshal([]byte(r.Grievances), &e.Grievances); err != nil {
		return e, fmt.Errorf("edge %s->%s grievances: %w", r.From, r.To, err)
	}
	if err := json.Unmarshal([]byte(r.Debts), &e.Debts); err != nil {
		return e, fmt.Errorf("edge %s->%s debts: %w", r.From, r.To, err)
	}
	return e, nil
}

// Edge fetches the directed relationship from one NPC to another.
func (s *Store) Edge(from, to string) (model.RelationshipEdge, bool, error) {
	return getEdge(s.conn, from, to)
}

// EdgeTx is Edge inside a transaction.
func (s *Store) EdgeTx(tx *sqlx.Tx, from, to string) (model.RelationshipEdge, bool, error) {
	return getEdge(tx, from, to)
}

func getEdge(q sqlx.Queryer, from, to string) (model.RelationshipEdge, bool, error) {
	var row edgeRow
	err := sqlx.Get(q, &row, "SELECT * FROM relationships WHERE from_npc = ? AND to_npc = ?", from, to)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RelationshipEdge{From: from, To: to, Grievances: []string{}, Debts: []string{}}, false, nil
		}
		return model.RelationshipEdge{}, false, err
	}
	e, err := row.toEdge()
	return e, err == nil, err
}

// Edges returns all relationship edges.
func (s *Store) Edges() ([]model.RelationshipEdge, error) {
	var rows []edgeRow
	err := s.conn.Select(&rows, "SELECT * FROM relationships ORDER BY from_npc, to_npc")
	if err != nil {
		return nil, err
	}
	out := make([]model.RelationshipEdge, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEdge()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UpsertEdgeTx writes a relationship edge inside a transaction.
func (s *Store) UpsertEdgeTx(tx *sqlx.Tx, e model.RelationshipEdge) error {
	grievances, err := json.Marshal(emptyIfNil(e.Grievances))
	if err != nil {
		return fmt.Errorf("marshal grievances: %w", err)
	}
	debts, err := json.Marshal(emptyIfNil(e.Debts))
	if err != nil {
		return fmt.Errorf("marshal debts: %w", err)
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO relationships
		(from_npc, to_npc, mode, trust, respect, affection, jealousy, fear,
		 grievances_json, debts_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.From, e.To, e.Mode, e.Trust, e.Respect, e.Affection, e.Jealousy,
		e.Fear, string(grievances), string(debts))
	return err
}

// InsertMemoryTx appends a memory row inside a transaction.
func (s *Store) InsertMemoryTx(tx *sqlx.Tx, m model.Memory, tick uint64, simTS time.Time) error {
	_, err := tx.Exec(`INSERT INTO memories
		(npc_id, event_id, tick, sim_ts, importance, summary)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.NPCID, m.EventID, tick, simTS.Unix(), m.Importance, m.Summary)
	return err
}

// MemoriesFor returns an NPC's memories, most important first.
func (s *Store) MemoriesFor(npcID string, limit int) ([]model.Memory, error) {
	var out []model.Memory
	err := s.conn.Select(&out, `SELECT npc_id, event_id, importance, summary
		FROM memories WHERE npc_id = ?
		ORDER BY importance DESC, id DESC LIMIT ?`, npcID, limit)
	return out, err
}

// AdjustReputationTx shifts an NPC's reputation, clamped to [0, 1].
func (s *Store) AdjustReputationTx(tx *sqlx.Tx, npcID string, delta float64) error {
	_, err := tx.Exec(`UPDATE npcs
		SET reputation = MAX(0.0, MIN(1.0, reputation + ?))
		WHERE id = ?`, delta, npcID)
	return err
}

// GoalsFor returns an NPC's goals.
func (s *Store) GoalsFor(npcID string) ([]model.Goal, error) {
	var out []model.Goal
	err := s.conn.Select(&out, `SELECT id, npc_id, horizon, priority, status, text
		FROM goals WHERE npc_id = ? ORDER BY priority DESC, id ASC`, npcID)
	return out, err
}

// SetGoalStatus transitions a goal. Done and failed are terminal; active
// and paused flip freely.
func (s *Store) SetGoalStatus(id int64, status string) error {
	switch status {
	case model.GoalActive, model.GoalDone, model.GoalFailed, model.GoalPaused:
	default:
		return fmt.Errorf("unknown goal status %q", status)
	}

	var current string
	if err := s.conn.Get(&current, "SELECT status FROM goals WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("goal %d not found", id)
		}
		return err
	}
	if current == model.GoalDone || current == model.GoalFailed {
		return fmt.Errorf("goal %d is %s and cannot change", id, current)
	}

	_, err := s.conn.Exec("UPDATE goals SET status = ? WHERE id = ?", status, id)
	return err
}
