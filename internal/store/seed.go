package store

import (
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/model"
)

// SeedWorld populates NPCs, places, relationships, and seed goals from the
// catalog. A database that already has villagers is left untouched; the
// returned bool says whether this call did the seeding.
func (s *Store) SeedWorld(cat *catalog.Catalog) (bool, error) {
	var existing int
	if err := s.conn.Get(&existing, "SELECT COUNT(*) FROM npcs"); err != nil {
		return false, err
	}
	if existing > 0 {
		return false, nil
	}

	err := s.WithTx(func(tx *sqlx.Tx) error {
		for _, n := range cat.NPCs {
			archetypes, err := json.Marshal(emptyIfNil(n.Archetypes))
			if err != nil {
				return err
			}
			values, err := json.Marshal(n.Values)
			if err != nil {
				return err
			}
			voice, err := json.Marshal(n.Voice)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO npcs
				(id, name, role, archetypes_json, values_json, voice_json, bio)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				n.ID, n.Name, n.Role, string(archetypes), string(values),
				string(voice), n.Bio); err != nil {
				return fmt.Errorf("seed npc %s: %w", n.ID, err)
			}

			for _, g := range n.GoalsSeed {
				if _, err := tx.Exec(`INSERT INTO goals
					(npc_id, horizon, priority, status, text)
					VALUES (?, ?, ?, 'active', ?)`,
					n.ID, g.Horizon, g.Priority, g.Text); err != nil {
					return fmt.Errorf("seed goal for %s: %w", n.ID, err)
				}
			}
		}

		for _, p := range cat.Places {
			if _, err := tx.Exec(
				"INSERT OR IGNORE INTO places (id, name, type) VALUES (?, ?, ?)",
				p.ID, p.Name, p.Type); err != nil {
				return fmt.Errorf("seed place %s: %w", p.ID, err)
			}
		}

		// Explicit edges first so broadcast fan-out never overwrites one.
		for _, e := range cat.Edges {
			if e.To == "npc_all" {
				continue
			}
			if err := seedEdgeTx(tx, e); err != nil {
				return fmt.Errorf("seed edge %s->%s: %w", e.From, e.To, err)
			}
		}
		for _, e := range cat.Edges {
			if e.To != "npc_all" {
				continue
			}
			for _, n := range cat.NPCs {
				if n.ID == e.From {
					continue
				}
				edge := e
				edge.To = n.ID
				if err := seedEdgeTx(tx, edge); err != nil {
					return fmt.Errorf("seed edge %s->%s: %w", edge.From, edge.To, err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func seedEdgeTx(tx *sqlx.Tx, e model.RelationshipEdge) error {
	grievances, err := json.Marshal(emptyIfNil(e.Grievances))
	if err != nil {
		return err
	}
	debts, err := json.Marshal(emptyIfNil(e.Debts))
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT OR IGNORE INTO relationships
		(from_npc, to_npc, mode, trust, respect, affection, jealousy, fear,
		 grievances_json, debts_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.From, e.To, e.Mode, e.Trust, e.Respect, e.Affection, e.Jealousy,
		e.Fear, string(grievances), string(debts))
	return err
}
