package sim

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/store"
)

// Relationship axes are bounded integers.
const (
	axisMin = -100
	axisMax = 100
)

// Effects applies an event type's declared consequences to social state.
// Everything for one event happens in a single transaction: memories,
// relationship deltas, grievances, and reputation land together or not at
// all.
type Effects struct {
	store   *store.Store
	catalog *catalog.Catalog
}

// NewEffects builds the effect engine.
func NewEffects(st *store.Store, cat *catalog.Catalog) *Effects {
	return &Effects{store: st, catalog: cat}
}

// Apply runs the event's effects. Unknown event types apply nothing.
func (e *Effects) Apply(ev model.Event) error {
	et, ok := e.catalog.EventType(ev.Type)
	if !ok {
		return nil
	}
	fx := et.Effects

	actors := npcsOnly(ev.Actors)
	targets := npcsOnly(ev.Targets)

	involved := map[string]bool{}
	for _, id := range actors {
		involved[id] = true
	}
	for _, id := range targets {
		involved[id] = true
	}
	witnesses := make([]string, 0, len(involved))
	for id := range involved {
		witnesses = append(witnesses, id)
	}
	sort.Strings(witnesses)

	importance := clamp01(fx.MemoryImportanceBase + 0.4*ev.Severity + 0.2*ev.Publicness)
	summary := ev.Type
	if ev.PlaceID != "" {
		summary = fmt.Sprintf("%s @ %s", ev.Type, ev.PlaceID)
	}

	return e.store.WithTx(func(tx *sqlx.Tx) error {
		for _, npcID := range witnesses {
			m := model.Memory{
				NPCID:      npcID,
				EventID:    ev.ID,
				Importance: importance,
				Summary:    summary,
			}
			if err := e.store.InsertMemoryTx(tx, m, ev.Tick, ev.SimTS); err != nil {
				return fmt.Errorf("memory for %s: %w", npcID, err)
			}
		}

		if fx.ReputationDelta != 0 {
			for _, npcID := range actors {
				if err := e.store.AdjustReputationTx(tx, npcID, fx.ReputationDelta); err != nil {
					return fmt.Errorf("reputation for %s: %w", npcID, err)
				}
			}
		}

		if len(fx.RelationshipDeltas) == 0 || len(actors) == 0 || len(targets) == 0 {
			return nil
		}

		for _, actor := range actors {
			for _, target := range targets {
				if actor == target {
					continue
				}
				edge, _, err := e.store.EdgeTx(tx, actor, target)
				if err != nil {
					return fmt.Errorf("edge %s->%s: %w", actor, target, err)
				}
				for _, d := range fx.RelationshipDeltas {
					edge.Trust = clampAxis(edge.Trust + d.Trust)
					edge.Respect = clampAxis(edge.Respect + d.Respect)
					edge.Affection = clampAxis(edge.Affection + d.Affection)
					edge.Jealousy = clampAxis(edge.Jealousy + d.Jealousy)
					edge.Fear = clampAxis(edge.Fear + d.Fear)
					if d.Grievance != "" {
						edge.Grievances = append(edge.Grievances, d.Grievance)
					}
					if d.GrievanceSoften && len(edge.Grievances) > 0 {
						edge.Grievances = edge.Grievances[:len(edge.Grievances)-1]
					}
				}
				if err := e.store.UpsertEdgeTx(tx, edge); err != nil {
					return fmt.Errorf("update edge %s->%s: %w", actor, target, err)
				}
			}
		}
		return nil
	})
}

func clampAxis(v int) int {
	if v < axisMin {
		return axisMin
	}
	if v > axisMax {
		return axisMax
	}
	return v
}

// npcsOnly filters out non-NPC participants like system actors.
func npcsOnly(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.HasPrefix(id, "npc_") {
			out = append(out, id)
		}
	}
	return out
}
