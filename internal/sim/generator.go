package sim

import (
	"fmt"
	"sort"
	"time"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/rng"
)

// Generator produces truth events: the scripted opening day and the
// recurring village routine. All randomness comes from the per-tick stream,
// so a given (seed, tick) always yields the same event.
type Generator struct {
	catalog *catalog.Catalog
	roster  []model.NPC // id order
	places  []model.Place
}

// NewGenerator builds a generator over a fixed roster. The roster must be
// in id order; rotation depends on it.
func NewGenerator(cat *catalog.Catalog, roster []model.NPC, places []model.Place) *Generator {
	return &Generator{catalog: cat, roster: roster, places: places}
}

// ScriptedEvents returns the opening-day scenario as concrete events, all
// at tick 0.
func (g *Generator) ScriptedEvents() ([]model.Event, error) {
	out := make([]model.Event, 0, len(g.catalog.Day1Events))
	for _, se := range g.catalog.Day1Events {
		ts, err := time.Parse(time.RFC3339, se.TSLocal)
		if err != nil {
			return nil, fmt.Errorf("scripted event %s ts: %w", se.ID, err)
		}
		out = append(out, model.Event{
			ID:         se.ID,
			Tick:       0,
			SimTS:      ts.UTC(),
			Type:       se.Type,
			PlaceID:    se.PlaceID,
			Actors:     append([]string{}, se.Actors...),
			Targets:    append([]string{}, se.Targets...),
			Publicness: se.Publicness,
			Severity:   se.Severity,
			Payload:    se.Payload,
		})
	}
	return out, nil
}

// Routine builds the routine event for a cadence tick. The actor rotates
// through the roster in id order; everything else is drawn from the tick's
// stream. ok=false means no template fit (for instance no matching place).
func (g *Generator) Routine(tick uint64, every uint64, simTS time.Time, stream *rng.Stream) (model.Event, bool) {
	if len(g.roster) == 0 || len(g.catalog.Routine) == 0 {
		return model.Event{}, false
	}

	actor := g.roster[(tick/every)%uint64(len(g.roster))]
	tpl := rng.Pick(stream, g.catalog.Routine)

	candidates := make([]model.Place, 0, len(g.places))
	for _, p := range g.places {
		for _, pt := range tpl.PlaceTypes {
			if p.Type == pt {
				candidates = append(candidates, p)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return model.Event{}, false
	}
	place := rng.Pick(stream, candidates)

	targets := []string{}
	if tpl.TargetChance > 0 && len(g.roster) > 1 && stream.Float64() < tpl.TargetChance {
		others := make([]model.NPC, 0, len(g.roster)-1)
		for _, n := range g.roster {
			if n.ID != actor.ID {
				others = append(others, n)
			}
		}
		targets = append(targets, rng.Pick(stream, others).ID)
	}

	payload := map[string]any{
		"source": "routine",
		"tick":   tick,
	}
	// Fields are drawn in sorted order so the stream is consumed the same
	// way on every run.
	pools := g.catalog.PayloadPools[tpl.Type]
	fields := make([]string, 0, len(pools))
	for field := range pools {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		payload[field] = rng.Pick(stream, pools[field])
	}

	return model.Event{
		ID:         fmt.Sprintf("evt_routine_%d_%s", tick, actor.ID),
		Tick:       tick,
		SimTS:      simTS,
		Type:       tpl.Type,
		PlaceID:    place.ID,
		Actors:     []string{actor.ID},
		Targets:    targets,
		Publicness: tpl.Publicness,
		Severity:   tpl.Severity,
		Payload:    payload,
	}, true
}
