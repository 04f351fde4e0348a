// Package sim is the deterministic simulation core: the tick scheduler,
// event generation, impact scoring, effect application, channel dispatch,
// and the visibility engine that lets villagers notice and reply to what
// happens around them.
package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/config"
	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/store"
)

// noveltyWindow is how far back same-type events count against novelty.
const noveltyWindow = 24 * time.Hour

// Components are the five ingredients of an impact score, each in [0, 1].
type Components struct {
	Novelty    float64
	Conflict   float64
	Publicness float64
	Status     float64
	Cascade    float64
	Impact     float64
}

// Scorer computes event impact. Scoring reads state but never writes it;
// the same event against the same log always scores the same.
type Scorer struct {
	store   *store.Store
	catalog *catalog.Catalog
	weights map[string]float64
}

// NewScorer builds a scorer with validated weights.
func NewScorer(st *store.Store, cat *catalog.Catalog, weights map[string]float64) *Scorer {
	return &Scorer{store: st, catalog: cat, weights: weights}
}

// Score computes the impact components for one event.
func (sc *Scorer) Score(ev model.Event) (Components, error) {
	var c Components

	priorSame, err := sc.store.CountEventsByTypeBefore(
		ev.Type, ev.SimTS.Add(-noveltyWindow), ev.SimTS, ev.ID)
	if err != nil {
		return c, fmt.Errorf("novelty lookup: %w", err)
	}
	c.Novelty = 1.0 / float64(1+priorSame)

	c.Conflict = clamp01(ev.Severity)
	c.Publicness = clamp01(ev.Publicness)

	status, err := sc.meanStatus(append(append([]string{}, ev.Actors...), ev.Targets...))
	if err != nil {
		return c, fmt.Errorf("status lookup: %w", err)
	}
	c.Status = status

	c.Cascade = sc.cascade(ev)

	c.Impact = sc.weights[config.WeightNovelty]*c.Novelty +
		sc.weights[config.WeightConflict]*c.Conflict +
		sc.weights[config.WeightPublicness]*c.Publicness +
		sc.weights[config.WeightStatus]*c.Status +
		sc.weights[config.WeightCascade]*c.Cascade

	return c, nil
}

// meanStatus averages the status value of the involved NPCs. NPCs without a
// declared status count as 0.5, as does an event with nobody involved.
func (sc *Scorer) meanStatus(involved []string) (float64, error) {
	if len(involved) == 0 {
		return 0.5, nil
	}
	sum := 0.0
	for _, id := range involved {
		v, err := sc.store.NPCStatus(id)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(len(involved)), nil
}

// cascade estimates how much follow-on social churn the event type can
// cause, from its declared effects and the event shape.
func (sc *Scorer) cascade(ev model.Event) float64 {
	var deltas int
	var repDelta float64
	if et, ok := sc.catalog.EventType(ev.Type); ok {
		deltas = len(et.Effects.RelationshipDeltas)
		repDelta = et.Effects.ReputationDelta
	}
	raw := 0.2*ev.Severity +
		0.15*float64(deltas) +
		0.1*math.Min(1, math.Abs(repDelta)*5) +
		0.05*float64(len(ev.Targets))
	return clamp01(raw)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
