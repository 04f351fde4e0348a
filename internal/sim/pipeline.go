package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/store"
)

// Pipeline runs one event through the full truth path: validate, append to
// the log, apply effects, score, dispatch. Every event takes this path, no
// matter who produced it.
type Pipeline struct {
	store      *store.Store
	catalog    *catalog.Catalog
	effects    *Effects
	scorer     *Scorer
	dispatcher *Dispatcher
	log        *slog.Logger
}

// NewPipeline wires the event path together.
func NewPipeline(st *store.Store, cat *catalog.Catalog, fx *Effects, sc *Scorer, d *Dispatcher, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:      st,
		catalog:    cat,
		effects:    fx,
		scorer:     sc,
		dispatcher: d,
		log:        log,
	}
}

// Process handles one event end to end. A duplicate id is a clean no-op.
// Effect failures are logged and do not stop scoring or dispatch; a scoring
// failure stops dispatch and is surfaced.
func (p *Pipeline) Process(ctx context.Context, ev model.Event) error {
	et, ok := p.catalog.EventType(ev.Type)
	if !ok {
		return fmt.Errorf("event %s has unknown type %s", ev.ID, ev.Type)
	}
	if err := et.ValidatePayload(ev.Payload); err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}

	inserted, err := p.store.InsertEvent(ev)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	if !inserted {
		p.log.Debug("event already logged", "event", ev.ID)
		return nil
	}

	if err := p.effects.Apply(ev); err != nil {
		// The event is already truth; losing its side effects is a wart,
		// not a reason to halt the village.
		p.log.Error("effects failed", "event", ev.ID, "error", err)
	}

	comps, err := p.scorer.Score(ev)
	if err != nil {
		return fmt.Errorf("score event %s: %w", ev.ID, err)
	}

	p.log.Info("event processed",
		"event", ev.ID, "type", ev.Type, "tick", ev.Tick,
		"impact", fmt.Sprintf("%.3f", comps.Impact))

	return p.dispatcher.DispatchForEvent(ctx, ev, comps.Impact)
}
