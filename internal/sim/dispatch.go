package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/config"
	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/queue"
	"github.com/jpkarvonen/villaged/internal/store"
)

// Dispatcher decides which channels an event reaches and hands render jobs
// to the queue. A durable mark is written before any enqueue attempt, so a
// (event, channel) pair is enqueued at most once ever, including across
// restarts and replays of the same tick.
type Dispatcher struct {
	store      *store.Store
	catalog    *catalog.Catalog
	queue      queue.Queue
	thresholds map[string]float64
	cfg        config.DispatchConfig
	log        *slog.Logger
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(st *store.Store, cat *catalog.Catalog, q queue.Queue, thresholds map[string]float64, cfg config.DispatchConfig, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:      st,
		catalog:    cat,
		queue:      q,
		thresholds: thresholds,
		cfg:        cfg,
		log:        log,
	}
}

// DispatchForEvent fans an event out to every channel whose threshold its
// impact reaches, limited to the channels the event type declares.
func (d *Dispatcher) DispatchForEvent(ctx context.Context, ev model.Event, impact float64) error {
	et, ok := d.catalog.EventType(ev.Type)
	if !ok {
		return nil
	}
	for _, channel := range et.Render.DefaultChannels {
		threshold, known := d.thresholds[channel]
		if !known || impact < threshold {
			continue
		}
		job := model.RenderJob{
			Channel:       channel,
			AuthorID:      d.authorFor(ev, channel),
			SourceEventID: ev.ID,
			PromptContext: promptContext(ev, impact),
		}
		if err := d.EnqueueOnce(ctx, ev.ID, ev.Tick, job); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueOnce claims the dispatch mark and, if this call won it, pushes the
// job with bounded retries. A mark that was already claimed is a no-op.
// Enqueue failure after the mark is written is logged and swallowed: the
// mark is the record of intent, and losing one job beats duplicating it.
func (d *Dispatcher) EnqueueOnce(ctx context.Context, eventID string, tick uint64, job model.RenderJob) error {
	won, err := d.store.MarkDispatch(eventID, job.Channel, tick)
	if err != nil {
		return fmt.Errorf("claim dispatch %s/%s: %w", eventID, job.Channel, err)
	}
	if !won {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if lastErr = d.queue.Enqueue(ctx, job); lastErr == nil {
			d.log.Debug("render job enqueued",
				"event", eventID, "channel", job.Channel, "author", job.AuthorID)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(d.cfg.Backoff.Std() * time.Duration(attempt)):
		}
	}
	d.log.Error("render job dropped after retries",
		"event", eventID, "channel", job.Channel, "error", lastErr)
	return nil
}

// authorFor picks who speaks for the event on a channel. NEWS posts come
// from the village reporter when one is configured.
func (d *Dispatcher) authorFor(ev model.Event, channel string) string {
	if channel == "NEWS" && d.catalog.ReporterNPC != "" {
		return d.catalog.ReporterNPC
	}
	if len(ev.Actors) > 0 {
		return ev.Actors[0]
	}
	return d.catalog.ReporterNPC
}

func promptContext(ev model.Event, impact float64) map[string]any {
	return map[string]any{
		"event_type": ev.Type,
		"place_id":   ev.PlaceID,
		"actors":     ev.Actors,
		"targets":    ev.Targets,
		"payload":    ev.Payload,
		"impact":     impact,
		"sim_ts":     ev.SimTS.Format(time.RFC3339),
	}
}
