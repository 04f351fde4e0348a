package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/config"
	"github.com/jpkarvonen/villaged/internal/queue"
	"github.com/jpkarvonen/villaged/internal/rng"
	"github.com/jpkarvonen/villaged/internal/store"
)

// Scheduler lifecycle states.
const (
	StateUninitialized = "uninitialized"
	StateSeeding       = "seeding"
	StateReplaying     = "replaying"
	StateRunning       = "running"
	StateStopped       = "stopped"
)

// AmbientCollector injects external stimuli for a sim date. The scheduler
// calls it once per day boundary; re-collecting a day must be a no-op.
type AmbientCollector interface {
	CollectDay(simDate string, simTS time.Time) error
}

// Scheduler owns the tick loop. Each tick advances sim time by one fixed
// step; tick index, not wall clock, is the only time the simulation sees.
type Scheduler struct {
	cfg     config.Config
	store   *store.Store
	catalog *catalog.Catalog
	log     *slog.Logger

	pipeline   *Pipeline
	dispatcher *Dispatcher
	visibility *Visibility
	generator  *Generator
	ambient    AmbientCollector

	mu    sync.Mutex
	state string
	tick  uint64
}

// NewScheduler builds an unstarted scheduler. Bootstrap must run before
// Step.
func NewScheduler(cfg config.Config, st *store.Store, cat *catalog.Catalog, q queue.Queue, amb AmbientCollector, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		store:   st,
		catalog: cat,
		ambient: amb,
		log:     log,
		state:   StateUninitialized,
	}

	scorer := NewScorer(st, cat, cfg.ImpactWeights)
	effects := NewEffects(st, cat)
	dispatcher := NewDispatcher(st, cat, q, cfg.Thresholds, cfg.Dispatch, log)
	s.pipeline = NewPipeline(st, cat, effects, scorer, dispatcher, log)
	s.dispatcher = dispatcher
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick returns the next tick index to run.
func (s *Scheduler) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// SimTime maps a tick index to simulation time.
func (s *Scheduler) SimTime(tick uint64) time.Time {
	return s.catalog.BaselineSimTS.Add(time.Duration(tick) * s.cfg.SimStep.Std())
}

func (s *Scheduler) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Bootstrap seeds the world if needed, plays the scripted opening day into
// an empty log, and positions the tick counter after the last logged tick.
// Running it against a populated database changes nothing.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	s.setState(StateSeeding)

	seeded, err := s.store.SeedWorld(s.catalog)
	if err != nil {
		return fmt.Errorf("seed world: %w", err)
	}
	if seeded {
		s.log.Info("world seeded", "npcs", len(s.catalog.NPCs), "places", len(s.catalog.Places))
	}

	roster, err := s.store.NPCs()
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	places, err := s.store.Places()
	if err != nil {
		return fmt.Errorf("load places: %w", err)
	}
	s.generator = NewGenerator(s.catalog, roster, places)
	s.visibility = NewVisibility(s.store, s.catalog, s.cfg.Visibility, s.pipeline, s.dispatcher, roster, s.log)

	s.setState(StateReplaying)

	count, err := s.store.CountEvents()
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	if count == 0 {
		scripted, err := s.generator.ScriptedEvents()
		if err != nil {
			return fmt.Errorf("scripted events: %w", err)
		}
		for _, ev := range scripted {
			if err := s.pipeline.Process(ctx, ev); err != nil {
				return fmt.Errorf("scripted event %s: %w", ev.ID, err)
			}
		}
		s.log.Info("opening day scripted", "events", len(scripted))
	}

	maxTick, err := s.store.MaxTick()
	if err != nil {
		return fmt.Errorf("resume point: %w", err)
	}
	s.mu.Lock()
	s.tick = uint64(maxTick + 1)
	s.mu.Unlock()

	s.setState(StateRunning)
	s.log.Info("scheduler ready", "resume_tick", maxTick+1)
	return nil
}

// Step runs exactly one tick and advances the counter.
func (s *Scheduler) Step(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is %s, not running", s.state)
	}
	tick := s.tick
	s.mu.Unlock()

	simTS := s.SimTime(tick)

	if s.ambient != nil {
		simDate := simTS.Format("2006-01-02")
		has, err := s.store.HasAmbientForDate(simDate)
		if err != nil {
			return fmt.Errorf("ambient check: %w", err)
		}
		if !has {
			if err := s.ambient.CollectDay(simDate, simTS); err != nil {
				// Ambient sources are decoration; a bad day of weather
				// must not stop the village.
				s.log.Error("ambient collection failed", "date", simDate, "error", err)
			}
		}
	}

	if tick > 0 && tick%s.cfg.RoutineEvery == 0 {
		stream := rng.NewStream(s.cfg.Seed, tick)
		if ev, ok := s.generator.Routine(tick, s.cfg.RoutineEvery, simTS, stream); ok {
			if err := s.pipeline.Process(ctx, ev); err != nil {
				return fmt.Errorf("routine event: %w", err)
			}
		}
	}

	if tick > 0 && tick%s.cfg.AmbientEvery == 0 {
		// Windows overlap by one pass so replies made during a sweep can
		// still be noticed in the next one. Delivery records keep the
		// overlap from double-processing anything.
		fromTick := uint64(0)
		if tick > 2*s.cfg.AmbientEvery {
			fromTick = tick - 2*s.cfg.AmbientEvery
		}
		if err := s.visibility.Pass(ctx, tick, fromTick, simTS); err != nil {
			return fmt.Errorf("visibility pass: %w", err)
		}
	}

	s.mu.Lock()
	s.tick = tick + 1
	s.mu.Unlock()
	return nil
}

// Run boots the scheduler and ticks until the context ends. Stopping is
// cooperative: a tick in flight always finishes.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		s.setState(StateStopped)
		return err
	}

	ticker := time.NewTicker(s.cfg.TickInterval.Std())
	defer ticker.Stop()

	s.log.Info("simulation running",
		"seed", s.cfg.Seed,
		"tick_interval", s.cfg.TickInterval.Std().String(),
		"sim_step", s.cfg.SimStep.Std().String())

	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			s.log.Info("simulation stopped", "next_tick", s.Tick())
			return nil
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				s.log.Error("tick failed", "tick", s.Tick(), "error", err)
			}
		}
	}
}
