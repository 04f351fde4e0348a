package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/config"
	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/rng"
	"github.com/jpkarvonen/villaged/internal/store"
)

// Event types emitted by the visibility engine.
const (
	typeAmbientSeen    = "AMBIENT_SEEN"
	typeAmbientReplied = "AMBIENT_REPLIED"
	typeEventSeen      = "EVENT_SEEN"
	typeEventReplied   = "EVENT_REPLIED"
)

// replyPublicness makes replies public enough to be noticed in turn, so
// chains can grow until the depth cap.
const replyPublicness = 0.6

// Visibility decides which villagers notice which stimuli, and whether
// they say something about it. Every probability gate is a stable hash of
// (stimulus, npc), never a stream draw: whether Aino notices the rain does
// not depend on what else happened that tick.
type Visibility struct {
	store      *store.Store
	catalog    *catalog.Catalog
	cfg        config.VisibilityConfig
	pipeline   *Pipeline
	dispatcher *Dispatcher
	roster     []model.NPC // id order
	log        *slog.Logger
}

// NewVisibility builds the visibility engine.
func NewVisibility(st *store.Store, cat *catalog.Catalog, cfg config.VisibilityConfig, p *Pipeline, d *Dispatcher, roster []model.NPC, log *slog.Logger) *Visibility {
	return &Visibility{
		store:      st,
		catalog:    cat,
		cfg:        cfg,
		pipeline:   p,
		dispatcher: d,
		roster:     roster,
		log:        log,
	}
}

// Pass runs one delivery sweep: active ambient stimuli first, then recent
// public events in the tick window [fromTick, tick]. Re-running a sweep is
// harmless; delivery records and hash gates make every decision repeatable.
func (v *Visibility) Pass(ctx context.Context, tick, fromTick uint64, simTS time.Time) error {
	// Snapshot the social stimuli before anything is delivered: a sweep
	// considers the world as it stood when the sweep began, and replies it
	// creates wait for the next one.
	events, err := v.store.StimulusEvents(fromTick, tick, v.cfg.StimulusMinPublicness, v.cfg.MaxChainDepth)
	if err != nil {
		return fmt.Errorf("load stimuli: %w", err)
	}

	ambient, err := v.store.ActiveAmbient(simTS)
	if err != nil {
		return fmt.Errorf("load ambient: %w", err)
	}
	for _, amb := range ambient {
		for _, npc := range v.roster {
			if err := v.considerAmbient(ctx, amb, npc, tick, simTS); err != nil {
				return err
			}
		}
	}

	for _, ev := range events {
		for _, npc := range v.roster {
			if contains(ev.Actors, npc.ID) {
				continue
			}
			if err := v.considerEvent(ctx, ev, npc, tick, simTS); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Visibility) considerAmbient(ctx context.Context, amb model.AmbientEvent, npc model.NPC, tick uint64, simTS time.Time) error {
	delivered, err := v.store.Delivered(amb.ID, npc.ID)
	if err != nil {
		return err
	}
	if delivered {
		return nil
	}

	p := clamp01(v.cfg.Baseline + v.cfg.ArchetypeMods[npc.Archetype()])
	if rng.PercentRoll(amb.ID, npc.ID) >= int(p*100) {
		return nil
	}

	seen := model.Event{
		ID:     fmt.Sprintf("evt_seen_%s_%s", amb.ID, npc.ID),
		Tick:   tick,
		SimTS:  simTS,
		Type:   typeAmbientSeen,
		Actors: []string{npc.ID},
		Payload: map[string]any{
			"stimulus_id": amb.ID,
			"topic":       amb.Topic,
			"kind":        amb.Type,
		},
	}
	if err := v.pipeline.Process(ctx, seen); err != nil {
		return fmt.Errorf("seen event: %w", err)
	}

	// The delivery record commits only after the SEEN event is durably
	// logged. A failure in between retries cleanly: the event insert is
	// idempotent, and an unrecorded pair is considered again next sweep.
	if _, err := v.store.RecordDelivery(amb.ID, npc.ID, tick, simTS); err != nil {
		return err
	}

	reaction := v.catalog.Appraise(amb.Topic, npc.Archetype())
	if reaction.Intent == "IGNORE" {
		return nil
	}
	channel := intentChannel(reaction.Intent)

	prob := v.catalog.ReplyProbability(npc.Archetype(), channel)
	if rng.PercentRoll(amb.ID, npc.ID, "reply") >= int(clamp01(prob)*100) {
		return nil
	}
	ok, err := v.replyAllowed(npc.ID, channel, simTS)
	if err != nil || !ok {
		return err
	}

	reply := model.Event{
		ID:         fmt.Sprintf("evt_reply_%s_%s", amb.ID, npc.ID),
		Tick:       tick,
		SimTS:      simTS,
		Type:       typeAmbientReplied,
		Actors:     []string{npc.ID},
		Publicness: replyPublicness,
		ChainDepth: 1,
		Payload: map[string]any{
			"stimulus_id": amb.ID,
			"topic":       amb.Topic,
			"channel":     channel,
			"draft":       reaction.Draft,
		},
	}
	return v.emitReply(ctx, reply, amb.ID, npc.ID, channel, reaction.Draft, simTS)
}

func (v *Visibility) considerEvent(ctx context.Context, ev model.Event, npc model.NPC, tick uint64, simTS time.Time) error {
	delivered, err := v.store.Delivered(ev.ID, npc.ID)
	if err != nil {
		return err
	}
	if delivered {
		return nil
	}

	author := ""
	if len(ev.Actors) > 0 {
		author = ev.Actors[0]
	}

	p := v.cfg.Baseline + v.cfg.ArchetypeMods[npc.Archetype()] + v.channelMod(ev.Type)
	if author != "" {
		edge, _, err := v.store.Edge(npc.ID, author)
		if err != nil {
			return err
		}
		switch {
		case edge.Trust > 10 && edge.Affection > 10:
			p += v.cfg.FriendBonus
		case len(edge.Grievances) > 0 || edge.Affection < -10:
			// Enemies keep an eye on each other too.
			p += v.cfg.EnemyBonus
		}
	}
	if rng.PercentRoll(ev.ID, npc.ID) >= int(clamp01(p)*100) {
		return nil
	}

	seen := model.Event{
		ID:     fmt.Sprintf("evt_seen_%s_%s", ev.ID, npc.ID),
		Tick:   tick,
		SimTS:  simTS,
		Type:   typeEventSeen,
		Actors: []string{npc.ID},
		Payload: map[string]any{
			"stimulus_id": ev.ID,
			"event_type":  ev.Type,
		},
	}
	if err := v.pipeline.Process(ctx, seen); err != nil {
		return fmt.Errorf("seen event: %w", err)
	}

	// SEEN event first, delivery record second; same retry contract as the
	// ambient path.
	if _, err := v.store.RecordDelivery(ev.ID, npc.ID, tick, simTS); err != nil {
		return err
	}

	channel, ok := v.replyChannel(ev.Type)
	if !ok {
		return nil
	}
	prob := v.catalog.ReplyProbability(npc.Archetype(), channel)
	if rng.PercentRoll(ev.ID, npc.ID, "reply") >= int(clamp01(prob)*100) {
		return nil
	}
	allowed, err := v.replyAllowed(npc.ID, channel, simTS)
	if err != nil || !allowed {
		return err
	}

	targets := []string{}
	if author != "" {
		targets = append(targets, author)
	}
	reply := model.Event{
		ID:         fmt.Sprintf("evt_reply_%s_%s", ev.ID, npc.ID),
		Tick:       tick,
		SimTS:      simTS,
		Type:       typeEventReplied,
		Actors:     []string{npc.ID},
		Targets:    targets,
		Publicness: replyPublicness,
		ChainDepth: ev.ChainDepth + 1,
		Payload: map[string]any{
			"stimulus_id": ev.ID,
			"event_type":  ev.Type,
			"channel":     channel,
		},
	}
	return v.emitReply(ctx, reply, ev.ID, npc.ID, channel, "", simTS)
}

// emitReply logs the reply as truth, records it against the delivery, and
// enqueues exactly one render job for it.
func (v *Visibility) emitReply(ctx context.Context, reply model.Event, stimulusID, npcID, channel, draft string, simTS time.Time) error {
	if err := v.pipeline.Process(ctx, reply); err != nil {
		return fmt.Errorf("reply event: %w", err)
	}
	if err := v.store.RecordReply(stimulusID, npcID, channel, simTS); err != nil {
		return err
	}

	job := model.RenderJob{
		Channel:       channel,
		AuthorID:      npcID,
		SourceEventID: reply.ID,
		PromptContext: map[string]any{
			"stimulus_id": stimulusID,
			"draft":       draft,
			"payload":     reply.Payload,
		},
	}
	return v.dispatcher.EnqueueOnce(ctx, reply.ID, reply.Tick, job)
}

// replyAllowed enforces the per-channel cooldown in sim time.
func (v *Visibility) replyAllowed(npcID, channel string, simTS time.Time) (bool, error) {
	cooldown, ok := v.cfg.Cooldowns[channel]
	if !ok {
		return true, nil
	}
	last, has, err := v.store.LastReplyAt(npcID, channel)
	if err != nil {
		return false, err
	}
	if !has {
		return true, nil
	}
	return simTS.Sub(last) >= cooldown.Std(), nil
}

// channelMod returns the visibility boost of the loudest channel the event
// type renders to.
func (v *Visibility) channelMod(eventType string) float64 {
	et, ok := v.catalog.EventType(eventType)
	if !ok {
		return 0
	}
	mod := 0.0
	for _, ch := range et.Render.DefaultChannels {
		if m := v.cfg.ChannelMods[ch]; m > mod {
			mod = m
		}
	}
	return mod
}

// replyChannel picks where a reply to this event type lands: FEED when the
// type renders there, otherwise CHAT, otherwise nowhere. Replies to replies
// carry on in chat.
func (v *Visibility) replyChannel(eventType string) (string, bool) {
	if eventType == typeEventReplied || eventType == typeAmbientReplied {
		return "CHAT", true
	}
	et, ok := v.catalog.EventType(eventType)
	if !ok {
		return "", false
	}
	hasChat := false
	for _, ch := range et.Render.DefaultChannels {
		if ch == "FEED" {
			return "FEED", true
		}
		if ch == "CHAT" {
			hasChat = true
		}
	}
	if hasChat {
		return "CHAT", true
	}
	return "", false
}

func intentChannel(intent string) string {
	if intent == "POST_CHAT" {
		return "CHAT"
	}
	return "FEED"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
