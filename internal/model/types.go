// Package model holds the shared domain types: truth events, NPCs,
// relationship edges, memories, goals, and render jobs.
package model

import "time"

// Event is a single immutable truth record. Events are only ever created by
// the generator or the visibility engine, and only ever appended.
type Event struct {
	ID         string         `json:"id"`
	Tick       uint64         `json:"tick"`
	SimTS      time.Time      `json:"sim_ts"`
	Type       string         `json:"type"`
	PlaceID    string         `json:"place_id,omitempty"`
	Actors     []string       `json:"actors"`
	Targets    []string       `json:"targets"`
	Publicness float64        `json:"publicness"`
	Severity   float64        `json:"severity"`
	ChainDepth int            `json:"chain_depth"`
	Payload    map[string]any `json:"payload"`
}

// NPC is one villager. The profile is fixed at seed time; the simulation
// core reads it but never writes it back.
type NPC struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Role       string             `json:"role"`
	Archetypes []string           `json:"archetypes"`
	Values     map[string]float64 `json:"values"`
	Voice      map[string]any     `json:"voice"`
	Bio        string             `json:"bio,omitempty"`
}

// Archetype returns the NPC's primary archetype, lowercased, or "default".
func (n NPC) Archetype() string {
	if len(n.Archetypes) == 0 {
		return "default"
	}
	return n.Archetypes[0]
}

// Place is a location NPCs visit in routine events.
type Place struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Type string `json:"type" db:"type"`
}

// RelationshipEdge is the directed social state between two NPCs. All five
// axes are clamped integers; only the effect engine mutates them.
type RelationshipEdge struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Mode       string   `json:"mode,omitempty"`
	Trust      int      `json:"trust"`
	Respect    int      `json:"respect"`
	Affection  int      `json:"affection"`
	Jealousy   int      `json:"jealousy"`
	Fear       int      `json:"fear"`
	Grievances []string `json:"grievances"`
	Debts      []string `json:"debts"`
}

// Memory is one NPC's record of an event it was involved in.
type Memory struct {
	NPCID      string  `json:"npc_id" db:"npc_id"`
	EventID    string  `json:"event_id" db:"event_id"`
	Importance float64 `json:"importance" db:"importance"`
	Summary    string  `json:"summary" db:"summary"`
}

// Goal statuses. Transitions are monotonic except paused<->active.
const (
	GoalActive = "active"
	GoalDone   = "done"
	GoalFailed = "failed"
	GoalPaused = "paused"
)

// Goal is a short- or long-horizon ambition held by an NPC.
type Goal struct {
	ID       int64   `json:"id" db:"id"`
	NPCID    string  `json:"npc_id" db:"npc_id"`
	Horizon  string  `json:"horizon" db:"horizon"` // "short" or "long"
	Priority float64 `json:"priority" db:"priority"`
	Status   string  `json:"status" db:"status"`
	Text     string  `json:"text" db:"text"`
}

// RenderJob asks the downstream content stage to produce channel text for
// one event. At most one job ever exists per (SourceEventID, Channel).
type RenderJob struct {
	Channel       string         `json:"channel"`
	AuthorID      string         `json:"author_id"`
	SourceEventID string         `json:"source_event_id"`
	PromptContext map[string]any `json:"prompt_context"`
}

// AmbientEvent is an external stimulus (weather, news) injected into the
// village for NPCs to notice and react to.
type AmbientEvent struct {
	ID         string         `json:"id"`
	SimDate    string         `json:"sim_date"` // YYYY-MM-DD
	Type       string         `json:"type"`
	Topic      string         `json:"topic"`
	Intensity  float64        `json:"intensity"`
	Sentiment  float64        `json:"sentiment"`
	Confidence float64        `json:"confidence"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Payload    map[string]any `json:"payload"`
}
