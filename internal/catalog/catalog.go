// Package catalog loads and validates the static village definition: event
// types and their declared effects, payload option pools, places, NPC
// profiles, seed relationships, the scripted Day-1 scenario, and the
// archetype reply tables. The catalog is read-only after startup; any
// structural problem is fatal before the scheduler starts running.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jpkarvonen/villaged/internal/model"
)

//go:embed data/catalog.json
var defaultCatalog []byte

// RelationshipDelta is one declarative relationship mutation from an event
// type's effect rules.
type RelationshipDelta struct {
	Trust           int    `json:"trust"`
	Respect         int    `json:"respect"`
	Affection       int    `json:"affection"`
	Jealousy        int    `json:"jealousy"`
	Fear            int    `json:"fear"`
	Grievance       string `json:"grievance,omitempty"`
	GrievanceSoften bool   `json:"grievance_soften,omitempty"`
}

// Effects is the declarative consequence block of an event type. Effects are
// data, never code, which is what keeps replay safe.
type Effects struct {
	MemoryImportanceBase float64             `json:"memory_importance_base"`
	RelationshipDeltas   []RelationshipDelta `json:"relationship_deltas"`
	ReputationDelta      float64             `json:"reputation_delta"`
}

// Render declares which channels an event type may be rendered to.
type Render struct {
	DefaultChannels []string `json:"default_channels"`
}

// EventType is one catalog event type definition.
type EventType struct {
	Type          string          `json:"type"`
	Category      string          `json:"category"`
	Description   string          `json:"description,omitempty"`
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`
	Effects       Effects         `json:"effects"`
	Render        Render          `json:"render"`

	schema *jsonschema.Schema
}

// ValidatePayload checks a payload against the type's declared schema.
// Types without a schema accept anything.
func (et *EventType) ValidatePayload(payload map[string]any) error {
	if et.schema == nil {
		return nil
	}
	// The validator wants plain JSON values.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("round-trip payload: %w", err)
	}
	if err := et.schema.Validate(v); err != nil {
		return fmt.Errorf("payload for %s: %w", et.Type, err)
	}
	return nil
}

// RoutineTemplate is one candidate shape for recurring routine events.
type RoutineTemplate struct {
	Type         string   `json:"type"`
	PlaceTypes   []string `json:"place_types"`
	Publicness   float64  `json:"publicness"`
	Severity     float64  `json:"severity"`
	TargetChance float64  `json:"target_chance"`
}

// SeedGoal is a goal attached to an NPC profile at seed time.
type SeedGoal struct {
	Horizon  string  `json:"horizon"`
	Priority float64 `json:"priority"`
	Text     string  `json:"text"`
}

// NPCProfile extends the runtime NPC with seed-only data.
type NPCProfile struct {
	model.NPC
	GoalsSeed []SeedGoal `json:"goals_seed"`
}

// SeedEvent is one scripted Day-1 event.
type SeedEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	PlaceID    string         `json:"place_id,omitempty"`
	Actors     []string       `json:"actors"`
	Targets    []string       `json:"targets"`
	Publicness float64        `json:"publicness"`
	Severity   float64        `json:"severity"`
	TSLocal    string         `json:"ts_local"`
	Payload    map[string]any `json:"payload"`
}

// Reaction is one appraisal outcome: what an archetype is inclined to do
// about a stimulus topic.
type Reaction struct {
	Intent string `json:"intent"` // POST_FEED | POST_CHAT | IGNORE
	Draft  string `json:"draft,omitempty"`
}

// Catalog is the validated, read-only village definition.
type Catalog struct {
	BaselineSimTS time.Time
	ReporterNPC   string
	Places        []model.Place
	NPCs          []NPCProfile
	Edges         []model.RelationshipEdge
	EventTypes    map[string]*EventType
	Routine       []RoutineTemplate
	PayloadPools  map[string]map[string][]string
	Day1Events    []SeedEvent
	ReplyTables   map[string]map[string]float64
	Appraisal     map[string]map[string]Reaction
}

type rawCatalog struct {
	BaselineSimTS string           `json:"baseline_sim_ts"`
	ReporterNPC   string           `json:"reporter_npc"`
	Places        []model.Place    `json:"places"`
	NPCProfiles   []NPCProfile     `json:"npc_profiles"`
	Relationships struct {
		Edges []model.RelationshipEdge `json:"edges"`
	} `json:"relationship_init"`
	EventTypes struct {
		Items []*EventType `json:"items"`
	} `json:"event_types"`
	Routine      []RoutineTemplate              `json:"routine_templates"`
	PayloadPools map[string]map[string][]string `json:"payload_pools"`
	Day1         struct {
		Events []SeedEvent `json:"events"`
	} `json:"day1_seed_scenario"`
	ReplyTables map[string]map[string]float64  `json:"reply_tables"`
	Appraisal   map[string]map[string]Reaction `json:"appraisal"`
}

// Load reads and validates a catalog file. An empty path loads the embedded
// default village.
func Load(path string) (*Catalog, error) {
	raw := defaultCatalog
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
	}
	return Parse(raw)
}

// Parse decodes and validates catalog JSON.
func Parse(raw []byte) (*Catalog, error) {
	var rc rawCatalog
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&rc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	cat := &Catalog{
		ReporterNPC:  rc.ReporterNPC,
		Places:       rc.Places,
		NPCs:         rc.NPCProfiles,
		Edges:        rc.Relationships.Edges,
		EventTypes:   make(map[string]*EventType, len(rc.EventTypes.Items)),
		Routine:      rc.Routine,
		PayloadPools: rc.PayloadPools,
		Day1Events:   rc.Day1.Events,
		ReplyTables:  rc.ReplyTables,
		Appraisal:    rc.Appraisal,
	}

	if rc.BaselineSimTS != "" {
		ts, err := time.Parse(time.RFC3339, rc.BaselineSimTS)
		if err != nil {
			return nil, fmt.Errorf("baseline_sim_ts: %w", err)
		}
		cat.BaselineSimTS = ts.UTC()
	}

	for _, et := range rc.EventTypes.Items {
		if et.Type == "" {
			return nil, fmt.Errorf("event type with empty type name")
		}
		if _, dup := cat.EventTypes[et.Type]; dup {
			return nil, fmt.Errorf("duplicate event type %s", et.Type)
		}
		if len(et.PayloadSchema) > 0 {
			sch, err := compileSchema(et.Type, et.PayloadSchema)
			if err != nil {
				return nil, fmt.Errorf("event type %s: %w", et.Type, err)
			}
			et.schema = sch
		}
		cat.EventTypes[et.Type] = et
	}

	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "catalog://" + name + "/payload.json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("payload schema: %w", err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	return sch, nil
}

// EventType returns the definition for a type name, if declared.
func (c *Catalog) EventType(name string) (*EventType, bool) {
	et, ok := c.EventTypes[name]
	return et, ok
}

// NPC returns the profile for an NPC id, if declared.
func (c *Catalog) NPC(id string) (NPCProfile, bool) {
	for _, n := range c.NPCs {
		if n.ID == id {
			return n, true
		}
	}
	return NPCProfile{}, false
}

// ReplyProbability returns the archetype's inclination to reply on a channel.
func (c *Catalog) ReplyProbability(archetype, channel string) float64 {
	table, ok := c.ReplyTables[archetype]
	if !ok {
		table = c.ReplyTables["default"]
	}
	return table[channel]
}

// Appraise resolves the (topic, archetype) reaction, falling back first to
// the topic's default row, then to IGNORE.
func (c *Catalog) Appraise(topic, archetype string) Reaction {
	row, ok := c.Appraisal[topic]
	if !ok {
		return Reaction{Intent: "IGNORE"}
	}
	if r, ok := row[archetype]; ok {
		return r
	}
	if r, ok := row["default"]; ok {
		return r
	}
	return Reaction{Intent: "IGNORE"}
}
