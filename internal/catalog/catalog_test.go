package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedDefault(t *testing.T) {
	cat, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cat.NPCs)
	assert.NotEmpty(t, cat.Places)
	assert.NotEmpty(t, cat.Day1Events)
	assert.False(t, cat.BaselineSimTS.IsZero())

	// The reporter must be a real villager.
	_, ok := cat.NPC(cat.ReporterNPC)
	assert.True(t, ok)

	// Every routine template must point at a declared event type.
	for _, tpl := range cat.Routine {
		_, ok := cat.EventType(tpl.Type)
		assert.True(t, ok, "routine template %s", tpl.Type)
	}
}

func TestParse_RejectsUnknownReferences(t *testing.T) {
	cat, err := Load("")
	require.NoError(t, err)

	raw := mustRaw(t)
	raw["reporter_npc"] = "npc_nobody"
	_, err = Parse(mustJSON(t, raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reporter_npc")

	_ = cat
}

func TestParse_RejectsDay1UnknownActor(t *testing.T) {
	raw := mustRaw(t)
	day1 := raw["day1_seed_scenario"].(map[string]any)
	events := day1["events"].([]any)
	ev := events[0].(map[string]any)
	ev["actors"] = []any{"npc_ghost"}

	_, err := Parse(mustJSON(t, raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown actor")
}

func TestParse_RequiresPerceptionEventTypes(t *testing.T) {
	raw := mustRaw(t)
	types := raw["event_types"].(map[string]any)
	items := types["items"].([]any)
	kept := make([]any, 0, len(items))
	for _, it := range items {
		if it.(map[string]any)["type"] != "EVENT_SEEN" {
			kept = append(kept, it)
		}
	}
	types["items"] = kept

	// The engine emits EVENT_SEEN on its own; a catalog without it must
	// die here, not mid-tick.
	_, err := Parse(mustJSON(t, raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EVENT_SEEN")
}

func TestParse_RejectsBadPayloadSchema(t *testing.T) {
	raw := mustRaw(t)
	types := raw["event_types"].(map[string]any)["items"].([]any)
	et := types[1].(map[string]any)
	et["payload_schema"] = map[string]any{"type": 42}

	_, err := Parse(mustJSON(t, raw))
	require.Error(t, err)
}

func TestValidatePayload(t *testing.T) {
	cat, err := Load("")
	require.NoError(t, err)

	et, ok := cat.EventType("SMALL_TALK")
	require.True(t, ok)

	require.NoError(t, et.ValidatePayload(map[string]any{"topic": "the weather", "tick": 10}))
	require.Error(t, et.ValidatePayload(map[string]any{"topic": 42}))

	// Types without a schema accept anything.
	open, ok := cat.EventType("ARGUMENT_PUBLIC")
	require.True(t, ok)
	require.NoError(t, open.ValidatePayload(map[string]any{"whatever": true}))
}

func TestReplyProbability_FallsBackToDefault(t *testing.T) {
	cat, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.8, cat.ReplyProbability("gossip", "CHAT"))
	assert.Equal(t, cat.ReplyTables["default"]["FEED"], cat.ReplyProbability("unmapped", "FEED"))
}

func TestAppraise_Fallbacks(t *testing.T) {
	cat, err := Load("")
	require.NoError(t, err)

	r := cat.Appraise("weather_snow", "gossip")
	assert.Equal(t, "POST_CHAT", r.Intent)
	assert.NotEmpty(t, r.Draft)

	// Unmapped archetype falls to the topic default row.
	r = cat.Appraise("weather_snow", "romcom")
	assert.Equal(t, cat.Appraisal["weather_snow"]["default"], r)

	// Unknown topic is a quiet ignore.
	r = cat.Appraise("weather_meteor", "gossip")
	assert.Equal(t, "IGNORE", r.Intent)
}

func mustRaw(t *testing.T) map[string]any {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal(defaultCatalog, &raw))
	return raw
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
