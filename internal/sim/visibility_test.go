package sim

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/config"
	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/queue"
	"github.com/jpkarvonen/villaged/internal/store"
)

// visibilityCatalog is a three-villager world where everyone notices
// everything and always wants to reply. Baseline and reply probabilities of
// 1.0 take the hash gates out of the picture so the structural rules are
// what gets tested.
const visibilityCatalog = `{
  "baseline_sim_ts": "2025-06-01T06:00:00Z",
  "places": [{"id": "place_square", "name": "Square", "type": "square"}],
  "npc_profiles": [
    {"id": "npc_alice", "name": "Alice", "role": "villager", "archetypes": ["gossip"], "values": {}, "voice": {}},
    {"id": "npc_bob", "name": "Bob", "role": "villager", "archetypes": ["social"], "values": {}, "voice": {}},
    {"id": "npc_carol", "name": "Carol", "role": "villager", "archetypes": ["social"], "values": {}, "voice": {}}
  ],
  "event_types": {
    "items": [
      {"type": "POSTER", "category": "social", "effects": {"memory_importance_base": 0.2}, "render": {"default_channels": ["FEED"]}},
      {"type": "AMBIENT_SEEN", "category": "perception", "effects": {"memory_importance_base": 0.1}, "render": {"default_channels": []}},
      {"type": "AMBIENT_REPLIED", "category": "perception", "effects": {"memory_importance_base": 0.2}, "render": {"default_channels": []}},
      {"type": "EVENT_SEEN", "category": "perception", "effects": {"memory_importance_base": 0.05}, "render": {"default_channels": []}},
      {"type": "EVENT_REPLIED", "category": "perception", "effects": {"memory_importance_base": 0.2}, "render": {"default_channels": []}}
    ]
  },
  "reply_tables": {"default": {"FEED": 1.0, "CHAT": 1.0}},
  "appraisal": {
    "weather_rain": {"default": {"intent": "POST_CHAT", "draft": "Wet again."}}
  }
}`

type visFixture struct {
	vis   *Visibility
	store *store.Store
	queue *queue.Memory
}

func visibilityFixture(t *testing.T) *visFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "vis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cat, err := catalog.Parse([]byte(visibilityCatalog))
	require.NoError(t, err)
	_, err = st.SeedWorld(cat)
	require.NoError(t, err)

	roster, err := st.NPCs()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Visibility.Baseline = 1.0
	cfg.Visibility.ArchetypeMods = nil
	cfg.Visibility.ChannelMods = nil
	cfg.Visibility.FriendBonus = 0
	cfg.Visibility.EnemyBonus = 0

	q := queue.NewMemory()
	log := slog.Default()
	scorer := NewScorer(st, cat, cfg.ImpactWeights)
	fx := NewEffects(st, cat)
	d := NewDispatcher(st, cat, q, cfg.Thresholds, cfg.Dispatch, log)
	p := NewPipeline(st, cat, fx, scorer, d, log)
	vis := NewVisibility(st, cat, cfg.Visibility, p, d, roster, log)

	return &visFixture{vis: vis, store: st, queue: q}
}

func (f *visFixture) eventsByType(t *testing.T) map[string][]model.Event {
	t.Helper()
	evs, err := f.store.RecentEvents(1000)
	require.NoError(t, err)
	out := map[string][]model.Event{}
	for _, ev := range evs {
		out[ev.Type] = append(out[ev.Type], ev)
	}
	return out
}

func rainStimulus() model.AmbientEvent {
	return model.AmbientEvent{
		ID:        "amb_20250601_weather_test",
		SimDate:   "2025-06-01",
		Type:      "weather",
		Topic:     "weather_rain",
		Intensity: 0.5,
		ExpiresAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
}

func posterEvent(id string, tick uint64, author string) model.Event {
	return model.Event{
		ID:         id,
		Tick:       tick,
		SimTS:      time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Minute),
		Type:       "POSTER",
		PlaceID:    "place_square",
		Actors:     []string{author},
		Publicness: 0.9,
	}
}

func TestPass_AmbientDeliveryAndReply(t *testing.T) {
	f := visibilityFixture(t)
	ctx := context.Background()
	simTS := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	_, err := f.store.InsertAmbient(rainStimulus())
	require.NoError(t, err)

	require.NoError(t, f.vis.Pass(ctx, 30, 0, simTS))

	byType := f.eventsByType(t)
	assert.Len(t, byType["AMBIENT_SEEN"], 3)
	assert.Len(t, byType["AMBIENT_REPLIED"], 3)

	for _, seen := range byType["AMBIENT_SEEN"] {
		assert.Equal(t, 0.0, seen.Publicness)
	}
	for _, reply := range byType["AMBIENT_REPLIED"] {
		assert.Equal(t, 1, reply.ChainDepth)
		assert.Equal(t, "CHAT", reply.Payload["channel"])
		assert.Equal(t, "Wet again.", reply.Payload["draft"])
	}

	// One render job per reply, all chat.
	require.Equal(t, 3, f.queue.Len())
	for _, job := range drainJobs(t, f.queue) {
		assert.Equal(t, "CHAT", job.Channel)
	}

	// The same sweep again is a complete no-op.
	before, err := f.store.CountEvents()
	require.NoError(t, err)
	require.NoError(t, f.vis.Pass(ctx, 30, 0, simTS))
	after, err := f.store.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, f.queue.Len())
}

func TestPass_SocialStimulusRepliesTargetTheAuthor(t *testing.T) {
	f := visibilityFixture(t)
	ctx := context.Background()
	simTS := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	_, err := f.store.InsertEvent(posterEvent("evt_post", 5, "npc_alice"))
	require.NoError(t, err)

	require.NoError(t, f.vis.Pass(ctx, 30, 0, simTS))

	// Alice never sees or replies to her own post.
	delivered, err := f.store.Delivered("evt_post", "npc_alice")
	require.NoError(t, err)
	assert.False(t, delivered)

	byType := f.eventsByType(t)
	require.Len(t, byType["EVENT_SEEN"], 2)
	require.Len(t, byType["EVENT_REPLIED"], 2)

	for _, reply := range byType["EVENT_REPLIED"] {
		assert.Equal(t, 1, reply.ChainDepth)
		assert.Equal(t, []string{"npc_alice"}, reply.Targets)
		assert.Equal(t, replyPublicness, reply.Publicness)
	}

	for _, job := range drainJobs(t, f.queue) {
		assert.Equal(t, "FEED", job.Channel)
	}
}

func TestPass_InterruptedSweepRetriesCleanly(t *testing.T) {
	f := visibilityFixture(t)
	ctx := context.Background()
	simTS := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	_, err := f.store.InsertEvent(posterEvent("evt_post", 5, "npc_alice"))
	require.NoError(t, err)

	// As if a sweep logged Bob's SEEN event and died before the delivery
	// record committed. The pair must still be considered, not skipped.
	_, err = f.store.InsertEvent(model.Event{
		ID:     "evt_seen_evt_post_npc_bob",
		Tick:   30,
		SimTS:  simTS,
		Type:   "EVENT_SEEN",
		Actors: []string{"npc_bob"},
		Payload: map[string]any{
			"stimulus_id": "evt_post",
			"event_type":  "POSTER",
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.vis.Pass(ctx, 30, 0, simTS))

	delivered, err := f.store.Delivered("evt_post", "npc_bob")
	require.NoError(t, err)
	assert.True(t, delivered)

	// The orphaned SEEN event is not duplicated, and Bob's reply flows.
	byType := f.eventsByType(t)
	assert.Len(t, byType["EVENT_SEEN"], 2)
	assert.Len(t, byType["EVENT_REPLIED"], 2)
}

func TestPass_RelationshipBonusesGateAttention(t *testing.T) {
	f := visibilityFixture(t)
	f.vis.cfg.Baseline = 0
	f.vis.cfg.FriendBonus = 1.0
	f.vis.cfg.EnemyBonus = 1.0

	ctx := context.Background()
	simTS := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	// Bob is a real friend; Carol trusts Alice but feels nothing, which is
	// not enough for the friend bonus.
	err := f.store.WithTx(func(tx *sqlx.Tx) error {
		if err := f.store.UpsertEdgeTx(tx, model.RelationshipEdge{
			From: "npc_bob", To: "npc_alice", Trust: 20, Affection: 20,
			Grievances: []string{}, Debts: []string{},
		}); err != nil {
			return err
		}
		return f.store.UpsertEdgeTx(tx, model.RelationshipEdge{
			From: "npc_carol", To: "npc_alice", Trust: 50,
			Grievances: []string{}, Debts: []string{},
		})
	})
	require.NoError(t, err)

	_, err = f.store.InsertEvent(posterEvent("evt_p1", 5, "npc_alice"))
	require.NoError(t, err)
	require.NoError(t, f.vis.Pass(ctx, 30, 0, simTS))

	delivered, err := f.store.Delivered("evt_p1", "npc_bob")
	require.NoError(t, err)
	assert.True(t, delivered)
	delivered, err = f.store.Delivered("evt_p1", "npc_carol")
	require.NoError(t, err)
	assert.False(t, delivered)

	// A grievance makes Carol watch Alice like a hawk.
	err = f.store.WithTx(func(tx *sqlx.Tx) error {
		return f.store.UpsertEdgeTx(tx, model.RelationshipEdge{
			From: "npc_carol", To: "npc_alice", Trust: 50,
			Grievances: []string{"the borrowed ladder"}, Debts: []string{},
		})
	})
	require.NoError(t, err)

	_, err = f.store.InsertEvent(posterEvent("evt_p2", 35, "npc_alice"))
	require.NoError(t, err)
	require.NoError(t, f.vis.Pass(ctx, 60, 31, simTS.Add(time.Hour)))

	delivered, err = f.store.Delivered("evt_p2", "npc_carol")
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestPass_DepthCapStopsChains(t *testing.T) {
	f := visibilityFixture(t)
	ctx := context.Background()
	simTS := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	deep := posterEvent("evt_deep", 5, "npc_alice")
	deep.ChainDepth = 3
	_, err := f.store.InsertEvent(deep)
	require.NoError(t, err)

	require.NoError(t, f.vis.Pass(ctx, 30, 0, simTS))

	for _, npc := range []string{"npc_bob", "npc_carol"} {
		delivered, err := f.store.Delivered("evt_deep", npc)
		require.NoError(t, err)
		assert.False(t, delivered)
	}
}

func TestPass_ChannelCooldownThrottlesReplies(t *testing.T) {
	f := visibilityFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

	_, err := f.store.InsertEvent(posterEvent("evt_p1", 5, "npc_alice"))
	require.NoError(t, err)
	require.NoError(t, f.vis.Pass(ctx, 30, 0, base.Add(30*time.Minute)))

	byType := f.eventsByType(t)
	require.Len(t, byType["EVENT_REPLIED"], 2)

	// Thirty minutes later the two-hour feed cooldown still holds: a new
	// post is seen but nobody speaks up.
	_, err = f.store.InsertEvent(posterEvent("evt_p2", 35, "npc_alice"))
	require.NoError(t, err)
	require.NoError(t, f.vis.Pass(ctx, 60, 31, base.Add(time.Hour)))

	byType = f.eventsByType(t)
	assert.Len(t, byType["EVENT_REPLIED"], 2)
	assert.Len(t, byType["EVENT_SEEN"], 4)

	// Once the cooldown has elapsed, replies flow again.
	_, err = f.store.InsertEvent(posterEvent("evt_p3", 175, "npc_alice"))
	require.NoError(t, err)
	require.NoError(t, f.vis.Pass(ctx, 180, 150, base.Add(3*time.Hour)))

	byType = f.eventsByType(t)
	assert.Len(t, byType["EVENT_REPLIED"], 4)
}

func TestPass_PartialProbabilitiesStayRepeatable(t *testing.T) {
	// With a sub-certain baseline the hash gates actually reject some
	// (stimulus, npc) pairs. Two identical worlds must still make exactly
	// the same delivery decisions.
	run := func(t *testing.T) int64 {
		f := visibilityFixture(t)
		f.vis.cfg.Baseline = 0.4

		ctx := context.Background()
		simTS := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)
		_, err := f.store.InsertAmbient(rainStimulus())
		require.NoError(t, err)
		_, err = f.store.InsertEvent(posterEvent("evt_bond", 5, "npc_alice"))
		require.NoError(t, err)

		require.NoError(t, f.vis.Pass(ctx, 30, 0, simTS))
		n, err := f.store.CountEvents()
		require.NoError(t, err)

		// Sweeping again changes nothing even when gates rejected pairs:
		// a rejected pair is rejected forever.
		require.NoError(t, f.vis.Pass(ctx, 30, 0, simTS))
		m, err := f.store.CountEvents()
		require.NoError(t, err)
		assert.Equal(t, n, m)
		return n
	}

	assert.Equal(t, run(t), run(t))
}
