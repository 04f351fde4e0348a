package sim

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/store"
)

func effectsFixture(t *testing.T) (*Effects, *store.Store, *catalog.Catalog) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "effects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cat, err := catalog.Load("")
	require.NoError(t, err)
	seeded, err := st.SeedWorld(cat)
	require.NoError(t, err)
	require.True(t, seeded)

	return NewEffects(st, cat), st, cat
}

func argumentEvent(id string) model.Event {
	return model.Event{
		ID:         id,
		Tick:       3,
		SimTS:      time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
		Type:       "ARGUMENT_PUBLIC",
		PlaceID:    "place_tori",
		Actors:     []string{"npc_mikko"},
		Targets:    []string{"npc_eero"},
		Publicness: 0.8,
		Severity:   0.7,
	}
}

func TestApply_ArgumentWoundsTheEdge(t *testing.T) {
	fx, st, _ := effectsFixture(t)

	require.NoError(t, fx.Apply(argumentEvent("evt_fight")))

	// Seeded mikko->eero starts at trust -5, affection 0.
	edge, ok, err := st.Edge("npc_mikko", "npc_eero")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -13, edge.Trust)
	assert.Equal(t, -5, edge.Affection)
	assert.Contains(t, edge.Grievances, "public insult")

	// The reverse edge is untouched; deltas are directional.
	reverse, ok, err := st.Edge("npc_eero", "npc_mikko")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -15, reverse.Trust)
}

func TestApply_WritesMemoriesForEveryoneInvolved(t *testing.T) {
	fx, st, _ := effectsFixture(t)

	require.NoError(t, fx.Apply(argumentEvent("evt_fight")))

	for _, npc := range []string{"npc_mikko", "npc_eero"} {
		mems, err := st.MemoriesFor(npc, 10)
		require.NoError(t, err)
		require.Len(t, mems, 1)
		assert.Equal(t, "evt_fight", mems[0].EventID)
		assert.Equal(t, "ARGUMENT_PUBLIC @ place_tori", mems[0].Summary)
		// base 0.6 + 0.4*0.7 + 0.2*0.8
		assert.InDelta(t, 1.0, mems[0].Importance, 1e-9)
	}
}

func TestApply_AxesClampAtBounds(t *testing.T) {
	fx, st, _ := effectsFixture(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, fx.Apply(argumentEvent(fmt.Sprintf("evt_fight_%d", i))))
	}

	edge, _, err := st.Edge("npc_mikko", "npc_eero")
	require.NoError(t, err)
	assert.Equal(t, -100, edge.Trust)
	assert.Equal(t, -100, edge.Affection)
}

func TestApply_ReconciliationSoftensGrievance(t *testing.T) {
	fx, st, _ := effectsFixture(t)

	require.NoError(t, fx.Apply(argumentEvent("evt_fight")))
	edge, _, err := st.Edge("npc_mikko", "npc_eero")
	require.NoError(t, err)
	require.Contains(t, edge.Grievances, "public insult")

	makeup := argumentEvent("evt_makeup")
	makeup.Type = "RECONCILIATION"
	makeup.PlaceID = "place_sauna"
	require.NoError(t, fx.Apply(makeup))

	edge, _, err = st.Edge("npc_mikko", "npc_eero")
	require.NoError(t, err)
	assert.NotContains(t, edge.Grievances, "public insult")
	assert.Equal(t, -7, edge.Trust) // -13 + 6
}

func TestApply_UnknownTypeAndNonNPCActorsAreQuiet(t *testing.T) {
	fx, st, _ := effectsFixture(t)

	ev := argumentEvent("evt_odd")
	ev.Type = "COMET_SIGHTING"
	require.NoError(t, fx.Apply(ev))

	sys := argumentEvent("evt_sys")
	sys.Actors = []string{"system"}
	sys.Targets = []string{"weather_station"}
	require.NoError(t, fx.Apply(sys))

	mems, err := st.MemoriesFor("npc_mikko", 10)
	require.NoError(t, err)
	assert.Empty(t, mems)
}
