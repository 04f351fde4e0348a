package sim

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpkarvonen/villaged/internal/catalog"
	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/rng"
)

func generatorFixture(t *testing.T) (*Generator, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Load("")
	require.NoError(t, err)

	// Id order, same as the store returns the roster.
	roster := make([]model.NPC, 0, len(cat.NPCs))
	for _, n := range cat.NPCs {
		roster = append(roster, n.NPC)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })

	return NewGenerator(cat, roster, cat.Places), cat
}

func TestScriptedEvents(t *testing.T) {
	g, cat := generatorFixture(t)

	evs, err := g.ScriptedEvents()
	require.NoError(t, err)
	require.Len(t, evs, len(cat.Day1Events))

	for i, ev := range evs {
		assert.Equal(t, uint64(0), ev.Tick)
		assert.Equal(t, cat.Day1Events[i].ID, ev.ID)
		assert.False(t, ev.SimTS.IsZero())
	}
}

func TestRoutine_ActorRotatesThroughRoster(t *testing.T) {
	g, _ := generatorFixture(t)
	ts := time.Date(2025, 6, 1, 6, 10, 0, 0, time.UTC)

	// Tick 10 with cadence 10 lands on roster slot 1.
	ev, ok := g.Routine(10, 10, ts, rng.NewStream(1234, 10))
	require.True(t, ok)
	require.Len(t, ev.Actors, 1)
	assert.Equal(t, "npc_eero", ev.Actors[0])
	assert.Equal(t, "evt_routine_10_npc_eero", ev.ID)

	ev, ok = g.Routine(20, 10, ts, rng.NewStream(1234, 20))
	require.True(t, ok)
	assert.Equal(t, "npc_liisa", ev.Actors[0])

	// The rotation wraps.
	ev, ok = g.Routine(60, 10, ts, rng.NewStream(1234, 60))
	require.True(t, ok)
	assert.Equal(t, "npc_eero", ev.Actors[0])
}

func TestRoutine_DeterministicPerSeedAndTick(t *testing.T) {
	g, _ := generatorFixture(t)
	ts := time.Date(2025, 6, 1, 6, 10, 0, 0, time.UTC)

	a, ok := g.Routine(10, 10, ts, rng.NewStream(1234, 10))
	require.True(t, ok)
	b, ok := g.Routine(10, 10, ts, rng.NewStream(1234, 10))
	require.True(t, ok)
	assert.Equal(t, a, b)

	c, ok := g.Routine(10, 10, ts, rng.NewStream(999, 10))
	require.True(t, ok)
	assert.Equal(t, a.Actors, c.Actors) // rotation ignores the seed
}

func TestRoutine_ShapeMatchesTemplate(t *testing.T) {
	g, cat := generatorFixture(t)
	ts := time.Date(2025, 6, 1, 6, 10, 0, 0, time.UTC)

	placeTypes := map[string]string{}
	for _, p := range cat.Places {
		placeTypes[p.ID] = p.Type
	}
	templates := map[string]catalog.RoutineTemplate{}
	for _, tpl := range cat.Routine {
		templates[tpl.Type] = tpl
	}

	for tick := uint64(10); tick <= 500; tick += 10 {
		ev, ok := g.Routine(tick, 10, ts, rng.NewStream(1234, tick))
		require.True(t, ok)

		tpl, known := templates[ev.Type]
		require.True(t, known, "unexpected routine type %s", ev.Type)
		assert.Equal(t, tpl.Publicness, ev.Publicness)
		assert.Equal(t, tpl.Severity, ev.Severity)
		assert.Contains(t, tpl.PlaceTypes, placeTypes[ev.PlaceID])
		assert.Equal(t, "routine", ev.Payload["source"])

		if len(ev.Targets) > 0 {
			assert.NotEqual(t, ev.Actors[0], ev.Targets[0], "tick %d", tick)
		}

		et, known := cat.EventType(ev.Type)
		require.True(t, known)
		require.NoError(t, et.ValidatePayload(ev.Payload), fmt.Sprintf("tick %d", tick))
	}
}
