package ambient

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpkarvonen/villaged/internal/store"
)

func testCollector(t *testing.T, seed int64) (*Collector, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ambient.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewCollector(s, seed, slog.Default()), s
}

func TestCollectDay_Idempotent(t *testing.T) {
	c, s := testCollector(t, 1234)
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.CollectDay("2025-06-01", noon))
	first, err := s.ActiveAmbient(noon)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	require.NoError(t, c.CollectDay("2025-06-01", noon))
	second, err := s.ActiveAmbient(noon)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCollectDay_DeterministicAcrossCollectors(t *testing.T) {
	noon := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	c1, s1 := testCollector(t, 77)
	c2, s2 := testCollector(t, 77)
	require.NoError(t, c1.CollectDay("2025-06-03", noon))
	require.NoError(t, c2.CollectDay("2025-06-03", noon))

	a1, err := s1.ActiveAmbient(noon)
	require.NoError(t, err)
	a2, err := s2.ActiveAmbient(noon)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestCollectDay_SeedChangesOutcome(t *testing.T) {
	noon := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	c1, s1 := testCollector(t, 1)
	c2, s2 := testCollector(t, 2)
	require.NoError(t, c1.CollectDay("2025-06-03", noon))
	require.NoError(t, c2.CollectDay("2025-06-03", noon))

	a1, err := s1.ActiveAmbient(noon)
	require.NoError(t, err)
	a2, err := s2.ActiveAmbient(noon)
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)
}

func TestCollectDay_Shapes(t *testing.T) {
	c, s := testCollector(t, 1234)
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.CollectDay("2025-06-01", noon))

	stimuli, err := s.ActiveAmbient(noon)
	require.NoError(t, err)

	var sawWeather, sawNews bool
	for _, a := range stimuli {
		assert.True(t, strings.HasPrefix(a.ID, "amb_20250601_"), a.ID)
		assert.Equal(t, "2025-06-01", a.SimDate)
		assert.True(t, a.ExpiresAt.After(noon))
		switch a.Type {
		case "weather":
			sawWeather = true
			assert.True(t, strings.HasPrefix(a.Topic, "weather_"))
		case "news":
			sawNews = true
			assert.True(t, strings.HasPrefix(a.Topic, "news_"))
		}
	}
	assert.True(t, sawWeather)
	assert.True(t, sawNews)

	// Yesterday's stimuli are gone by the next day.
	stale, err := s.ActiveAmbient(noon.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
