package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.6, cfg.Thresholds["FEED"])
	assert.Equal(t, 0.4, cfg.Thresholds["CHAT"])
	assert.Equal(t, 0.8, cfg.Thresholds["NEWS"])
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	cfg := Default()
	cfg.ImpactWeights[WeightNovelty] = 0.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidate_MissingWeight(t *testing.T) {
	cfg := Default()
	delete(cfg.ImpactWeights, WeightCascade)
	cfg.ImpactWeights[WeightNovelty] = 0.40
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestValidate_ThresholdRange(t *testing.T) {
	cfg := Default()
	cfg.Thresholds["FEED"] = 1.5
	require.Error(t, cfg.Validate())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("seed: 99\nroutine_every: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, uint64(5), cfg.RoutineEvery)
	// Untouched fields keep defaults.
	assert.Equal(t, 0.8, cfg.Thresholds["NEWS"])
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Seed, cfg.Seed)
}
