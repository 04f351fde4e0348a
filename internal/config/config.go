// Package config loads runtime configuration for the simulation daemon.
// The catalog describes the village; this file describes how to run it.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "30m" or "2h".
type Duration time.Duration

// UnmarshalYAML accepts either a Go duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string or integer")
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Impact score component names, in scoring order.
const (
	WeightNovelty    = "novelty"
	WeightConflict   = "conflict"
	WeightPublicness = "publicness"
	WeightStatus     = "status_of_people"
	WeightCascade    = "cascade_potential"
)

// Config is the full runtime configuration. Zero values are filled from
// Default before validation.
type Config struct {
	DBPath      string `yaml:"db_path"`
	CatalogPath string `yaml:"catalog_path"` // empty = embedded default catalog
	APIPort     int    `yaml:"api_port"`

	Seed         int64    `yaml:"seed"`
	TickInterval Duration `yaml:"tick_interval"` // wall-clock sleep per tick
	SimStep      Duration `yaml:"sim_step"`      // sim-time advance per tick
	RoutineEvery uint64   `yaml:"routine_every"` // routine event cadence K
	AmbientEvery uint64   `yaml:"ambient_every"` // visibility pass cadence

	// Channel thresholds an event's impact must reach for dispatch.
	Thresholds map[string]float64 `yaml:"channel_thresholds"`

	// Impact component weights. Must sum to 1.0.
	ImpactWeights map[string]float64 `yaml:"impact_weights"`

	Visibility VisibilityConfig `yaml:"visibility"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
}

// VisibilityConfig tunes the deterministic delivery model.
type VisibilityConfig struct {
	Baseline      float64            `yaml:"baseline"`
	FriendBonus   float64            `yaml:"friend_bonus"`
	EnemyBonus    float64            `yaml:"enemy_bonus"` // enemies watch each other too
	ChannelMods   map[string]float64 `yaml:"channel_mods"`
	ArchetypeMods map[string]float64 `yaml:"archetype_mods"`

	// Reply chain bounds.
	MaxChainDepth int                 `yaml:"max_chain_depth"`
	Cooldowns     map[string]Duration `yaml:"cooldowns"` // per channel, sim time

	// Minimum publicness for a logged event to act as a social stimulus.
	StimulusMinPublicness float64 `yaml:"stimulus_min_publicness"`
}

// DispatchConfig tunes enqueue retries.
type DispatchConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:       "data/village.db",
		APIPort:      8080,
		Seed:         1234,
		TickInterval: Duration(time.Second),
		SimStep:      Duration(time.Minute),
		RoutineEvery: 10,
		AmbientEvery: 30,
		Thresholds: map[string]float64{
			"FEED": 0.6,
			"CHAT": 0.4,
			"NEWS": 0.8,
		},
		ImpactWeights: map[string]float64{
			WeightNovelty:    0.30,
			WeightConflict:   0.25,
			WeightPublicness: 0.20,
			WeightStatus:     0.15,
			WeightCascade:    0.10,
		},
		Visibility: VisibilityConfig{
			Baseline:    0.3,
			FriendBonus: 0.4,
			EnemyBonus:  0.25,
			ChannelMods: map[string]float64{
				"FEED": 0.1,
				"CHAT": 0.05,
				"NEWS": 0.15,
			},
			ArchetypeMods: map[string]float64{
				"gossip": 0.15,
				"social": 0.15,
				"stoic":  -0.2,
			},
			MaxChainDepth: 3,
			Cooldowns: map[string]Duration{
				"FEED": Duration(2 * time.Hour),
				"CHAT": Duration(30 * time.Minute),
				"NEWS": Duration(24 * time.Hour),
			},
			StimulusMinPublicness: 0.5,
		},
		Dispatch: DispatchConfig{
			MaxAttempts: 5,
			Backoff:     Duration(200 * time.Millisecond),
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants the simulation depends on.
func (c Config) Validate() error {
	if c.RoutineEvery == 0 {
		return fmt.Errorf("routine_every must be positive")
	}
	if c.AmbientEvery == 0 {
		return fmt.Errorf("ambient_every must be positive")
	}
	if c.SimStep <= 0 {
		return fmt.Errorf("sim_step must be positive")
	}

	sum := 0.0
	for name, w := range c.ImpactWeights {
		if w < 0 || w > 1 {
			return fmt.Errorf("impact weight %q out of range: %v", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("impact weights must sum to 1.0, got %v", sum)
	}
	for _, name := range []string{WeightNovelty, WeightConflict, WeightPublicness, WeightStatus, WeightCascade} {
		if _, ok := c.ImpactWeights[name]; !ok {
			return fmt.Errorf("impact weight %q missing", name)
		}
	}

	for ch, th := range c.Thresholds {
		if th < 0 || th > 1 {
			return fmt.Errorf("threshold for %s out of range: %v", ch, th)
		}
	}
	if c.Visibility.MaxChainDepth < 0 {
		return fmt.Errorf("max_chain_depth must be non-negative")
	}
	return nil
}
