// Package ambient generates the village's external stimuli: weather, news,
// and sports results. Sources are synthetic but deterministic; the same
// seed always produces the same June.
package ambient

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/jpkarvonen/villaged/internal/model"
	"github.com/jpkarvonen/villaged/internal/rng"
	"github.com/jpkarvonen/villaged/internal/store"
)

// dayDomain keeps day-keyed streams out of the tick stream space.
const dayDomain = uint64(1) << 40

// Collector builds one day's ambient stimuli. Weather comes from smooth
// noise over the day ordinal so consecutive days feel related; headlines
// come from a day-keyed stream.
type Collector struct {
	store *store.Store
	seed  int64
	noise opensimplex.Noise
	log   *slog.Logger
}

// NewCollector builds a collector for a seed.
func NewCollector(st *store.Store, seed int64, log *slog.Logger) *Collector {
	return &Collector{
		store: st,
		seed:  seed,
		noise: opensimplex.New(seed),
		log:   log,
	}
}

// CollectDay inserts the stimuli for one sim date. Ids are stable, so
// collecting the same date twice changes nothing.
func (c *Collector) CollectDay(simDate string, simTS time.Time) error {
	midnight, err := time.Parse("2006-01-02", simDate)
	if err != nil {
		return fmt.Errorf("parse sim date %s: %w", simDate, err)
	}
	day := midnight.Unix() / 86400

	stimuli := []model.AmbientEvent{c.weather(simDate, midnight, day)}
	stimuli = append(stimuli, c.headlines(simDate, midnight, day)...)

	created := 0
	for _, a := range stimuli {
		inserted, err := c.store.InsertAmbient(a)
		if err != nil {
			return err
		}
		if inserted {
			created++
		}
	}
	c.log.Info("ambient collected", "date", simDate, "stimuli", created)
	return nil
}

func (c *Collector) weather(simDate string, midnight time.Time, day int64) model.AmbientEvent {
	// Two independent noise tracks: one for temperature, one for fronts.
	temp := c.noise.Eval2(float64(day)*0.13, 0)
	front := c.noise.Eval2(float64(day)*0.13, 977.0)

	var condition string
	switch {
	case front > 0.55:
		condition = "storm"
	case front > 0.15:
		condition = "rain"
	case temp < -0.6:
		condition = "snow"
	case front > -0.2:
		condition = "cloudy"
	default:
		condition = "sunny"
	}

	intensity := (front + 1) / 2
	return model.AmbientEvent{
		ID:        stableID(simDate, "weather", condition),
		SimDate:   simDate,
		Type:      "weather",
		Topic:     "weather_" + condition,
		Intensity: intensity,
		Sentiment: temp,
		// Forecasts are certain in a synthetic climate.
		Confidence: 1.0,
		ExpiresAt:  midnight.Add(24 * time.Hour),
		Payload: map[string]any{
			"condition":   condition,
			"temperature": fmt.Sprintf("%.1f", 12+temp*10),
		},
	}
}

func (c *Collector) headlines(simDate string, midnight time.Time, day int64) []model.AmbientEvent {
	stream := rng.NewStream(c.seed, dayDomain+uint64(day))

	newsTopics := []string{"news_local", "news_national", "news_economy"}
	topic := rng.Pick(stream, newsTopics)

	out := []model.AmbientEvent{{
		ID:         stableID(simDate, "news", topic),
		SimDate:    simDate,
		Type:       "news",
		Topic:      topic,
		Intensity:  0.3 + 0.4*stream.Float64(),
		Sentiment:  stream.Float64()*2 - 1,
		Confidence: 0.8,
		ExpiresAt:  midnight.Add(24 * time.Hour),
		Payload:    map[string]any{"section": strings.TrimPrefix(topic, "news_")},
	}}

	// Not every day has a game.
	if stream.Float64() < 0.4 {
		out = append(out, model.AmbientEvent{
			ID:         stableID(simDate, "sports", "sports_hockey"),
			SimDate:    simDate,
			Type:       "sports",
			Topic:      "sports_hockey",
			Intensity:  0.4 + 0.3*stream.Float64(),
			Sentiment:  stream.Float64()*2 - 1,
			Confidence: 1.0,
			ExpiresAt:  midnight.Add(24 * time.Hour),
			Payload:    map[string]any{"league": "local"},
		})
	}
	return out
}

// stableID derives a collision-resistant ambient id from what the stimulus
// is, not when it was generated.
func stableID(simDate, kind, topic string) string {
	sum := sha256.Sum256([]byte(simDate + ":" + kind + ":" + topic))
	return fmt.Sprintf("amb_%s_%s_%s",
		strings.ReplaceAll(simDate, "-", ""), kind, hex.EncodeToString(sum[:4]))
}
