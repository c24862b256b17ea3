package trackengine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/vesselwatch/vessel-stream/pkg/metrics"
)

// pressureThreshold is the occupancy fraction at which emergency eviction
// kicks in.
const pressureThreshold = 0.9

// Governor keeps memory bounded: on every tick it ages out stale cache
// records, tears down their markers and rebuilds the index, and when any
// bounded structure nears its cap it runs a more aggressive emergency sweep.
type Governor struct {
	cfg      Config
	cache    *TrackCache
	index    *SpatialIndex
	pool     *MarkerPool
	renderer *Renderer
	log      zerolog.Logger
	m        *metrics.Metrics
}

// NewGovernor wires a governor to the structures it bounds. cfg must already
// carry defaults.
func NewGovernor(cfg Config, cache *TrackCache, index *SpatialIndex, pool *MarkerPool, renderer *Renderer, log zerolog.Logger, m *metrics.Metrics) *Governor {
	return &Governor{
		cfg:      cfg,
		cache:    cache,
		index:    index,
		pool:     pool,
		renderer: renderer,
		log:      log,
		m:        m,
	}
}

// Sweep runs one scheduled pass: age out, enforce the cache cap, destroy the
// markers of everything removed, rebuild the index, and check for pressure.
// Must run on the engine loop.
func (g *Governor) Sweep(now time.Time) {
	removed := g.cache.Sweep(now)
	over := g.cache.EnforceCapacity(g.cfg.MaxCacheEntries)
	g.m.Eviction("capacity", len(over))
	removed = append(removed, over...)

	if len(removed) > 0 {
		for _, id := range removed {
			g.pool.Destroy(id)
		}
		g.renderer.Forget(removed)
		g.index.Rebuild(g.cache.Snapshot())
		g.renderer.MarkDataDirty()
		g.log.Info().Int("removed", len(removed)).Int("cached", g.cache.Len()).Msg("sweep evicted vessels")
	}

	if g.underPressure() {
		g.Emergency(now)
	}
}

func (g *Governor) underPressure() bool {
	return float64(g.pool.VisibleCount()) >= pressureThreshold*float64(g.cfg.MaxVisible) ||
		float64(g.pool.HiddenCount()) >= pressureThreshold*float64(g.cfg.MaxHidden) ||
		float64(g.cache.Len()) >= pressureThreshold*float64(g.cfg.MaxCacheEntries)
}

// Emergency is the aggressive variant of the sweep: it drops the oldest half
// of the hidden marker pool, trims the cache to half its cap, and forces a
// render so the screen reflects the smaller working set.
func (g *Governor) Emergency(now time.Time) {
	dropped := g.pool.DestroyOldestHidden(0.5)
	trimmed := g.cache.EnforceCapacity(g.cfg.MaxCacheEntries / 2)
	g.m.Eviction("emergency", len(dropped)+len(trimmed))

	if len(trimmed) > 0 {
		for _, id := range trimmed {
			g.pool.Destroy(id)
		}
		g.renderer.Forget(trimmed)
		g.index.Rebuild(g.cache.Snapshot())
		g.renderer.MarkDataDirty()
	}
	g.log.Warn().
		Int("hiddenDropped", len(dropped)).
		Int("cacheTrimmed", len(trimmed)).
		Int("cached", g.cache.Len()).
		Msg("emergency eviction ran")

	g.renderer.ForceRender()
}
