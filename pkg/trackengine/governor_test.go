package trackengine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type governorFixture struct {
	cfg      Config
	cache    *TrackCache
	index    *SpatialIndex
	pool     *MarkerPool
	renderer *Renderer
	governor *Governor
	sink     *recordingSink
}

func newGovernorFixture(cfg Config) *governorFixture {
	cfg = cfg.withDefaults()
	sink := &recordingSink{}
	cache := NewTrackCache(cfg.DataMaxAge, zerolog.Nop(), nil)
	index := NewSpatialIndex(cfg.ClusterRadius, cfg.DisableClusteringAtZoom, cfg.MaxVisible, zerolog.Nop())
	pool := NewMarkerPool(cfg.MaxVisible, cfg.MaxHidden, sink, zerolog.Nop())
	renderer := NewRenderer(cfg, index, pool, zerolog.Nop())
	return &governorFixture{
		cfg:      cfg,
		cache:    cache,
		index:    index,
		pool:     pool,
		renderer: renderer,
		governor: NewGovernor(cfg, cache, index, pool, renderer, zerolog.Nop(), nil),
		sink:     sink,
	}
}

func TestGovernorSweepAgesOutVesselAndMarker(t *testing.T) {
	fx := newGovernorFixture(Config{DataMaxAge: time.Hour})
	t0 := time.Now()

	require.True(t, fx.cache.Upsert(testReport(42, t0), t0))
	fx.index.Rebuild(fx.cache.Snapshot())
	fx.renderer.SetViewport(channelViewport(15))
	fx.renderer.Render()
	require.Equal(t, 1, fx.pool.VisibleCount())

	fx.governor.Sweep(t0.Add(61 * time.Minute))

	assert.Equal(t, 0, fx.cache.Len())
	assert.Equal(t, 0, fx.index.Len())
	assert.Equal(t, 0, fx.pool.VisibleCount())
	_, hides := fx.sink.counts()
	assert.Equal(t, 1, hides)
	assert.Empty(t, fx.renderer.VisibleIDs())
}

func TestGovernorSweepKeepsFreshVessels(t *testing.T) {
	fx := newGovernorFixture(Config{DataMaxAge: time.Hour})
	t0 := time.Now()

	require.True(t, fx.cache.Upsert(testReport(1, t0), t0))
	require.True(t, fx.cache.Upsert(testReport(2, t0), t0.Add(45*time.Minute)))
	fx.index.Rebuild(fx.cache.Snapshot())

	fx.governor.Sweep(t0.Add(61 * time.Minute))

	assert.Equal(t, 1, fx.cache.Len())
	_, ok := fx.cache.Get(2)
	assert.True(t, ok)
}

func TestGovernorSweepEnforcesCacheCap(t *testing.T) {
	fx := newGovernorFixture(Config{MaxCacheEntries: 2, DataMaxAge: time.Hour})
	t0 := time.Now()

	for i := uint64(1); i <= 4; i++ {
		require.True(t, fx.cache.Upsert(testReport(i, t0), t0.Add(time.Duration(i)*time.Minute)))
	}

	fx.governor.Sweep(t0.Add(5 * time.Minute))

	assert.Equal(t, 2, fx.cache.Len())
	_, ok := fx.cache.Get(1)
	assert.False(t, ok)
	_, ok = fx.cache.Get(4)
	assert.True(t, ok)
}

func TestGovernorEmergencyDropsHiddenAndTrimsCache(t *testing.T) {
	fx := newGovernorFixture(Config{MaxCacheEntries: 8, MaxHidden: 100, DataMaxAge: time.Hour})
	t0 := time.Now()

	for i := uint64(1); i <= 8; i++ {
		require.True(t, fx.cache.Upsert(testReport(i, t0), t0.Add(time.Duration(i)*time.Minute)))
	}
	fx.index.Rebuild(fx.cache.Snapshot())

	// Park six markers in the hidden pool.
	for i := uint64(1); i <= 6; i++ {
		fx.pool.Acquire(ShowOp{ID: i})
		fx.pool.Release(i, t0.Add(time.Duration(i)*time.Second))
	}
	require.Equal(t, 6, fx.pool.HiddenCount())

	fx.governor.Emergency(t0.Add(10 * time.Minute))

	// Markers 1..3 go with the oldest-half drop, 4 with its trimmed cache
	// record.
	assert.Equal(t, 2, fx.pool.HiddenCount())
	assert.Equal(t, 4, fx.cache.Len())
	// Newest records survive the trim.
	_, ok := fx.cache.Get(8)
	assert.True(t, ok)
	_, ok = fx.cache.Get(1)
	assert.False(t, ok)
}

func TestGovernorPressureTriggersEmergency(t *testing.T) {
	fx := newGovernorFixture(Config{MaxCacheEntries: 10, DataMaxAge: time.Hour})
	t0 := time.Now()

	// Nine of ten entries is past the pressure threshold.
	for i := uint64(1); i <= 9; i++ {
		require.True(t, fx.cache.Upsert(testReport(i, t0), t0.Add(time.Duration(i)*time.Minute)))
	}
	fx.index.Rebuild(fx.cache.Snapshot())

	fx.governor.Sweep(t0.Add(10 * time.Minute))

	// Emergency trims down to half the cap.
	assert.Equal(t, 5, fx.cache.Len())
}
