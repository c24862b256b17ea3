package trackengine

import "time"

// Config carries every tunable of the pipeline. The zero value of any field
// is replaced by the default noted next to it, so callers only set what they
// care about.
type Config struct {
	// ClusterRadius is the cluster radius in screen pixels at the standard
	// 256px tile extent. Default 60.
	ClusterRadius float64
	// DisableClusteringAtZoom turns clustering off at and above this zoom
	// level; only individual vessels are returned from then on. Default 14.
	DisableClusteringAtZoom float64
	// MaxVisible caps how many markers may be on screen at once. Default 500.
	MaxVisible int
	// MaxClusters caps how many cluster markers may be on screen. Default 200.
	MaxClusters int
	// MaxHidden caps the off-screen marker pool kept for reuse. Default 300.
	MaxHidden int
	// MaxCacheEntries caps the vessel cache. Default 20000.
	MaxCacheEntries int
	// DataMaxAge is how long a vessel stays cached without a fresh report.
	// Default 1h.
	DataMaxAge time.Duration
	// SweepInterval is how often the memory governor runs. Default 60s.
	SweepInterval time.Duration
	// RenderThrottle is the minimum interval between render passes; bursts of
	// viewport and data changes coalesce into one pass. Default 150ms.
	RenderThrottle time.Duration
	// ReconnectDelay is the fixed delay before a reconnect attempt. The delay
	// deliberately does not grow. Default 5s.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is how many consecutive reconnects may fail before
	// the pipeline degrades to fallback polling. Default 5.
	MaxReconnectAttempts int
	// FallbackRedialEvery is how many successful fallback polls happen between
	// attempts to re-establish the push connection. Default 6.
	FallbackRedialEvery int
	// ViewportPadding widens the queried bounding box by this fraction per
	// side so markers just off screen are ready when the map pans. Default 0.2.
	ViewportPadding float64
	// SimilarCenterMeters and SimilarZoomDelta define when two viewports are
	// close enough that re-rendering is skipped. Defaults 300m and 1.
	SimilarCenterMeters float64
	SimilarZoomDelta    float64
}

func (c Config) withDefaults() Config {
	if c.ClusterRadius <= 0 {
		c.ClusterRadius = 60
	}
	if c.DisableClusteringAtZoom <= 0 {
		c.DisableClusteringAtZoom = 14
	}
	if c.MaxVisible <= 0 {
		c.MaxVisible = 500
	}
	if c.MaxClusters <= 0 {
		c.MaxClusters = 200
	}
	if c.MaxHidden <= 0 {
		c.MaxHidden = 300
	}
	if c.MaxCacheEntries <= 0 {
		c.MaxCacheEntries = 20000
	}
	if c.DataMaxAge <= 0 {
		c.DataMaxAge = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.RenderThrottle <= 0 {
		c.RenderThrottle = 150 * time.Millisecond
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.FallbackRedialEvery <= 0 {
		c.FallbackRedialEvery = 6
	}
	if c.ViewportPadding <= 0 {
		c.ViewportPadding = 0.2
	}
	if c.SimilarCenterMeters <= 0 {
		c.SimilarCenterMeters = 300
	}
	if c.SimilarZoomDelta <= 0 {
		c.SimilarZoomDelta = 1
	}
	return c
}
