package trackengine

import (
	"errors"
	"sync"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/rs/zerolog"

	"github.com/vesselwatch/vessel-stream/pkg/metrics"
)

// ErrStopped is returned by calls into an engine whose loop has shut down.
var ErrStopped = errors.New("engine is stopped")

// EngineOptions are the cross-cutting collaborators; all optional.
type EngineOptions struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// OnStatus is invoked (on the engine loop) whenever the status record
	// changes. Keep it fast.
	OnStatus func(Status)
}

// Engine owns the whole pipeline and the single logical execution sequence
// everything runs on: one loop goroutine serializes viewport changes, batch
// arrivals, the render-throttle timer and the governor's sweep ticker, so the
// components themselves need no locking.
type Engine struct {
	cfg Config
	log zerolog.Logger
	m   *metrics.Metrics

	cache    *TrackCache
	index    *SpatialIndex
	pool     *MarkerPool
	renderer *Renderer
	pipeline *Pipeline
	governor *Governor

	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	renderTimer   *time.Timer
	renderPending bool

	statusMu sync.Mutex
	status   Status
	onStatus func(Status)
}

// NewEngine assembles an engine around a feed transport and a render sink.
func NewEngine(cfg Config, transport Transport, sink RenderSink, opts EngineOptions) *Engine {
	cfg = cfg.withDefaults()
	log := opts.Logger

	e := &Engine{
		cfg:      cfg,
		log:      log,
		m:        opts.Metrics,
		tasks:    make(chan func(), 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		onStatus: opts.OnStatus,
	}

	e.cache = NewTrackCache(cfg.DataMaxAge, log.With().Str("component", "cache").Logger(), opts.Metrics)
	e.index = NewSpatialIndex(cfg.ClusterRadius, cfg.DisableClusteringAtZoom, cfg.MaxVisible,
		log.With().Str("component", "index").Logger())
	e.pool = NewMarkerPool(cfg.MaxVisible, cfg.MaxHidden, sink,
		log.With().Str("component", "pool").Logger())
	e.renderer = NewRenderer(cfg, e.index, e.pool, log.With().Str("component", "renderer").Logger())
	e.governor = NewGovernor(cfg, e.cache, e.index, e.pool, e.renderer,
		log.With().Str("component", "governor").Logger(), opts.Metrics)
	e.pipeline = NewPipeline(cfg, transport, e.cache, e.index, PipelineHooks{
		Exec: func(f func()) { e.exec(f) },
		OnApplied: func(first bool) {
			e.renderer.MarkDataDirty()
			e.scheduleRender()
			e.publishStatus()
			if first {
				e.log.Info().Int("vessels", e.cache.Len()).Msg("first data ready")
			}
		},
		OnStateChange: func() { e.publishStatus() },
	}, log.With().Str("component", "ingest").Logger(), opts.Metrics)

	e.status = Status{Loading: true, State: StateDisconnected, StateName: StateDisconnected.String()}
	return e
}

// Start launches the event loop and the first connection attempt. Calling it
// more than once is a no-op.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		go e.loop()
		e.exec(e.pipeline.Start)
	})
}

// Stop shuts everything down: both timers, the connection, every marker and
// the cache. Idempotent and safe to call from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		// If Start never ran there is no loop to unwind; close done
		// directly so exec callers fail fast.
		e.startOnce.Do(func() { close(e.done) })
		close(e.quit)
	})
	<-e.done
}

// OnViewportChanged tells the engine the map widget moved. Render work is
// coalesced by the throttle timer.
func (e *Engine) OnViewportChanged(v Viewport) {
	e.exec(func() {
		e.renderer.SetViewport(v)
		e.scheduleRender()
	})
}

// OnDataChanged forces a re-render decision outside the ingestion path, for
// callers that mutate the cache through other means.
func (e *Engine) OnDataChanged() {
	e.exec(func() {
		e.renderer.MarkDataDirty()
		e.scheduleRender()
	})
}

// Status returns the latest published status record.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// SnapshotGeoJSON runs a query for the given viewport on the engine loop and
// returns it as a GeoJSON feature collection, clusters tagged the usual
// cluster/point_count way.
func (e *Engine) SnapshotGeoJSON(v Viewport) (*geojson.FeatureCollection, error) {
	ch := make(chan *geojson.FeatureCollection, 1)
	posted := e.exec(func() {
		ch <- featureCollection(e.index.Query(v.Bounds.Pad(e.cfg.ViewportPadding), v.Zoom))
	})
	if !posted {
		return nil, ErrStopped
	}
	select {
	case fc := <-ch:
		return fc, nil
	case <-e.done:
		return nil, ErrStopped
	}
}

// exec serializes f onto the loop; returns false if the engine has stopped.
func (e *Engine) exec(f func()) bool {
	select {
	case e.tasks <- f:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) loop() {
	defer close(e.done)

	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	e.renderTimer = time.NewTimer(time.Hour)
	if !e.renderTimer.Stop() {
		<-e.renderTimer.C
	}
	defer e.renderTimer.Stop()

	for {
		select {
		case <-e.quit:
			e.shutdown()
			return
		case f := <-e.tasks:
			f()
		case <-e.renderTimer.C:
			e.renderPending = false
			e.renderNow()
		case <-sweep.C:
			e.governor.Sweep(time.Now())
			e.updateGauges()
		}
	}
}

// scheduleRender arms the throttle timer unless a render is already pending;
// bursts of viewport and data changes collapse into one pass.
func (e *Engine) scheduleRender() {
	if e.renderPending {
		return
	}
	e.renderPending = true
	e.renderTimer.Reset(e.cfg.RenderThrottle)
}

func (e *Engine) renderNow() {
	shows, hides := e.renderer.Render()
	if shows+hides > 0 {
		e.log.Debug().Int("shows", shows).Int("hides", hides).Msg("render pass")
	}
	e.m.RenderPass(shows, hides)
	e.updateGauges()
}

func (e *Engine) updateGauges() {
	e.m.SetSizes(e.cache.Len(), e.pool.VisibleCount(), e.pool.HiddenCount())
}

func (e *Engine) shutdown() {
	e.pipeline.Stop()
	e.pool.DestroyAll()
	e.cache.Clear()
	e.index.Rebuild(nil)
	e.updateGauges()
	e.publishStatus()
	e.log.Info().Msg("engine stopped")
}

func (e *Engine) publishStatus() {
	s := Status{
		Loading:    !e.pipeline.HasData(),
		HasData:    e.pipeline.HasData(),
		State:      e.pipeline.State(),
		StateName:  e.pipeline.State().String(),
		Fallback:   e.pipeline.FallbackActive(),
		LastUpdate: e.pipeline.LastUpdate(),
		Err:        e.pipeline.Err(),
	}
	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
	if e.onStatus != nil {
		e.onStatus(s)
	}
}
