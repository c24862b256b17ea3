package trackengine

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Renderer decides what should be on screen for the current viewport, diffs
// that against what already is, and drives the marker pool accordingly. Both
// viewport changes and data changes funnel into the single Render step; the
// engine throttles how often that step runs.
type Renderer struct {
	cfg   Config
	index *SpatialIndex
	pool  *MarkerPool
	log   zerolog.Logger

	viewport    Viewport
	hasViewport bool
	rendered    Viewport
	hasRendered bool
	dataDirty   bool

	shown map[uint64]ShowOp

	now func() time.Time
}

// NewRenderer wires a renderer to an index and pool. cfg must already carry
// defaults.
func NewRenderer(cfg Config, index *SpatialIndex, pool *MarkerPool, log zerolog.Logger) *Renderer {
	return &Renderer{
		cfg:   cfg,
		index: index,
		pool:  pool,
		log:   log,
		shown: make(map[uint64]ShowOp),
		now:   time.Now,
	}
}

// SetViewport records a viewport change; the next Render consumes it.
func (r *Renderer) SetViewport(v Viewport) {
	r.viewport = v
	r.hasViewport = true
}

// MarkDataDirty records that the cache (and index) changed since last render.
func (r *Renderer) MarkDataDirty() {
	r.dataDirty = true
}

// Render runs one full decide-diff-apply pass and returns how many show and
// hide operations it emitted. A viewport similar to the last rendered one
// with unchanged data is skipped outright, which is the primary throttle
// against redundant work.
func (r *Renderer) Render() (shows, hides int) {
	if !r.hasViewport {
		return 0, 0
	}
	if r.hasRendered && !r.dataDirty &&
		r.viewport.SimilarTo(r.rendered, r.cfg.SimilarCenterMeters, r.cfg.SimilarZoomDelta) {
		return 0, 0
	}

	nodes := r.index.Query(r.viewport.Bounds.Pad(r.cfg.ViewportPadding), r.viewport.Zoom)
	want := r.selectCandidates(nodes)

	now := r.now()
	for id := range r.shown {
		if _, ok := want[id]; !ok {
			r.pool.Release(id, now)
			delete(r.shown, id)
			hides++
		}
	}
	for id, op := range want {
		if prev, ok := r.shown[id]; ok && prev == op {
			continue // marker already exactly where it should be
		}
		if r.pool.Acquire(op) == nil {
			continue
		}
		r.shown[id] = op
		shows++
	}

	r.rendered = r.viewport
	r.hasRendered = true
	r.dataDirty = false
	return shows, hides
}

// ForceRender bypasses the similarity skip for the next pass.
func (r *Renderer) ForceRender() (shows, hides int) {
	r.hasRendered = false
	return r.Render()
}

// Forget drops renderer bookkeeping for ids whose markers were destroyed
// behind its back (aged-out vessels torn down by the governor).
func (r *Renderer) Forget(ids []uint64) {
	for _, id := range ids {
		delete(r.shown, id)
	}
}

// VisibleIDs returns the ids currently considered on screen. Test helper.
func (r *Renderer) VisibleIDs() []uint64 {
	out := make([]uint64, 0, len(r.shown))
	for id := range r.shown {
		out = append(out, id)
	}
	return out
}

// selectCandidates truncates the query result to the configured caps,
// keeping nearest-to-center nodes first so truncation is deterministic.
func (r *Renderer) selectCandidates(nodes []ClusterNode) map[uint64]ShowOp {
	cLat, cLon := r.viewport.Bounds.Center()
	sort.Slice(nodes, func(i, j int) bool {
		di := haversineMeters(cLat, cLon, nodes[i].Lat, nodes[i].Lon)
		dj := haversineMeters(cLat, cLon, nodes[j].Lat, nodes[j].Lon)
		if di != dj {
			return di < dj
		}
		return nodes[i].ID < nodes[j].ID
	})

	want := make(map[uint64]ShowOp, len(nodes))
	clusters := 0
	for _, n := range nodes {
		if len(want) >= r.cfg.MaxVisible {
			break
		}
		if n.IsCluster() {
			if clusters >= r.cfg.MaxClusters {
				continue
			}
			clusters++
		}
		want[n.ID] = ShowOp{
			ID:       n.ID,
			Lat:      n.Lat,
			Lon:      n.Lon,
			Heading:  n.Heading,
			Cluster:  n.IsCluster(),
			Count:    n.Count,
			Category: n.Category,
		}
	}
	return want
}
