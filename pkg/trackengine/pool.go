package trackengine

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ShowOp tells the render surface to place or move one marker.
type ShowOp struct {
	ID       uint64  `json:"id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Heading  float64 `json:"heading,omitempty"`
	Cluster  bool    `json:"cluster,omitempty"`
	Count    int     `json:"count,omitempty"`
	Category uint32  `json:"category,omitempty"`
}

// RenderSink consumes the diff stream. The real map widget lives outside this
// module; tests use a recording sink.
type RenderSink interface {
	Show(op ShowOp)
	Hide(id uint64)
}

// Marker is the opaque render handle for one id. Its whole lifecycle is owned
// by the MarkerPool; detaching from the sink happens exactly once per
// visibility, no manual field clearing.
type Marker struct {
	ID       uint64
	Lat, Lon float64
	Heading  float64
	Cluster  bool
	Count    int

	attached bool
	hiddenAt time.Time
}

// MarkerPool manages reusable markers split into a visible set (attached to
// the render surface) and a hidden set retained for reuse. An id lives in at
// most one of the two sets; both are hard-capped.
type MarkerPool struct {
	visible map[uint64]*Marker
	hidden  map[uint64]*Marker

	maxVisible int
	maxHidden  int
	sink       RenderSink
	log        zerolog.Logger
}

// NewMarkerPool creates an empty pool emitting to sink.
func NewMarkerPool(maxVisible, maxHidden int, sink RenderSink, log zerolog.Logger) *MarkerPool {
	if maxVisible <= 0 {
		maxVisible = 500
	}
	if maxHidden <= 0 {
		maxHidden = 300
	}
	return &MarkerPool{
		visible:    make(map[uint64]*Marker),
		hidden:     make(map[uint64]*Marker),
		maxVisible: maxVisible,
		maxHidden:  maxHidden,
		sink:       sink,
		log:        log,
	}
}

// Acquire makes the marker for op.ID visible at op's position, reusing a
// hidden marker if one exists, repositioning a visible one, or constructing a
// fresh one. Returns nil when the visible cap would be exceeded.
func (p *MarkerPool) Acquire(op ShowOp) *Marker {
	if m, ok := p.hidden[op.ID]; ok {
		if len(p.visible) >= p.maxVisible {
			p.log.Warn().Uint64("id", op.ID).Msg("visible marker cap reached, not reusing hidden marker")
			return nil
		}
		delete(p.hidden, op.ID)
		p.visible[op.ID] = m
		p.place(m, op)
		return m
	}
	if m, ok := p.visible[op.ID]; ok {
		p.place(m, op)
		return m
	}
	if len(p.visible) >= p.maxVisible {
		p.log.Warn().Uint64("id", op.ID).Msg("visible marker cap reached, dropping acquire")
		return nil
	}
	m := &Marker{ID: op.ID}
	p.visible[op.ID] = m
	p.place(m, op)
	return m
}

func (p *MarkerPool) place(m *Marker, op ShowOp) {
	m.Lat, m.Lon, m.Heading = op.Lat, op.Lon, op.Heading
	m.Cluster, m.Count = op.Cluster, op.Count
	m.attached = true
	p.sink.Show(op)
}

// Release detaches a visible marker, keeping it for reuse while the hidden
// pool has room and destroying it otherwise. Unknown ids are ignored.
func (p *MarkerPool) Release(id uint64, now time.Time) {
	m, ok := p.visible[id]
	if !ok {
		return
	}
	delete(p.visible, id)
	p.detach(m)
	if len(p.hidden) >= p.maxHidden {
		return // cap exceeded: full teardown instead of pooling
	}
	m.hiddenAt = now
	p.hidden[id] = m
}

// Destroy fully tears down the marker for id regardless of which pool holds
// it. Safe to call for ids the pool has never seen.
func (p *MarkerPool) Destroy(id uint64) {
	if m, ok := p.visible[id]; ok {
		delete(p.visible, id)
		p.detach(m)
		return
	}
	delete(p.hidden, id)
}

// DestroyOldestHidden tears down the oldest frac of the hidden pool and
// returns the destroyed ids. Used by the memory governor under pressure.
func (p *MarkerPool) DestroyOldestHidden(frac float64) []uint64 {
	n := int(math.Ceil(float64(len(p.hidden)) * frac))
	if n <= 0 {
		return nil
	}
	type entry struct {
		id uint64
		at time.Time
	}
	all := make([]entry, 0, len(p.hidden))
	for id, m := range p.hidden {
		all = append(all, entry{id: id, at: m.hiddenAt})
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].at.Equal(all[j].at) {
			return all[i].at.Before(all[j].at)
		}
		return all[i].id < all[j].id
	})
	if n > len(all) {
		n = len(all)
	}
	ids := make([]uint64, 0, n)
	for _, e := range all[:n] {
		delete(p.hidden, e.id)
		ids = append(ids, e.id)
	}
	return ids
}

// DestroyAll empties both pools, hiding anything still attached. Used on
// shutdown.
func (p *MarkerPool) DestroyAll() {
	for id, m := range p.visible {
		delete(p.visible, id)
		p.detach(m)
	}
	p.hidden = make(map[uint64]*Marker)
}

func (p *MarkerPool) detach(m *Marker) {
	if !m.attached {
		return
	}
	m.attached = false
	p.sink.Hide(m.ID)
}

func (p *MarkerPool) VisibleCount() int { return len(p.visible) }
func (p *MarkerPool) HiddenCount() int  { return len(p.hidden) }

// Contains reports which pool, if any, currently holds id.
func (p *MarkerPool) Contains(id uint64) (visible, hidden bool) {
	_, visible = p.visible[id]
	_, hidden = p.hidden[id]
	return visible, hidden
}
