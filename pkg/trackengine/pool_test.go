package trackengine

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures the diff stream for assertions. Locked because the
// engine tests drive it from the loop goroutine.
type recordingSink struct {
	mu    sync.Mutex
	shows []ShowOp
	hides []uint64
}

func (s *recordingSink) Show(op ShowOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shows = append(s.shows, op)
}

func (s *recordingSink) Hide(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hides = append(s.hides, id)
}

func (s *recordingSink) counts() (shows, hides int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shows), len(s.hides)
}

func TestPoolAcquireReleaseReuse(t *testing.T) {
	sink := &recordingSink{}
	p := NewMarkerPool(10, 10, sink, zerolog.Nop())
	now := time.Now()

	m := p.Acquire(ShowOp{ID: 1, Lat: 50, Lon: -0.5})
	require.NotNil(t, m)
	assert.Equal(t, 1, p.VisibleCount())
	shows, hides := sink.counts()
	assert.Equal(t, 1, shows)
	assert.Equal(t, 0, hides)

	p.Release(1, now)
	assert.Equal(t, 0, p.VisibleCount())
	assert.Equal(t, 1, p.HiddenCount())
	_, hides = sink.counts()
	assert.Equal(t, 1, hides)

	// Reacquiring pulls the marker back out of the hidden pool.
	m2 := p.Acquire(ShowOp{ID: 1, Lat: 51, Lon: -0.4})
	require.NotNil(t, m2)
	assert.Same(t, m, m2)
	assert.Equal(t, 51.0, m2.Lat)
	assert.Equal(t, 0, p.HiddenCount())
}

func TestPoolMarkerInAtMostOneSet(t *testing.T) {
	p := NewMarkerPool(10, 10, &recordingSink{}, zerolog.Nop())
	now := time.Now()

	p.Acquire(ShowOp{ID: 1})
	visible, hidden := p.Contains(1)
	assert.True(t, visible)
	assert.False(t, hidden)

	p.Release(1, now)
	visible, hidden = p.Contains(1)
	assert.False(t, visible)
	assert.True(t, hidden)

	p.Acquire(ShowOp{ID: 1})
	visible, hidden = p.Contains(1)
	assert.True(t, visible)
	assert.False(t, hidden)
}

func TestPoolVisibleCap(t *testing.T) {
	p := NewMarkerPool(2, 10, &recordingSink{}, zerolog.Nop())

	require.NotNil(t, p.Acquire(ShowOp{ID: 1}))
	require.NotNil(t, p.Acquire(ShowOp{ID: 2}))
	assert.Nil(t, p.Acquire(ShowOp{ID: 3}))
	assert.Equal(t, 2, p.VisibleCount())

	// Repositioning an already visible marker is never blocked by the cap.
	assert.NotNil(t, p.Acquire(ShowOp{ID: 2, Lat: 1}))
}

func TestPoolHiddenCapTearsDown(t *testing.T) {
	sink := &recordingSink{}
	p := NewMarkerPool(10, 1, sink, zerolog.Nop())
	now := time.Now()

	p.Acquire(ShowOp{ID: 1})
	p.Acquire(ShowOp{ID: 2})
	p.Release(1, now)
	p.Release(2, now)

	// Only one fits the hidden pool; the other is fully destroyed.
	assert.Equal(t, 1, p.HiddenCount())
	_, hides := sink.counts()
	assert.Equal(t, 2, hides)
}

func TestPoolDetachHappensOnce(t *testing.T) {
	sink := &recordingSink{}
	p := NewMarkerPool(10, 10, sink, zerolog.Nop())
	now := time.Now()

	p.Acquire(ShowOp{ID: 1})
	p.Release(1, now)
	p.Destroy(1)

	_, hides := sink.counts()
	assert.Equal(t, 1, hides)
}

func TestPoolDestroyUnknownIDIsNoop(t *testing.T) {
	sink := &recordingSink{}
	p := NewMarkerPool(10, 10, sink, zerolog.Nop())
	p.Destroy(999)
	_, hides := sink.counts()
	assert.Equal(t, 0, hides)
}

func TestPoolDestroyOldestHidden(t *testing.T) {
	p := NewMarkerPool(10, 10, &recordingSink{}, zerolog.Nop())
	t0 := time.Now()

	for i := uint64(1); i <= 4; i++ {
		p.Acquire(ShowOp{ID: i})
		p.Release(i, t0.Add(time.Duration(i)*time.Second))
	}

	ids := p.DestroyOldestHidden(0.5)
	assert.Equal(t, []uint64{1, 2}, ids)
	assert.Equal(t, 2, p.HiddenCount())
}

func TestPoolDestroyAll(t *testing.T) {
	sink := &recordingSink{}
	p := NewMarkerPool(10, 10, sink, zerolog.Nop())
	now := time.Now()

	p.Acquire(ShowOp{ID: 1})
	p.Acquire(ShowOp{ID: 2})
	p.Release(2, now)

	p.DestroyAll()
	assert.Equal(t, 0, p.VisibleCount())
	assert.Equal(t, 0, p.HiddenCount())

	// Only the still-attached marker emits a hide on teardown.
	_, hides := sink.counts()
	assert.Equal(t, 2, hides)
}
