package trackengine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReport(id uint64, ts time.Time) Report {
	return Report{
		ID:        id,
		Lat:       50.1,
		Lon:       -1.2,
		Heading:   90,
		Category:  1,
		Timestamp: ts,
	}
}

func TestCacheUpsertValidation(t *testing.T) {
	c := NewTrackCache(time.Hour, zerolog.Nop(), nil)
	now := time.Now()

	tests := []struct {
		name   string
		report Report
		want   bool
	}{
		{"valid", testReport(100, now), true},
		{"zero id", Report{ID: 0, Lat: 50, Lon: 1, Timestamp: now}, false},
		{"lat out of range", Report{ID: 101, Lat: 200, Lon: 1, Timestamp: now}, false},
		{"lon out of range", Report{ID: 102, Lat: 50, Lon: -181, Timestamp: now}, false},
		{"null island", Report{ID: 103, Lat: 0, Lon: 0, Timestamp: now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Upsert(tt.report, now))
		})
	}
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(4), c.Rejected())
}

func TestCacheRejectsOutOfOrderTimestamps(t *testing.T) {
	c := NewTrackCache(time.Hour, zerolog.Nop(), nil)
	now := time.Now()
	t10 := now.Add(10 * time.Second)
	t5 := now.Add(5 * time.Second)

	require.True(t, c.Upsert(testReport(7, t10), now))
	assert.False(t, c.Upsert(testReport(7, t5), now.Add(time.Second)))

	rec, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, t10, rec.Report.Timestamp)
	assert.Equal(t, uint64(1), c.Rejected())
}

func TestCacheUpsertRefreshesLastSeen(t *testing.T) {
	c := NewTrackCache(time.Hour, zerolog.Nop(), nil)
	t0 := time.Now()
	t1 := t0.Add(10 * time.Minute)

	require.True(t, c.Upsert(testReport(7, t0), t0))
	require.True(t, c.Upsert(testReport(7, t1), t1))

	rec, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, t1, rec.LastSeen)
}

func TestCacheSweepAgesOut(t *testing.T) {
	c := NewTrackCache(time.Hour, zerolog.Nop(), nil)
	t0 := time.Now()

	require.True(t, c.Upsert(testReport(1, t0), t0))
	require.True(t, c.Upsert(testReport(2, t0), t0.Add(30*time.Minute)))

	removed := c.Sweep(t0.Add(61 * time.Minute))
	assert.Equal(t, []uint64{1}, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get(1)
	assert.False(t, ok)
	_, ok = c.Get(2)
	assert.True(t, ok)
}

func TestCacheEnforceCapacityEvictsOldestFirst(t *testing.T) {
	c := NewTrackCache(time.Hour, zerolog.Nop(), nil)
	t0 := time.Now()
	t1, t2, t3 := t0, t0.Add(time.Minute), t0.Add(2*time.Minute)

	require.True(t, c.Upsert(testReport(11, t1), t1))
	require.True(t, c.Upsert(testReport(22, t2), t2))
	require.True(t, c.Upsert(testReport(33, t3), t3))

	removed := c.EnforceCapacity(2)
	assert.Equal(t, []uint64{11}, removed)
	assert.Equal(t, 2, c.Len())

	removed = c.EnforceCapacity(1)
	assert.Equal(t, []uint64{22}, removed)

	assert.Nil(t, c.EnforceCapacity(1))
}

func TestCacheSnapshotCopies(t *testing.T) {
	c := NewTrackCache(time.Hour, zerolog.Nop(), nil)
	now := time.Now()
	require.True(t, c.Upsert(testReport(5, now), now))

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Report.Lat = -33

	rec, ok := c.Get(5)
	require.True(t, ok)
	assert.Equal(t, 50.1, rec.Report.Lat)
}
