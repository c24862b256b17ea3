package trackengine

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vesselwatch/vessel-stream/pkg/metrics"
)

// TrackRecord is the latest accepted report for one vessel plus the time it
// was last refreshed. Records live only inside the TrackCache.
type TrackRecord struct {
	Report   Report
	LastSeen time.Time
}

// TrackCache is the bounded, aging store of last-known vessel state. It never
// touches the spatial index itself; whoever mutates the cache is responsible
// for triggering a rebuild afterwards.
//
// All methods assume they run on the engine's single event loop.
type TrackCache struct {
	records  map[uint64]*TrackRecord
	maxAge   time.Duration
	rejected uint64

	log zerolog.Logger
	m   *metrics.Metrics
}

// NewTrackCache creates an empty cache aging records out after maxAge.
func NewTrackCache(maxAge time.Duration, log zerolog.Logger, m *metrics.Metrics) *TrackCache {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &TrackCache{
		records: make(map[uint64]*TrackRecord),
		maxAge:  maxAge,
		log:     log,
		m:       m,
	}
}

// Upsert merges one report and reports whether it was accepted. Rejections
// (invalid report, or a timestamp older than the stored one) are counted and
// otherwise silent.
func (c *TrackCache) Upsert(r Report, now time.Time) bool {
	if !r.Valid() {
		c.reject()
		return false
	}
	if existing, ok := c.records[r.ID]; ok {
		if r.Timestamp.Before(existing.Report.Timestamp) {
			c.reject()
			return false
		}
		existing.Report = r
		existing.LastSeen = now
		c.m.ReportAccepted()
		return true
	}
	c.records[r.ID] = &TrackRecord{Report: r, LastSeen: now}
	c.m.ReportAccepted()
	return true
}

func (c *TrackCache) reject() {
	c.rejected++
	c.m.ReportRejected()
}

// Sweep removes every record not refreshed within the max age and returns the
// removed ids so the caller can tear down the matching markers.
func (c *TrackCache) Sweep(now time.Time) []uint64 {
	var removed []uint64
	for id, rec := range c.records {
		if now.Sub(rec.LastSeen) > c.maxAge {
			delete(c.records, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		c.m.Eviction("aged", len(removed))
		c.log.Debug().Int("removed", len(removed)).Msg("aged out stale vessels")
	}
	return removed
}

// EnforceCapacity evicts oldest-LastSeen records first until the cache is at
// or under max, returning the evicted ids.
func (c *TrackCache) EnforceCapacity(max int) []uint64 {
	if max <= 0 || len(c.records) <= max {
		return nil
	}
	type aged struct {
		id       uint64
		lastSeen time.Time
		reported time.Time
	}
	all := make([]aged, 0, len(c.records))
	for id, rec := range c.records {
		all = append(all, aged{id: id, lastSeen: rec.LastSeen, reported: rec.Report.Timestamp})
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].lastSeen.Equal(all[j].lastSeen) {
			return all[i].lastSeen.Before(all[j].lastSeen)
		}
		if !all[i].reported.Equal(all[j].reported) {
			return all[i].reported.Before(all[j].reported)
		}
		return all[i].id < all[j].id
	})
	n := len(c.records) - max
	removed := make([]uint64, 0, n)
	for _, a := range all[:n] {
		delete(c.records, a.id)
		removed = append(removed, a.id)
	}
	c.log.Debug().Int("removed", len(removed)).Int("cap", max).Msg("trimmed cache to capacity")
	return removed
}

// Snapshot returns a copy of every record, in no particular order.
func (c *TrackCache) Snapshot() []TrackRecord {
	out := make([]TrackRecord, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, *rec)
	}
	return out
}

// Get returns the record for one vessel, if cached.
func (c *TrackCache) Get(id uint64) (TrackRecord, bool) {
	rec, ok := c.records[id]
	if !ok {
		return TrackRecord{}, false
	}
	return *rec, true
}

func (c *TrackCache) Len() int { return len(c.records) }

// Rejected reports how many reports have been dropped since construction.
func (c *TrackCache) Rejected() uint64 { return c.rejected }

// Clear drops every record. Used on shutdown.
func (c *TrackCache) Clear() {
	c.records = make(map[uint64]*TrackRecord)
}
