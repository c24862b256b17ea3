// Package feedsim generates a synthetic vessel feed: a seeded fleet of
// moving targets plus an HTTP server exposing them over the same websocket
// and poll endpoints a real position feed would use.
package feedsim

import (
	"math"
	"math/rand"
	"time"

	"github.com/vesselwatch/vessel-stream/pkg/trackengine"
)

// Options describe the simulated fleet. Zero values get sensible defaults.
type Options struct {
	// Vessels is the fleet size. Default 250.
	Vessels int
	// Seed makes the fleet reproducible. Default 1.
	Seed int64
	// CenterLat/CenterLon anchor the spawn area. Default: English Channel.
	CenterLat float64
	CenterLon float64
	// SpreadDeg is the half-width of the spawn box in degrees. Default 3.
	SpreadDeg float64
}

func (o Options) withDefaults() Options {
	if o.Vessels <= 0 {
		o.Vessels = 250
	}
	if o.Seed == 0 {
		o.Seed = 1
	}
	if o.CenterLat == 0 && o.CenterLon == 0 {
		o.CenterLat = 50.2
		o.CenterLon = -0.5
	}
	if o.SpreadDeg <= 0 {
		o.SpreadDeg = 3
	}
	return o
}

type vessel struct {
	id       uint64
	lat      float64
	lon      float64
	heading  float64
	speed    float64
	category uint32
}

// Fleet is a deterministic set of vessels moving on great-circle-ish tracks.
// Not safe for concurrent use; the server serializes access.
type Fleet struct {
	rng     *rand.Rand
	vessels []vessel
}

// NewFleet spawns the fleet from the seed. The same options always produce
// the same initial fleet and the same movement.
func NewFleet(opts Options) *Fleet {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(opts.Seed))
	vessels := make([]vessel, opts.Vessels)
	for i := range vessels {
		vessels[i] = vessel{
			// MMSI-shaped ids so they read like real traffic.
			id:       uint64(200_000_000 + rng.Intn(600_000_000)),
			lat:      opts.CenterLat + (rng.Float64()*2-1)*opts.SpreadDeg,
			lon:      opts.CenterLon + (rng.Float64()*2-1)*opts.SpreadDeg,
			heading:  rng.Float64() * 360,
			speed:    2 + rng.Float64()*18,
			category: uint32(rng.Intn(6)),
		}
	}
	return &Fleet{rng: rng, vessels: vessels}
}

// Len reports the fleet size.
func (f *Fleet) Len() int { return len(f.vessels) }

// Advance moves every vessel by dt at its current speed and occasionally
// nudges course and speed so tracks are not dead straight.
func (f *Fleet) Advance(dt time.Duration) {
	hours := dt.Hours()
	for i := range f.vessels {
		v := &f.vessels[i]
		if f.rng.Float64() < 0.05 {
			v.heading = math.Mod(v.heading+(f.rng.Float64()*2-1)*30+360, 360)
		}
		if f.rng.Float64() < 0.02 {
			v.speed = math.Max(0, v.speed+(f.rng.Float64()*2-1)*2)
		}

		// One knot is one nautical mile per hour; one nm is 1/60 degree
		// of latitude.
		deg := v.speed * hours / 60
		rad := v.heading * math.Pi / 180
		v.lat += deg * math.Cos(rad)
		v.lon += deg * math.Sin(rad) / math.Cos(v.lat*math.Pi/180)

		// Reflect off the mercator-usable latitude band, wrap longitude.
		if v.lat > 85 {
			v.lat = 170 - v.lat
			v.heading = math.Mod(v.heading+180, 360)
		}
		if v.lat < -85 {
			v.lat = -170 - v.lat
			v.heading = math.Mod(v.heading+180, 360)
		}
		if v.lon > 180 {
			v.lon -= 360
		}
		if v.lon < -180 {
			v.lon += 360
		}
	}
}

// InitialBatch returns the whole fleet as the load-everything batch a feed
// sends right after a client connects.
func (f *Fleet) InitialBatch(now time.Time) trackengine.Batch {
	return trackengine.Batch{Kind: trackengine.BatchInitial, Reports: f.reports(now, len(f.vessels))}
}

// UpdateBatch advances the fleet by dt and returns up to n changed vessels.
func (f *Fleet) UpdateBatch(now time.Time, dt time.Duration, n int) trackengine.Batch {
	f.Advance(dt)
	if n <= 0 || n > len(f.vessels) {
		n = len(f.vessels)
	}
	return trackengine.Batch{Kind: trackengine.BatchUpdate, Reports: f.reports(now, n)}
}

// FullBatch is the poll shape: the complete current fleet as an update.
func (f *Fleet) FullBatch(now time.Time) trackengine.Batch {
	return trackengine.Batch{Kind: trackengine.BatchUpdate, Reports: f.reports(now, len(f.vessels))}
}

func (f *Fleet) reports(now time.Time, n int) []trackengine.Report {
	start := 0
	if n < len(f.vessels) {
		start = f.rng.Intn(len(f.vessels))
	}
	out := make([]trackengine.Report, 0, n)
	for i := 0; i < n; i++ {
		v := f.vessels[(start+i)%len(f.vessels)]
		out = append(out, trackengine.Report{
			ID:         v.id,
			Lat:        v.lat,
			Lon:        v.lon,
			Heading:    v.heading,
			SpeedKnots: v.speed,
			Category:   v.category,
			Timestamp:  now,
		})
	}
	return out
}
