// Package trackengine keeps a live map of tens of thousands of moving vessels
// responsive: it merges position reports into a bounded aging cache, clusters
// them spatially, and emits a minimal show/hide diff for whatever viewport the
// external map surface is looking at. The package never draws anything itself.
package trackengine

import "time"

// BatchKind distinguishes the full snapshot a feed sends on connect from the
// incremental updates that follow.
type BatchKind string

const (
	BatchInitial BatchKind = "initial"
	BatchUpdate  BatchKind = "update"
)

// Report is one position report for one vessel, already decoded from the wire.
type Report struct {
	ID         uint64    `json:"id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Heading    float64   `json:"heading,omitempty"`
	SpeedKnots float64   `json:"speedKnots,omitempty"`
	Category   uint32    `json:"category"`
	Timestamp  time.Time `json:"timestamp"`
}

// Batch is one delivery from the feed.
type Batch struct {
	Kind    BatchKind `json:"kind"`
	Reports []Report  `json:"reports"`
}

// Valid reports need a positive id and plausible coordinates. (0,0) is the
// common "no fix yet" sentinel and is rejected outright.
func (r Report) Valid() bool {
	if r.ID == 0 {
		return false
	}
	if r.Lat < -90 || r.Lat > 90 || r.Lon < -180 || r.Lon > 180 {
		return false
	}
	if r.Lat == 0 && r.Lon == 0 {
		return false
	}
	return true
}
