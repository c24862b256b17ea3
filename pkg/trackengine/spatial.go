package trackengine

import (
	"errors"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// ErrStaleCluster is returned when a cluster id from an earlier query or an
// earlier index generation is used. Cluster ids are only valid until the next
// Query on the same built generation.
var ErrStaleCluster = errors.New("cluster id is stale")

// Bounds is a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// Clamp forces the box into valid coordinate ranges and fixes inverted edges.
func (b Bounds) Clamp() Bounds {
	b.MinLat = math.Max(-90, math.Min(90, b.MinLat))
	b.MaxLat = math.Max(-90, math.Min(90, b.MaxLat))
	b.MinLon = math.Max(-180, math.Min(180, b.MinLon))
	b.MaxLon = math.Max(-180, math.Min(180, b.MaxLon))
	if b.MinLat > b.MaxLat {
		b.MinLat, b.MaxLat = b.MaxLat, b.MinLat
	}
	if b.MinLon > b.MaxLon {
		b.MinLon, b.MaxLon = b.MaxLon, b.MinLon
	}
	return b
}

// Pad widens the box by frac of its span on every side.
func (b Bounds) Pad(frac float64) Bounds {
	if frac <= 0 {
		return b
	}
	dLat := (b.MaxLat - b.MinLat) * frac
	dLon := (b.MaxLon - b.MinLon) * frac
	return Bounds{
		MinLat: b.MinLat - dLat,
		MinLon: b.MinLon - dLon,
		MaxLat: b.MaxLat + dLat,
		MaxLon: b.MaxLon + dLon,
	}.Clamp()
}

// Center returns the middle of the box.
func (b Bounds) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

func (b Bounds) contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// ClusterNode is one query result: either a cluster of nearby vessels or a
// single vessel (Count == 1, ID is the vessel id). Cluster ids are synthetic
// and must not be cached across rebuilds.
type ClusterNode struct {
	ID       uint64
	Lat, Lon float64
	Count    int
	Heading  float64 // single vessels only
	Category uint32  // single vessels only
}

// IsCluster reports whether the node aggregates more than one vessel.
func (n ClusterNode) IsCluster() bool { return n.Count > 1 }

type indexPoint struct {
	id       uint64
	lat, lon float64
	heading  float64
	category uint32
	x, y     float64 // web mercator world coordinates in [0,1]
}

type queryCluster struct {
	members []indexPoint // sorted by x
	zoom    int
}

// SpatialIndex answers "what clusters and vessels are inside this box at this
// zoom" over the current cache snapshot. Rebuild is O(n log n); Query clusters
// only the points inside the (padded) box, so callers should rebuild once per
// mutation batch, not once per report.
type SpatialIndex struct {
	radius     float64
	maxZoom    float64 // clustering disabled at and above this (floored) zoom
	maxVisible int

	generation uint32
	points     []indexPoint // sorted by x
	clusterSeq uint32
	lastQuery  map[uint64]queryCluster

	log zerolog.Logger
}

const (
	tileExtent = 256.0
	maxMercLat = 85.05112878
	minPoints  = 2
)

// NewSpatialIndex creates an empty index. radius is in screen pixels at the
// standard tile extent; maxVisible caps point-mode query results.
func NewSpatialIndex(radius, disableClusteringAtZoom float64, maxVisible int, log zerolog.Logger) *SpatialIndex {
	if radius <= 0 {
		radius = 60
	}
	if disableClusteringAtZoom <= 0 {
		disableClusteringAtZoom = 14
	}
	if maxVisible <= 0 {
		maxVisible = 500
	}
	return &SpatialIndex{
		radius:     radius,
		maxZoom:    disableClusteringAtZoom,
		maxVisible: maxVisible,
		lastQuery:  make(map[uint64]queryCluster),
		log:        log,
	}
}

// Rebuild replaces the indexed point set and starts a new generation; every
// cluster id handed out before this call becomes stale.
func (s *SpatialIndex) Rebuild(records []TrackRecord) {
	points := make([]indexPoint, 0, len(records))
	for _, rec := range records {
		r := rec.Report
		points = append(points, indexPoint{
			id:       r.ID,
			lat:      r.Lat,
			lon:      r.Lon,
			heading:  r.Heading,
			category: r.Category,
			x:        projectX(r.Lon),
			y:        projectY(r.Lat),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].x < points[j].x })
	s.points = points
	s.generation++
	s.clusterSeq = 0
	s.lastQuery = make(map[uint64]queryCluster)
}

// Generation identifies the current build; it changes on every Rebuild.
func (s *SpatialIndex) Generation() uint32 { return s.generation }

// Len reports how many points are indexed.
func (s *SpatialIndex) Len() int { return len(s.points) }

// Query returns the clusters and single vessels inside bbox at the given zoom
// level. Zoom is floored into integral buckets. At or above the clustering
// cutoff it returns only individual vessels, capped at maxVisible.
func (s *SpatialIndex) Query(bbox Bounds, zoom float64) []ClusterNode {
	bbox = bbox.Clamp()
	z := int(math.Floor(zoom))

	// Results from the previous query are invalidated; expansion lookups are
	// only honored for the immediately preceding query.
	s.lastQuery = make(map[uint64]queryCluster)

	if float64(z) >= s.maxZoom {
		return s.queryPoints(bbox)
	}

	r := s.radius / (tileExtent * math.Pow(2, float64(z)))
	candidates := s.candidates(bbox, r)
	groups := clusterGreedy(candidates, r)

	nodes := make([]ClusterNode, 0, len(groups))
	for _, g := range groups {
		if len(g) < minPoints {
			p := g[0]
			nodes = append(nodes, ClusterNode{
				ID:       p.id,
				Lat:      p.lat,
				Lon:      p.lon,
				Count:    1,
				Heading:  p.heading,
				Category: p.category,
			})
			continue
		}
		id := s.nextClusterID()
		lat, lon := centerOf(g)
		nodes = append(nodes, ClusterNode{ID: id, Lat: lat, Lon: lon, Count: len(g)})
		s.lastQuery[id] = queryCluster{members: g, zoom: z}
	}
	return nodes
}

// ExpansionZoom returns the zoom level at which the given cluster splits into
// more than one node. The id must come from the immediately preceding Query
// on the current generation; anything else gets ErrStaleCluster.
func (s *SpatialIndex) ExpansionZoom(clusterID uint64) (float64, error) {
	if uint32(clusterID>>32) != s.generation {
		return 0, ErrStaleCluster
	}
	qc, ok := s.lastQuery[clusterID]
	if !ok {
		return 0, ErrStaleCluster
	}
	for z := qc.zoom + 1; float64(z) < s.maxZoom; z++ {
		r := s.radius / (tileExtent * math.Pow(2, float64(z)))
		if len(clusterGreedy(qc.members, r)) > 1 {
			return float64(z), nil
		}
	}
	return s.maxZoom, nil
}

func (s *SpatialIndex) nextClusterID() uint64 {
	s.clusterSeq++
	return uint64(s.generation)<<32 | uint64(s.clusterSeq)
}

func (s *SpatialIndex) queryPoints(bbox Bounds) []ClusterNode {
	var nodes []ClusterNode
	for _, p := range s.points {
		if !bbox.contains(p.lat, p.lon) {
			continue
		}
		nodes = append(nodes, ClusterNode{
			ID:       p.id,
			Lat:      p.lat,
			Lon:      p.lon,
			Count:    1,
			Heading:  p.heading,
			Category: p.category,
		})
		if len(nodes) >= s.maxVisible {
			s.log.Debug().Int("cap", s.maxVisible).Msg("point query truncated at cap")
			break
		}
	}
	return nodes
}

// candidates returns the x-sorted points whose projected position falls
// within the bbox extended by the clustering radius.
func (s *SpatialIndex) candidates(bbox Bounds, r float64) []indexPoint {
	minX := projectX(bbox.MinLon) - r
	maxX := projectX(bbox.MaxLon) + r
	minY := projectY(bbox.MaxLat) - r // y grows southwards
	maxY := projectY(bbox.MinLat) + r

	lo := sort.Search(len(s.points), func(i int) bool { return s.points[i].x >= minX })
	var out []indexPoint
	for i := lo; i < len(s.points) && s.points[i].x <= maxX; i++ {
		p := s.points[i]
		if p.y >= minY && p.y <= maxY {
			out = append(out, p)
		}
	}
	return out
}

// clusterGreedy groups x-sorted points whose pairwise distance is within r,
// scanning left to right the way supercluster-style implementations do.
func clusterGreedy(points []indexPoint, r float64) [][]indexPoint {
	var groups [][]indexPoint
	processed := make([]bool, len(points))
	for i := range points {
		if processed[i] {
			continue
		}
		group := []indexPoint{points[i]}
		processed[i] = true
		for j := i + 1; j < len(points); j++ {
			if points[j].x-points[i].x > r {
				break
			}
			if processed[j] {
				continue
			}
			dx := points[j].x - points[i].x
			dy := points[j].y - points[i].y
			if dx*dx+dy*dy <= r*r {
				group = append(group, points[j])
				processed[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func centerOf(points []indexPoint) (lat, lon float64) {
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.x
		sumY += p.y
	}
	n := float64(len(points))
	return unprojectLat(sumY / n), unprojectLon(sumX / n)
}

func projectX(lon float64) float64 {
	return (lon + 180) / 360
}

func projectY(lat float64) float64 {
	if lat > maxMercLat {
		lat = maxMercLat
	}
	if lat < -maxMercLat {
		lat = -maxMercLat
	}
	sin := math.Sin(lat * math.Pi / 180)
	return 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
}

func unprojectLon(x float64) float64 {
	return x*360 - 180
}

func unprojectLat(y float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y))) * 180 / math.Pi
}
