package trackengine

import "math"

// Viewport is the visible map region the external widget reports: a bounding
// box plus the zoom level it is shown at.
type Viewport struct {
	Bounds Bounds  `json:"bounds"`
	Zoom   float64 `json:"zoom"`
}

// SimilarTo reports whether two viewports are close enough (center distance
// under centerMeters, zoom within zoomDelta) that re-rendering one for the
// other would be redundant.
func (v Viewport) SimilarTo(o Viewport, centerMeters, zoomDelta float64) bool {
	if math.Abs(v.Zoom-o.Zoom) >= zoomDelta {
		return false
	}
	lat1, lon1 := v.Bounds.Center()
	lat2, lon2 := o.Bounds.Center()
	return haversineMeters(lat1, lon1, lat2, lon2) < centerMeters
}

const earthRadiusMeters = 6371000

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := math.Pi / 180
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
