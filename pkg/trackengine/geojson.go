package trackengine

import geojson "github.com/paulmach/go.geojson"

// featureCollection converts query results to GeoJSON. Clusters carry the
// conventional cluster/cluster_id/point_count properties so standard map
// styles pick them up unchanged.
func featureCollection(nodes []ClusterNode) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, n := range nodes {
		f := geojson.NewPointFeature([]float64{n.Lon, n.Lat})
		if n.IsCluster() {
			f.SetProperty("cluster", true)
			f.SetProperty("cluster_id", n.ID)
			f.SetProperty("point_count", n.Count)
		} else {
			f.SetProperty("id", n.ID)
			f.SetProperty("heading", n.Heading)
			f.SetProperty("category", n.Category)
		}
		fc.AddFeature(f)
	}
	return fc
}
