package tiles

import "math"

// Key addresses one raster tile under the standard web-map tiling scheme.
type Key struct {
	Zoom int `json:"zoom"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

// LatLonToTile returns the tile containing the given coordinate at a zoom
// level.
func LatLonToTile(lat, lon float64, zoom int) (x, y int) {
	n := math.Exp2(float64(zoom))
	x = int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))
	return x, y
}

// TileToLatLon returns the coordinate of the tile's north-west corner.
func TileToLatLon(x, y, zoom int) (lat, lon float64) {
	n := math.Exp2(float64(zoom))
	lon = float64(x)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh((1.0 - 2.0*float64(y)/n) * math.Pi))
	lat = latRad * 180.0 / math.Pi
	return lat, lon
}
