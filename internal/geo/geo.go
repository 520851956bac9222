// Package geo holds geohash cell helpers for driver lookups.
package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"ridehail/internal/domain"
)

// CellPrecision is the geohash length stored on driver sessions
// (~1.2km x 0.6km cells).
const CellPrecision uint = 6

const earthRadiusKm = 6371.0

// Cell encodes c at CellPrecision.
func Cell(c domain.Coordinates) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lng, CellPrecision)
}

// precisionFor picks the longest geohash whose cell is at least radiusKm
// wide, so the cell plus its neighbors covers the search circle.
func precisionFor(radiusKm float64) uint {
	// approximate cell widths at the equator, in km
	widths := []float64{5000, 1250, 156, 39, 4.9, 1.2}
	p := uint(1)
	for i, w := range widths {
		if w >= radiusKm {
			p = uint(i + 1)
		}
	}
	return p
}

// CoveringCells returns the prefixes to scan for points within radiusKm of
// center: the center cell and its eight neighbors.
func CoveringCells(center domain.Coordinates, radiusKm float64) []string {
	p := precisionFor(radiusKm)
	h := geohash.EncodeWithPrecision(center.Lat, center.Lng, p)
	return append([]string{h}, geohash.Neighbors(h)...)
}

// DistanceKm is the haversine distance between a and b.
func DistanceKm(a, b domain.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
