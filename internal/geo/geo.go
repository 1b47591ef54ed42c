package geo

import (
	"math"

	"github.com/altiroute/altiroute_core/internal/models"
)

const (
	// EarthRadiusM is the mean Earth radius used for great-circle distances
	EarthRadiusM = 6371000.0

	// DefaultSpacingM is the profile densification spacing
	DefaultSpacingM = 5.0
)

// Distance returns the great-circle distance between two coordinates in
// meters using the haversine formula
func Distance(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusM * c
}

// Interpolate produces an ordered sequence of coordinates from a to b,
// linearly interpolated in lat/lng space at approximately spacing meters
// apart. Both endpoints are always included. If the two points are within
// spacing of each other the result is exactly [a, b].
func Interpolate(a, b models.Coordinate, spacing float64) []models.Coordinate {
	if spacing <= 0 {
		spacing = DefaultSpacingM
	}

	d := Distance(a, b)
	if d <= spacing {
		return []models.Coordinate{a, b}
	}

	n := int(math.Ceil(d / spacing))
	points := make([]models.Coordinate, 0, n+1)
	for i := 0; i <= n; i++ {
		ratio := float64(i) / float64(n)
		points = append(points, models.Coordinate{
			Lat: a.Lat + (b.Lat-a.Lat)*ratio,
			Lng: a.Lng + (b.Lng-a.Lng)*ratio,
		})
	}

	return points
}
