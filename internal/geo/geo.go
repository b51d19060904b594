// Package geo holds the spherical helpers shared by the server, the
// interpolator and the producers.
package geo

import (
	"math"

	"github.com/ukydev/vahan-live/internal/models"
)

// EarthRadiusMeters is the mean earth radius used by the haversine formula.
const EarthRadiusMeters = 6371e3

// zeroDistance is the threshold below which two points are treated as equal.
const zeroDistance = 1e-9

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b models.Position) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return EarthRadiusMeters * c
}

// BearingDegrees returns the initial bearing from a to b in [0,360).
// ok is false when a and b coincide; callers keep their previous heading.
func BearingDegrees(a, b models.Position) (deg float64, ok bool) {
	if math.Abs(a.Lat-b.Lat) < zeroDistance && math.Abs(a.Lng-b.Lng) < zeroDistance {
		return 0, false
	}
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	return NormalizeHeading(toDeg(math.Atan2(y, x))), true
}

// NormalizeHeading maps any angle onto [0,360).
func NormalizeHeading(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// ShortestRotationDelta returns the signed delta in (-180,180] that turns
// from onto to along the shorter arc.
func ShortestRotationDelta(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// Lerp blends two positions linearly in lat/lng space.
func Lerp(a, b models.Position, t float64) models.Position {
	return models.Position{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}

// NearestStop returns the stop closest to pos. ok is false for an empty list.
func NearestStop(pos models.Position, stops []models.Stop) (stop models.Stop, meters float64, ok bool) {
	if len(stops) == 0 {
		return models.Stop{}, 0, false
	}
	best := -1
	bestDist := math.Inf(1)
	for i, s := range stops {
		d := DistanceMeters(pos, models.Position{Lat: s.Lat, Lng: s.Lng})
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return stops[best], bestDist, true
}
