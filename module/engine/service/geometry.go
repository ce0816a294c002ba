package service

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
)

const earthRadiusMeters = 6371000

// DistanceMeters returns the great-circle (haversine) distance between
// two coordinates. Coordinates outside the WGS 84 domain fail with an
// invalid-coordinate error.
func DistanceMeters(a, b domain.GeoPoint) (float64, error) {
	if err := ValidatePoint(a); err != nil {
		return 0, err
	}
	if err := ValidatePoint(b); err != nil {
		return 0, err
	}
	return haversine(a.Lat, a.Lon, b.Lat, b.Lon), nil
}

// ValidatePoint checks a coordinate against the WGS 84 domain.
func ValidatePoint(p domain.GeoPoint) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) ||
		p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return domain.InvalidCoordinate(p.Lat, p.Lon)
	}
	return nil
}

// Contains reports whether the point lies within the fence geometry.
// Circle and point fences use distance against the radius; polygon and
// multipolygon fences use even-odd ray casting counted across all rings,
// so holes fall out of ring parity. Pure and safe for concurrent use.
func Contains(gf *domain.Geofence, p domain.GeoPoint) (bool, error) {
	switch gf.Kind {
	case domain.KindCircle, domain.KindPoint:
		dist, err := DistanceMeters(gf.Center, p)
		if err != nil {
			return false, err
		}
		return dist <= gf.RadiusMeters, nil
	case domain.KindPolygon, domain.KindMultiPolygon:
		if err := ValidatePoint(p); err != nil {
			return false, err
		}
		for _, poly := range gf.Polygons {
			if polygonContains(poly, p) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, domain.MalformedGeometry(gf.ID, nil)
	}
}

// circleBoundaryDistance returns how far the point sits from the circle
// boundary (negative inside, positive outside). Used by the tracker's
// accuracy hysteresis.
func circleBoundaryDistance(gf *domain.Geofence, p domain.GeoPoint) (float64, error) {
	dist, err := DistanceMeters(gf.Center, p)
	if err != nil {
		return 0, err
	}
	return dist - gf.RadiusMeters, nil
}

// polygonContains applies the even-odd rule across every ring of the
// polygon: a point crossed by an odd number of rings is inside. Ring 0
// is the shell; further rings flip parity, which is what makes them holes.
func polygonContains(poly *geom.Polygon, p domain.GeoPoint) bool {
	crossings := 0
	for i := 0; i < poly.NumLinearRings(); i++ {
		if pointInRing(poly.LinearRing(i), p) {
			crossings++
		}
	}
	return crossings%2 == 1
}

// pointInRing is the standard ray-casting test: cast a ray east from the
// point and count edge crossings. Works identically for either winding
// direction. GeoJSON coordinate order is (lon, lat).
func pointInRing(ring *geom.LinearRing, p domain.GeoPoint) bool {
	n := ring.NumCoords()
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring.Coord(i).X(), ring.Coord(i).Y()
		xj, yj := ring.Coord(j).X(), ring.Coord(j).Y()
		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lon < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Clamp before Atan2 so antipodal rounding cannot push a past 1.
	if a > 1 {
		a = 1
	}
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
