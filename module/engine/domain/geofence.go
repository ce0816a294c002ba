package domain

import (
	"fmt"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

type GeofenceKind string

const (
	KindCircle       GeofenceKind = "circle"
	KindPoint        GeofenceKind = "point"
	KindPolygon      GeofenceKind = "polygon"
	KindMultiPolygon GeofenceKind = "multipolygon"
)

// Geofence is a read-only, eventually consistent copy of a geofence
// definition owned by the CRUD system. Circle and point fences carry
// Center/RadiusMeters; polygon and multipolygon fences carry Polygons.
// A DwellThreshold of zero disables dwell detection for the fence.
type Geofence struct {
	ID             string
	AccountID      string
	Kind           GeofenceKind
	Center         GeoPoint
	RadiusMeters   float64
	Polygons       []*geom.Polygon
	Active         bool
	DwellThreshold time.Duration
}

// DecodeGeometry parses a GeoJSON geometry into the fence's Polygons and
// enforces the ring invariants (at least 4 coordinates per ring, closed).
// Returns a malformed-geometry error for anything else; callers skip the
// fence rather than failing the whole account load.
func (g *Geofence) DecodeGeometry(raw []byte) error {
	var t geom.T
	if err := geojson.Unmarshal(raw, &t); err != nil {
		return MalformedGeometry(g.ID, fmt.Errorf("decode geojson: %w", err))
	}

	switch geo := t.(type) {
	case *geom.Polygon:
		if err := validatePolygon(geo); err != nil {
			return MalformedGeometry(g.ID, err)
		}
		g.Polygons = []*geom.Polygon{geo}
	case *geom.MultiPolygon:
		if geo.NumPolygons() == 0 {
			return MalformedGeometry(g.ID, fmt.Errorf("multipolygon has no polygons"))
		}
		polys := make([]*geom.Polygon, 0, geo.NumPolygons())
		for i := 0; i < geo.NumPolygons(); i++ {
			p := geo.Polygon(i)
			if err := validatePolygon(p); err != nil {
				return MalformedGeometry(g.ID, err)
			}
			polys = append(polys, p)
		}
		g.Polygons = polys
	default:
		return MalformedGeometry(g.ID, fmt.Errorf("unsupported geometry type %T", t))
	}
	return nil
}

// Validate checks the kind/geometry invariants after decoding.
func (g *Geofence) Validate() error {
	switch g.Kind {
	case KindCircle:
		if g.RadiusMeters <= 0 {
			return MalformedGeometry(g.ID, fmt.Errorf("circle radius must be positive, got %f", g.RadiusMeters))
		}
	case KindPoint:
		if g.RadiusMeters < 0 {
			return MalformedGeometry(g.ID, fmt.Errorf("point radius must not be negative, got %f", g.RadiusMeters))
		}
	case KindPolygon, KindMultiPolygon:
		if len(g.Polygons) == 0 {
			return MalformedGeometry(g.ID, fmt.Errorf("%s fence has no decoded rings", g.Kind))
		}
	default:
		return MalformedGeometry(g.ID, fmt.Errorf("unknown fence kind %q", g.Kind))
	}
	return nil
}

// DwellEnabled reports whether the fence has dwell detection configured.
func (g *Geofence) DwellEnabled() bool {
	return g.DwellThreshold > 0
}

func validatePolygon(p *geom.Polygon) error {
	if p.NumLinearRings() == 0 {
		return fmt.Errorf("polygon has no rings")
	}
	for i := 0; i < p.NumLinearRings(); i++ {
		ring := p.LinearRing(i)
		n := ring.NumCoords()
		if n < 4 {
			return fmt.Errorf("ring %d has %d coordinates, need at least 4", i, n)
		}
		first, last := ring.Coord(0), ring.Coord(n-1)
		if first.X() != last.X() || first.Y() != last.Y() {
			return fmt.Errorf("ring %d is not closed", i)
		}
	}
	return nil
}
