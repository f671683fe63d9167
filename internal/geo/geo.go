package geo

import (
	"math"

	"github.com/golang/geo/s2"

	"schoolbus-tracker/internal/model"
)

const EarthRadiusMeters = 6371000.0

// Unknown is the distance reported when either endpoint is missing.
var Unknown = math.Inf(1)

type Point struct {
	Lat float64
	Lon float64
}

// StopPoint returns the stop's coordinates, or nil when the stop has none.
func StopPoint(s *model.Stop) *Point {
	if s == nil || !s.HasCoord {
		return nil
	}
	return &Point{Lat: s.Lat, Lon: s.Lon}
}

// PositionPoint returns the report's coordinates, or nil when it has none.
func PositionPoint(p *model.VehiclePosition) *Point {
	if p == nil || !p.HasCoord() {
		return nil
	}
	return &Point{Lat: p.Lat, Lon: p.Lon}
}

// Distance returns the great-circle (haversine) distance in meters, or Unknown
// when a or b is nil.
func Distance(a, b *Point) float64 {
	if a == nil || b == nil {
		return Unknown
	}
	if math.IsNaN(a.Lat) || math.IsNaN(a.Lon) || math.IsNaN(b.Lat) || math.IsNaN(b.Lon) {
		return Unknown
	}
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// NearestStop returns the index of the stop closest to at, or -1 if no stop
// has a finite distance.
func NearestStop(stops []model.Stop, at *Point) int {
	best := -1
	bestD := Unknown
	for i := range stops {
		d := Distance(at, StopPoint(&stops[i]))
		if d < bestD {
			bestD = d
			best = i
		}
	}
	return best
}

// NextStop infers the stop the vehicle is heading to: the one after the
// nearest stop, clamped to the last stop of the sequence.
func NextStop(stops []model.Stop, at *Point) *model.Stop {
	if len(stops) == 0 || at == nil {
		return nil
	}
	idx := NearestStop(stops, at)
	if idx < 0 {
		idx = 0
	}
	next := idx + 1
	if next > len(stops)-1 {
		next = len(stops) - 1
	}
	s := stops[next]
	return &s
}

// Polyline returns the [lat, lng] pairs of the stops that have coordinates, in stop order.
func Polyline(stops []model.Stop) [][2]float64 {
	line := make([][2]float64, 0, len(stops))
	for _, s := range stops {
		if !s.HasCoord {
			continue
		}
		line = append(line, [2]float64{s.Lat, s.Lon})
	}
	return line
}
