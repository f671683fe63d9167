package sim

import (
	"schoolbus-tracker/internal/geo"
	"schoolbus-tracker/internal/model"
)

// path is the polyline through a trip's stops with cumulative distances.
type path struct {
	pts []geo.Point
	cum []float64 // meters from the first point
}

// newPath skips stops without coordinates.
func newPath(stops []model.Stop) path {
	var p path
	for i := range stops {
		pt := geo.StopPoint(&stops[i])
		if pt == nil {
			continue
		}
		d := 0.0
		if n := len(p.pts); n > 0 {
			d = p.cum[n-1] + geo.Distance(&p.pts[n-1], pt)
		}
		p.pts = append(p.pts, *pt)
		p.cum = append(p.cum, d)
	}
	return p
}

func (p path) total() float64 {
	if len(p.cum) == 0 {
		return 0
	}
	return p.cum[len(p.cum)-1]
}

// at returns the point dist meters along the path, clamped to its ends.
func (p path) at(dist float64) (lat, lon float64) {
	n := len(p.pts)
	if n == 0 {
		return 0, 0
	}
	if dist <= 0 || n == 1 {
		return p.pts[0].Lat, p.pts[0].Lon
	}
	if dist >= p.cum[n-1] {
		return p.pts[n-1].Lat, p.pts[n-1].Lon
	}
	i := 0
	for i+1 < n && p.cum[i+1] < dist {
		i++
	}
	a, b := p.pts[i], p.pts[i+1]
	seg := p.cum[i+1] - p.cum[i]
	if seg <= 0 {
		return a.Lat, a.Lon
	}
	f := (dist - p.cum[i]) / seg
	return a.Lat + (b.Lat-a.Lat)*f, a.Lon + (b.Lon-a.Lon)*f
}
