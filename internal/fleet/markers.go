package fleet

import (
	"math"
	"time"

	"schoolbus-tracker/internal/model"
)

const tileSize = 256.0

// Marker is one bus on the map. Position is [latitude, longitude].
type Marker struct {
	VehicleID   string     `json:"vehicleId"`
	PlateNumber string     `json:"plateNumber,omitempty"`
	Position    [2]float64 `json:"position"`
	RecordedAt  time.Time  `json:"recordedAt"`
	Status      string     `json:"status,omitempty"`
	TripID      string     `json:"tripId,omitempty"`
	DriverName  string     `json:"driverName,omitempty"`
}

// Markers returns a marker for every vehicle with coordinates, enriched with
// the first trip assigned to that vehicle.
func Markers(positions []model.VehiclePosition, trips []model.Trip) []Marker {
	tripOf := make(map[string]model.Trip, len(trips))
	for _, t := range trips {
		vid := t.VehicleID()
		if vid == "" {
			continue
		}
		if _, seen := tripOf[vid]; !seen {
			tripOf[vid] = t
		}
	}
	out := make([]Marker, 0, len(positions))
	for _, p := range positions {
		if !p.HasCoord() {
			continue
		}
		m := Marker{
			VehicleID:   p.VehicleID,
			PlateNumber: p.PlateNumber,
			Position:    [2]float64{p.Lat, p.Lon},
			RecordedAt:  p.RecordedAt,
			Status:      p.Status,
		}
		if t, ok := tripOf[p.VehicleID]; ok {
			m.TripID = t.TripID
			m.DriverName = t.Operator.Name
			if m.PlateNumber == "" {
				m.PlateNumber = t.Vehicle.PlateNumber
			}
			if m.Status == "" {
				m.Status = t.Vehicle.Status
			}
		}
		out = append(out, m)
	}
	return out
}

// Cluster groups markers that overlap on screen at a given zoom.
type Cluster struct {
	Center     [2]float64 `json:"center"`
	Count      int        `json:"count"`
	IconSize   int        `json:"iconSize"`
	Color      string     `json:"color"`
	VehicleIDs []string   `json:"vehicleIds"`

	px, py float64
}

// ClusterRadius is the merge radius in screen pixels for a zoom level.
func ClusterRadius(zoom int) float64 {
	switch {
	case zoom < 13:
		return 60
	case zoom < 15:
		return 50
	default:
		return 40
	}
}

// ClusterIcon returns the icon diameter and background colour for a cluster size.
func ClusterIcon(count int) (int, string) {
	switch {
	case count < 10:
		return 28, "#1976d2"
	case count < 50:
		return 34, "#2e7d32"
	default:
		return 40, "#f57c00"
	}
}

// Clusters greedily assigns each marker, in order, to the first cluster whose
// pixel centroid lies within the zoom's radius, else opens a new cluster.
func Clusters(markers []Marker, zoom int) []Cluster {
	if zoom < 0 {
		zoom = 0
	}
	radius := ClusterRadius(zoom)
	var clusters []Cluster
	for _, m := range markers {
		x, y := project(m.Position[0], m.Position[1], zoom)
		joined := false
		for i := range clusters {
			c := &clusters[i]
			if math.Hypot(c.px-x, c.py-y) > radius {
				continue
			}
			n := float64(c.Count)
			c.px = (c.px*n + x) / (n + 1)
			c.py = (c.py*n + y) / (n + 1)
			c.Center[0] = (c.Center[0]*n + m.Position[0]) / (n + 1)
			c.Center[1] = (c.Center[1]*n + m.Position[1]) / (n + 1)
			c.Count++
			c.VehicleIDs = append(c.VehicleIDs, m.VehicleID)
			joined = true
			break
		}
		if !joined {
			clusters = append(clusters, Cluster{
				Center:     m.Position,
				Count:      1,
				VehicleIDs: []string{m.VehicleID},
				px:         x,
				py:         y,
			})
		}
	}
	for i := range clusters {
		clusters[i].IconSize, clusters[i].Color = ClusterIcon(clusters[i].Count)
	}
	return clusters
}

// project converts lat/lon to Web Mercator world pixels at zoom.
func project(lat, lon float64, zoom int) (x, y float64) {
	scale := tileSize * math.Exp2(float64(zoom))
	const maxLat = 85.05112878
	if lat > maxLat {
		lat = maxLat
	} else if lat < -maxLat {
		lat = -maxLat
	}
	x = (lon + 180) / 360 * scale
	s := math.Sin(lat * math.Pi / 180)
	y = (0.5 - math.Log((1+s)/(1-s))/(4*math.Pi)) * scale
	return x, y
}
