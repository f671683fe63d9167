// Package status derives the display labels shown for a bus on the live map:
// a punctuality label from the trip schedule and a connectivity label from
// the age of the last position report. Both are pure functions of the inputs
// and the supplied current time.
package status

import (
	"fmt"
	"time"

	"schoolbus-tracker/internal/geo"
	"schoolbus-tracker/internal/model"
)

const (
	DefaultLateAfterMinutes = 5
	DefaultNearStartMeters  = 800.0
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDefault Severity = "default"
)

type PunctualityKind int

const (
	PunctualityUnknown PunctualityKind = iota
	PunctualityOnTime
	PunctualityLate
)

// Punctuality is a qualitative UI label, not an ETA.
type Punctuality struct {
	Kind        PunctualityKind
	LateMinutes int // set only for PunctualityLate
}

func (p Punctuality) Severity() Severity {
	switch p.Kind {
	case PunctualityOnTime:
		return SeveritySuccess
	case PunctualityLate:
		return SeverityWarning
	default:
		return SeverityDefault
	}
}

func (p Punctuality) String() string {
	switch p.Kind {
	case PunctualityOnTime:
		return "on-time"
	case PunctualityLate:
		return fmt.Sprintf("late by %d minutes", p.LateMinutes)
	default:
		return "unknown"
	}
}

func (p Punctuality) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Estimator flags a trip late only when the bus is behind schedule and still
// far from the trip's first stop. A bus near the first stop is on time no
// matter how late the clock says it is.
type Estimator struct {
	LateAfterMinutes int
	NearStartMeters  float64
	// Location is where minutes-of-day are read. Nil keeps each time's own location.
	Location *time.Location
}

func NewEstimator(lateAfterMinutes int, nearStartMeters float64, loc *time.Location) *Estimator {
	return &Estimator{LateAfterMinutes: lateAfterMinutes, NearStartMeters: nearStartMeters, Location: loc}
}

// Estimate compares wall-clock minutes since midnight, so trips that cross
// midnight relative to their schedule are not handled.
func (e *Estimator) Estimate(trip model.Trip, pos *model.VehiclePosition, now time.Time) Punctuality {
	if trip.ScheduledStart.IsZero() || pos == nil || !pos.HasCoord() {
		return Punctuality{Kind: PunctualityUnknown}
	}
	lateMinutes := e.minutesOfDay(now) - e.minutesOfDay(trip.ScheduledStart)

	farFromStart := false
	if start := geo.StopPoint(trip.FirstStop()); start != nil {
		farFromStart = geo.Distance(geo.PositionPoint(pos), start) > e.NearStartMeters
	}
	if lateMinutes > e.LateAfterMinutes && farFromStart {
		return Punctuality{Kind: PunctualityLate, LateMinutes: lateMinutes}
	}
	return Punctuality{Kind: PunctualityOnTime}
}

func (e *Estimator) minutesOfDay(t time.Time) int {
	if e.Location != nil {
		t = t.In(e.Location)
	}
	return t.Hour()*60 + t.Minute()
}
