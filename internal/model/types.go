package model

import (
	"strings"
	"time"
)

type TripStatus string

const (
	TripPlanned    TripStatus = "planned"
	TripInProgress TripStatus = "in-progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
	TripUnknown    TripStatus = ""
)

// ParseTripStatus normalises the backend's status codes (SCHEDULED, RUNNING, ...).
func ParseTripStatus(code string) TripStatus {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "PLANNED", "SCHEDULED":
		return TripPlanned
	case "IN_PROGRESS", "IN-PROGRESS", "RUNNING", "LATE":
		return TripInProgress
	case "COMPLETED", "DONE":
		return TripCompleted
	case "CANCELLED", "CANCELED":
		return TripCancelled
	default:
		return TripUnknown
	}
}

type Stop struct {
	StopID   string
	Name     string
	Sequence int // position within the trip, 1-based
	Lat      float64
	Lon      float64
	HasCoord bool
}

type Route struct {
	RouteID string
	Name    string
}

type Operator struct {
	OperatorID string
	Name       string
}

type Vehicle struct {
	VehicleID   string
	PlateNumber string
	Status      string // ACTIVE, INACTIVE, MAINTENANCE
	Capacity    int
}

type Trip struct {
	TripID         string
	Route          Route
	Vehicle        Vehicle
	Operator       Operator
	ScheduledStart time.Time // zero when the schedule has no start time
	ScheduledEnd   time.Time
	Status         TripStatus
	Stops          []Stop // ordered by Sequence; fixed once the trip exists
}

// VehicleID is the id of the assigned bus, empty when none is assigned.
func (t Trip) VehicleID() string { return t.Vehicle.VehicleID }

// FirstStop returns the origin stop, or nil for a trip without stops.
func (t Trip) FirstStop() *Stop {
	if len(t.Stops) == 0 {
		return nil
	}
	s := t.Stops[0]
	return &s
}

// VehiclePosition is the latest report for one vehicle. A newer delivery replaces it wholesale.
type VehiclePosition struct {
	VehicleID  string    `json:"vehicleId"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lng"`
	RecordedAt time.Time `json:"recordedAt"`

	// Optional vehicle metadata carried by seeded positions.
	PlateNumber string `json:"plateNumber,omitempty"`
	Status      string `json:"status,omitempty"`
}

// HasCoord reports whether the position carries usable coordinates.
func (p VehiclePosition) HasCoord() bool {
	return p.Lat != 0 && p.Lon != 0
}
