package api

import (
	"time"

	"schoolbus-tracker/internal/fleet"
	"schoolbus-tracker/internal/model"
	"schoolbus-tracker/internal/status"
)

// RowView is one line of the fleet list as the dashboard renders it.
type RowView struct {
	TripID         string           `json:"tripId"`
	RouteName      string           `json:"routeName"`
	TripStatus     model.TripStatus `json:"tripStatus"`
	ScheduledStart *time.Time       `json:"scheduledStart,omitempty"`
	VehicleID      string           `json:"vehicleId"`
	PlateNumber    string           `json:"plateNumber"`
	DriverName     string           `json:"driverName"`
	Lat            float64          `json:"lat"`
	Lng            float64          `json:"lng"`
	RecordedAt     *time.Time       `json:"recordedAt,omitempty"`
	Punctuality    string           `json:"punctuality"`
	LateMinutes    int              `json:"lateMinutes,omitempty"`
	Connectivity   string           `json:"connectivity"`
	Status         status.Display   `json:"status"`
	Severity       status.Severity  `json:"severity"`
}

// FleetPayload is the list response. Counts cover every row before the
// search and status filter.
type FleetPayload struct {
	Type   string                 `json:"type"`
	Rows   []RowView              `json:"rows"`
	Counts map[status.Display]int `json:"counts"`
	Total  int                    `json:"total"`
}

type StopView struct {
	StopID   string   `json:"stopId"`
	Name     string   `json:"name"`
	Sequence int      `json:"sequence"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

type TripDetailView struct {
	TripID         string           `json:"tripId"`
	RouteName      string           `json:"routeName"`
	TripStatus     model.TripStatus `json:"tripStatus"`
	ScheduledStart *time.Time       `json:"scheduledStart,omitempty"`
	ScheduledEnd   *time.Time       `json:"scheduledEnd,omitempty"`
	VehicleID      string           `json:"vehicleId,omitempty"`
	PlateNumber    string           `json:"plateNumber,omitempty"`
	DriverName     string           `json:"driverName,omitempty"`
	Stops          []StopView       `json:"stops"`
	NextStop       *StopView        `json:"nextStop,omitempty"`
	Polyline       [][2]float64     `json:"polyline"`
	Row            *RowView         `json:"row,omitempty"`
}

func rowView(r fleet.Row) RowView {
	plate := r.Position.PlateNumber
	if plate == "" {
		plate = r.Trip.Vehicle.PlateNumber
	}
	return RowView{
		TripID:         r.Trip.TripID,
		RouteName:      r.Trip.Route.Name,
		TripStatus:     r.Trip.Status,
		ScheduledStart: timePtr(r.Trip.ScheduledStart),
		VehicleID:      r.Position.VehicleID,
		PlateNumber:    plate,
		DriverName:     r.Trip.Operator.Name,
		Lat:            r.Position.Lat,
		Lng:            r.Position.Lon,
		RecordedAt:     timePtr(r.Position.RecordedAt),
		Punctuality:    r.Punctuality.String(),
		LateMinutes:    r.Punctuality.LateMinutes,
		Connectivity:   r.Connectivity.String(),
		Status:         r.Display,
		Severity:       r.Display.Severity(),
	}
}

func fleetPayload(all []fleet.Row, search string, filter status.Display) FleetPayload {
	rows := fleet.Filter(all, search, filter)
	out := FleetPayload{
		Type:   "fleet",
		Rows:   make([]RowView, 0, len(rows)),
		Counts: fleet.CountByDisplay(all),
		Total:  len(all),
	}
	for _, r := range rows {
		out.Rows = append(out.Rows, rowView(r))
	}
	return out
}

// FleetRenderer renders the fleet list of v for one filter. It feeds the
// websocket hub.
func FleetRenderer(v *fleet.View) func(search string, filter status.Display) any {
	return func(search string, filter status.Display) any {
		return fleetPayload(v.Rows("", status.DisplayAll), search, filter)
	}
}

func stopView(s model.Stop) StopView {
	out := StopView{StopID: s.StopID, Name: s.Name, Sequence: s.Sequence}
	if s.HasCoord {
		lat, lng := s.Lat, s.Lon
		out.Lat, out.Lng = &lat, &lng
	}
	return out
}

func tripDetailView(d fleet.TripDetail) TripDetailView {
	t := d.Trip
	out := TripDetailView{
		TripID:         t.TripID,
		RouteName:      t.Route.Name,
		TripStatus:     t.Status,
		ScheduledStart: timePtr(t.ScheduledStart),
		ScheduledEnd:   timePtr(t.ScheduledEnd),
		VehicleID:      t.VehicleID(),
		PlateNumber:    t.Vehicle.PlateNumber,
		DriverName:     t.Operator.Name,
		Stops:          make([]StopView, 0, len(t.Stops)),
		Polyline:       d.Polyline,
	}
	if out.Polyline == nil {
		out.Polyline = [][2]float64{}
	}
	for _, s := range t.Stops {
		out.Stops = append(out.Stops, stopView(s))
	}
	if d.NextStop != nil {
		next := stopView(*d.NextStop)
		out.NextStop = &next
	}
	if d.Row != nil {
		row := rowView(*d.Row)
		out.Row = &row
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
