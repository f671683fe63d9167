package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"schoolbus-tracker/internal/model"
)

// upcomingLimit bounds the fallback list when no trip runs on the requested day.
const upcomingLimit = 6

func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Store reads trips and bus positions owned by the backend. It never writes.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

type tripRow struct {
	TripID      string         `db:"trip_id"`
	RouteID     sql.NullString `db:"route_id"`
	RouteName   sql.NullString `db:"route_name"`
	BusID       sql.NullString `db:"bus_id"`
	PlateNumber sql.NullString `db:"plate_number"`
	BusStatus   sql.NullString `db:"bus_status"`
	Capacity    sql.NullInt64  `db:"capacity"`
	DriverID    sql.NullString `db:"driver_id"`
	DriverName  sql.NullString `db:"driver_name"`
	StartTime   sql.NullTime   `db:"start_time"`
	EndTime     sql.NullTime   `db:"end_time"`
	Status      sql.NullString `db:"status"`
}

type stopRow struct {
	TripID    string          `db:"trip_id"`
	StopID    string          `db:"stop_id"`
	Name      sql.NullString  `db:"name"`
	StopOrder int             `db:"stop_order"`
	Latitude  sql.NullFloat64 `db:"latitude"`
	Longitude sql.NullFloat64 `db:"longitude"`
}

type positionRow struct {
	BusID       string          `db:"bus_id"`
	PlateNumber sql.NullString  `db:"plate_number"`
	BusStatus   sql.NullString  `db:"bus_status"`
	Latitude    sql.NullFloat64 `db:"latitude"`
	Longitude   sql.NullFloat64 `db:"longitude"`
	RecordedAt  sql.NullTime    `db:"recorded_at"`
}

const tripColumns = `
SELECT t.trip_id::text AS trip_id,
       t.route_id::text AS route_id,
       r.name AS route_name,
       t.bus_id::text AS bus_id,
       b.plate_number,
       b.status AS bus_status,
       b.capacity,
       b.driver_id::text AS driver_id,
       u.name AS driver_name,
       t.start_time,
       t.end_time,
       t.status
FROM trips t
LEFT JOIN routes r ON r.route_id = t.route_id
LEFT JOIN buses b ON b.bus_id = t.bus_id
LEFT JOIN users u ON u.user_id = b.driver_id`

// FetchTrips returns the trips starting on day's date (in day's location)
// ordered by start time, each with its ordered stops. When none start that
// day the next upcoming trips are returned instead.
func (s *Store) FetchTrips(ctx context.Context, day time.Time) ([]model.Trip, error) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	var rows []tripRow
	q := tripColumns + `
WHERE t.start_time >= $1 AND t.start_time < $2
ORDER BY t.start_time, t.trip_id`
	if err := s.db.SelectContext(ctx, &rows, q, from, to); err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	if len(rows) == 0 {
		q = tripColumns + `
WHERE t.start_time >= $1
ORDER BY t.start_time, t.trip_id
LIMIT $2`
		if err := s.db.SelectContext(ctx, &rows, q, from, upcomingLimit); err != nil {
			return nil, fmt.Errorf("query upcoming trips: %w", err)
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.TripID)
	}
	stops, err := s.fetchStops(ctx, ids)
	if err != nil {
		return nil, err
	}

	trips := make([]model.Trip, 0, len(rows))
	for _, r := range rows {
		t := r.toTrip()
		t.Stops = stops[r.TripID]
		trips = append(trips, t)
	}
	return trips, nil
}

func (s *Store) fetchStops(ctx context.Context, tripIDs []string) (map[string][]model.Stop, error) {
	q := `
SELECT ts.trip_id::text AS trip_id,
       s.stop_id::text AS stop_id,
       s.name,
       ts.stop_order,
       s.latitude,
       s.longitude
FROM trip_stops ts
JOIN stops s ON s.stop_id = ts.stop_id
WHERE ts.trip_id::text = ANY($1)
ORDER BY ts.trip_id, ts.stop_order`
	var rows []stopRow
	if err := s.db.SelectContext(ctx, &rows, q, tripIDs); err != nil {
		return nil, fmt.Errorf("query trip stops: %w", err)
	}
	out := make(map[string][]model.Stop, len(tripIDs))
	for _, r := range rows {
		out[r.TripID] = append(out[r.TripID], r.toStop())
	}
	return out, nil
}

// FetchLatestPositions returns the most recent navigation log of every bus.
func (s *Store) FetchLatestPositions(ctx context.Context) ([]model.VehiclePosition, error) {
	q := `
SELECT DISTINCT ON (n.bus_id)
       n.bus_id::text AS bus_id,
       b.plate_number,
       b.status AS bus_status,
       n.latitude,
       n.longitude,
       n.recorded_at
FROM navigation_logs n
LEFT JOIN buses b ON b.bus_id = n.bus_id
ORDER BY n.bus_id, n.recorded_at DESC, n.update_id DESC`
	var rows []positionRow
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("query latest positions: %w", err)
	}
	out := make([]model.VehiclePosition, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPosition())
	}
	return out, nil
}

func (r tripRow) toTrip() model.Trip {
	t := model.Trip{
		TripID: r.TripID,
		Route:  model.Route{RouteID: r.RouteID.String, Name: r.RouteName.String},
		Vehicle: model.Vehicle{
			VehicleID:   r.BusID.String,
			PlateNumber: r.PlateNumber.String,
			Status:      r.BusStatus.String,
			Capacity:    int(r.Capacity.Int64),
		},
		Operator: model.Operator{OperatorID: r.DriverID.String, Name: r.DriverName.String},
		Status:   model.ParseTripStatus(r.Status.String),
	}
	if r.StartTime.Valid {
		t.ScheduledStart = r.StartTime.Time
	}
	if r.EndTime.Valid {
		t.ScheduledEnd = r.EndTime.Time
	}
	return t
}

func (r stopRow) toStop() model.Stop {
	return model.Stop{
		StopID:   r.StopID,
		Name:     r.Name.String,
		Sequence: r.StopOrder,
		Lat:      r.Latitude.Float64,
		Lon:      r.Longitude.Float64,
		HasCoord: r.Latitude.Valid && r.Longitude.Valid,
	}
}

func (r positionRow) toPosition() model.VehiclePosition {
	p := model.VehiclePosition{
		VehicleID:   r.BusID,
		Lat:         r.Latitude.Float64,
		Lon:         r.Longitude.Float64,
		PlateNumber: r.PlateNumber.String,
		Status:      r.BusStatus.String,
	}
	if r.RecordedAt.Valid {
		p.RecordedAt = r.RecordedAt.Time
	}
	return p
}
