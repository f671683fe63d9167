package fleet

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"schoolbus-tracker/internal/model"
	"schoolbus-tracker/internal/status"
)

// Row is the list view-model for one trip whose bus has reported a position.
type Row struct {
	Trip         model.Trip
	Position     model.VehiclePosition
	Punctuality  status.Punctuality
	Connectivity status.Connectivity
	Display      status.Display
}

// Rules bundles the two label heuristics applied to every row.
type Rules struct {
	Estimator  *status.Estimator
	Classifier status.Classifier
}

func DefaultRules(loc *time.Location) Rules {
	return Rules{
		Estimator:  status.NewEstimator(status.DefaultLateAfterMinutes, status.DefaultNearStartMeters, loc),
		Classifier: status.NewClassifier(status.DefaultStaleAfter),
	}
}

// BuildRows produces one row per trip whose assigned vehicle has a known
// position, in trip order. Labels are recomputed from now on every call.
func (r Rules) BuildRows(trips []model.Trip, positions []model.VehiclePosition, now time.Time) []Row {
	byVehicle := make(map[string]int, len(positions))
	for i, p := range positions {
		byVehicle[p.VehicleID] = i
	}
	rows := make([]Row, 0, len(trips))
	for _, t := range trips {
		vid := t.VehicleID()
		if vid == "" {
			continue
		}
		idx, ok := byVehicle[vid]
		if !ok {
			continue
		}
		pos := positions[idx]
		pun := r.Estimator.Estimate(t, &pos, now)
		conn := r.Classifier.ClassifyReport(pos.RecordedAt, now)
		rows = append(rows, Row{
			Trip:         t,
			Position:     pos,
			Punctuality:  pun,
			Connectivity: conn,
			Display:      status.Effective(pun, conn),
		})
	}
	return rows
}

// Filter keeps rows whose displayed label passes the status filter and whose
// vehicle id, plate, operator name or route name contains search. Matching is
// case-insensitive on the query exactly as typed; empty matches everything.
func Filter(rows []Row, search string, filter status.Display) []Row {
	fold := cases.Fold()
	q := fold.String(search)
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if !filter.Matches(row.Display) {
			continue
		}
		if q != "" && !row.matches(fold, q) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func (row Row) matches(fold cases.Caser, q string) bool {
	fields := []string{
		row.Position.VehicleID,
		row.Position.PlateNumber,
		row.Trip.Vehicle.PlateNumber,
		row.Trip.Operator.Name,
		row.Trip.Route.Name,
	}
	for _, f := range fields {
		if f != "" && strings.Contains(fold.String(f), q) {
			return true
		}
	}
	return false
}

// CountByDisplay tallies rows per displayed label.
func CountByDisplay(rows []Row) map[status.Display]int {
	counts := map[status.Display]int{
		status.DisplayOnTime:     0,
		status.DisplayLate:       0,
		status.DisplaySignalLost: 0,
	}
	for _, r := range rows {
		counts[r.Display]++
	}
	return counts
}
