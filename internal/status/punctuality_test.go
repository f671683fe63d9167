package status

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"schoolbus-tracker/internal/geo"
	"schoolbus-tracker/internal/model"
)

var saigon = time.FixedZone("ICT", 7*3600)

func at(hh, mm int) time.Time {
	return time.Date(2025, 10, 11, hh, mm, 0, 0, saigon)
}

// north returns a position the given meters due north of the stop.
func north(s model.Stop, meters float64) *model.VehiclePosition {
	dLat := meters / geo.EarthRadiusMeters * 180 / math.Pi
	return &model.VehiclePosition{VehicleID: "51B-12345", Lat: s.Lat + dLat, Lon: s.Lon}
}

func tripAt(start time.Time) model.Trip {
	return model.Trip{
		TripID:         "1",
		ScheduledStart: start,
		Stops: []model.Stop{
			{StopID: "1", Name: "Nguyen Hue", Sequence: 1, Lat: 10.776889, Lon: 106.700806, HasCoord: true},
			{StopID: "3", Name: "School", Sequence: 2, Lat: 10.7735, Lon: 106.6899, HasCoord: true},
		},
	}
}

func TestEstimate(t *testing.T) {
	e := NewEstimator(DefaultLateAfterMinutes, DefaultNearStartMeters, saigon)
	trip := tripAt(at(6, 30))
	first := trip.Stops[0]

	tests := []struct {
		name string
		trip model.Trip
		pos  *model.VehiclePosition
		now  time.Time
		want Punctuality
	}{
		{name: "late and far from first stop", trip: trip, pos: north(first, 1000), now: at(6, 50),
			want: Punctuality{Kind: PunctualityLate, LateMinutes: 20}},
		{name: "late but near first stop", trip: trip, pos: north(first, 500), now: at(6, 50),
			want: Punctuality{Kind: PunctualityOnTime}},
		{name: "far but within grace", trip: trip, pos: north(first, 1000), now: at(6, 35),
			want: Punctuality{Kind: PunctualityOnTime}},
		{name: "one minute past grace", trip: trip, pos: north(first, 1000), now: at(6, 36),
			want: Punctuality{Kind: PunctualityLate, LateMinutes: 6}},
		{name: "before start", trip: trip, pos: north(first, 5000), now: at(6, 0),
			want: Punctuality{Kind: PunctualityOnTime}},
		{name: "no scheduled start", trip: tripAt(time.Time{}), pos: north(first, 1000), now: at(6, 50),
			want: Punctuality{Kind: PunctualityUnknown}},
		{name: "no position", trip: trip, pos: nil, now: at(6, 50),
			want: Punctuality{Kind: PunctualityUnknown}},
		{name: "position without coordinates", trip: trip, pos: &model.VehiclePosition{VehicleID: "x"}, now: at(6, 50),
			want: Punctuality{Kind: PunctualityUnknown}},
		{name: "trip without stops", trip: model.Trip{ScheduledStart: at(6, 30)}, pos: north(first, 1000), now: at(7, 30),
			want: Punctuality{Kind: PunctualityOnTime}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Estimate(tc.trip, tc.pos, tc.now))
		})
	}
}

func TestEstimateUsesMinutesOfDay(t *testing.T) {
	e := NewEstimator(DefaultLateAfterMinutes, DefaultNearStartMeters, saigon)
	trip := tripAt(at(6, 30))
	pos := north(trip.Stops[0], 1000)

	// the date of the schedule is ignored, only the clock time counts
	nextDay := at(6, 50).AddDate(0, 0, 1)
	assert.Equal(t, Punctuality{Kind: PunctualityLate, LateMinutes: 20}, e.Estimate(trip, pos, nextDay))

	// a start stored in UTC is read in the configured location
	utcStart := at(6, 30).UTC()
	assert.Equal(t, Punctuality{Kind: PunctualityLate, LateMinutes: 20}, e.Estimate(tripAt(utcStart), pos, at(6, 50)))

	// crossing midnight is a known limitation: 23:50 start seen at 00:10 is not late
	late := tripAt(at(23, 50))
	assert.Equal(t, PunctualityOnTime, e.Estimate(late, north(late.Stops[0], 1000), at(0, 10).AddDate(0, 0, 1)).Kind)
}

func TestPunctualityLabels(t *testing.T) {
	assert.Equal(t, "late by 20 minutes", Punctuality{Kind: PunctualityLate, LateMinutes: 20}.String())
	assert.Equal(t, "on-time", Punctuality{Kind: PunctualityOnTime}.String())
	assert.Equal(t, "unknown", Punctuality{}.String())

	assert.Equal(t, SeverityWarning, Punctuality{Kind: PunctualityLate}.Severity())
	assert.Equal(t, SeveritySuccess, Punctuality{Kind: PunctualityOnTime}.Severity())
	assert.Equal(t, SeverityDefault, Punctuality{}.Severity())
}
