package fleet

import (
	"math"
	"time"

	"schoolbus-tracker/internal/geo"
	"schoolbus-tracker/internal/model"
)

var ict = time.FixedZone("ICT", 7*3600)

func clock(hh, mm, ss int) time.Time {
	return time.Date(2025, 10, 11, hh, mm, ss, 0, ict)
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func northOf(s model.Stop, meters float64) (float64, float64) {
	return s.Lat + meters/geo.EarthRadiusMeters*180/math.Pi, s.Lon
}

func sampleTrips() []model.Trip {
	return []model.Trip{
		{
			TripID:         "1",
			Route:          model.Route{RouteID: "1", Name: "Tuyến 1: Quận 1 - Trường DEF"},
			Vehicle:        model.Vehicle{VehicleID: "51B-12345", PlateNumber: "51B-12345", Status: "ACTIVE"},
			Operator:       model.Operator{OperatorID: "2", Name: "Trần Văn Tài"},
			ScheduledStart: clock(6, 30, 0),
			Status:         model.TripInProgress,
			Stops: []model.Stop{
				{StopID: "1", Name: "Nguyễn Huệ", Sequence: 1, Lat: 10.776889, Lon: 106.700806, HasCoord: true},
				{StopID: "2", Name: "Lý Tự Trọng", Sequence: 2, Lat: 10.77822, Lon: 106.6953, HasCoord: true},
				{StopID: "3", Name: "Trường DEF", Sequence: 3, Lat: 10.7735, Lon: 106.6899, HasCoord: true},
			},
		},
		{
			TripID:         "2",
			Route:          model.Route{RouteID: "2", Name: "Tuyến 2: Bình Thạnh - Trường DEF"},
			Vehicle:        model.Vehicle{VehicleID: "79A-77665", PlateNumber: "79A-77665"},
			Operator:       model.Operator{OperatorID: "3", Name: "Lê Thị Bình"},
			ScheduledStart: clock(6, 45, 0),
			Status:         model.TripPlanned,
			Stops: []model.Stop{
				{StopID: "4", Name: "Phan Văn Trị", Sequence: 1, Lat: 10.81, Lon: 106.6885, HasCoord: true},
				{StopID: "6", Name: "Trường DEF", Sequence: 2, Lat: 10.7735, Lon: 106.6899, HasCoord: true},
			},
		},
		{
			TripID:         "3",
			Route:          model.Route{RouteID: "3", Name: "Tuyến 3"},
			Operator:       model.Operator{Name: "Unassigned"},
			ScheduledStart: clock(7, 0, 0),
		},
	}
}
