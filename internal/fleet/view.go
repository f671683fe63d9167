// Package fleet composes trips and the position feed into the live tracking
// view: list rows with punctuality and connectivity labels, map markers and
// clusters. Feed updates are coalesced per vehicle and merged into the view
// on a fixed tick so the view is rebuilt at most once per interval.
package fleet

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"schoolbus-tracker/internal/feed"
	"schoolbus-tracker/internal/geo"
	"schoolbus-tracker/internal/model"
	"schoolbus-tracker/internal/status"
)

const DefaultFlushInterval = 200 * time.Millisecond

type Metrics interface {
	FlushObserve(d time.Duration, merged int)
	SetTrips(n int)
	SetRows(counts map[status.Display]int)
	TripRefreshErrInc()
}

type View struct {
	rules   Rules
	now     func() time.Time
	metrics Metrics

	mu       sync.RWMutex
	trips    []model.Trip
	vehicles []model.VehiclePosition
	index    map[string]int // vehicle id -> position in vehicles

	pmu     sync.Mutex
	pending map[string]model.VehiclePosition

	cmu      sync.Mutex
	onChange []func()

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

// NewView builds an empty view. now defaults to time.Now.
func NewView(rules Rules, now func() time.Time, m Metrics) *View {
	if now == nil {
		now = time.Now
	}
	return &View{
		rules:   rules,
		now:     now,
		metrics: m,
		index:   make(map[string]int),
		pending: make(map[string]model.VehiclePosition),
	}
}

// OnChange registers fn to run after every flush that merged updates.
func (v *View) OnChange(fn func()) {
	v.cmu.Lock()
	v.onChange = append(v.onChange, fn)
	v.cmu.Unlock()
}

// Attach subscribes the view to f. The feed replays its snapshot at once, so
// the next flush already has every known vehicle. The returned func detaches.
func (v *View) Attach(f *feed.Feed) (detach func()) {
	return f.Subscribe(v.Queue)
}

// Queue records updates for the next flush. Within one interval the last
// update per vehicle wins.
func (v *View) Queue(batch []model.VehiclePosition) {
	v.pmu.Lock()
	for _, p := range batch {
		if p.VehicleID == "" {
			continue
		}
		v.pending[p.VehicleID] = p
	}
	v.pmu.Unlock()
}

// Pending returns the number of vehicles waiting for the next flush.
func (v *View) Pending() int {
	v.pmu.Lock()
	defer v.pmu.Unlock()
	return len(v.pending)
}

// Flush merges pending updates into the vehicle table: known vehicles are
// replaced in place, new ones appended. It reports whether anything merged.
func (v *View) Flush() bool {
	v.pmu.Lock()
	if len(v.pending) == 0 {
		v.pmu.Unlock()
		return false
	}
	batch := v.pending
	v.pending = make(map[string]model.VehiclePosition, len(batch))
	v.pmu.Unlock()

	start := time.Now()
	v.mu.Lock()
	// append new vehicles in a stable order
	var fresh []model.VehiclePosition
	for id, p := range batch {
		if idx, ok := v.index[id]; ok {
			v.vehicles[idx] = p
			continue
		}
		fresh = append(fresh, p)
	}
	sortByVehicleID(fresh)
	for _, p := range fresh {
		v.index[p.VehicleID] = len(v.vehicles)
		v.vehicles = append(v.vehicles, p)
	}
	v.mu.Unlock()

	if v.metrics != nil {
		v.metrics.FlushObserve(time.Since(start), len(batch))
		v.metrics.SetRows(CountByDisplay(v.Rows("", status.DisplayAll)))
	}
	v.notify()
	return true
}

// Run flushes every interval until ctx is cancelled. The ticker is released
// on return, so no flush runs after teardown.
func (v *View) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Flush()
		}
	}
}

// SetTrips replaces the trip list.
func (v *View) SetTrips(trips []model.Trip) {
	v.mu.Lock()
	v.trips = trips
	v.mu.Unlock()
	if v.metrics != nil {
		v.metrics.SetTrips(len(trips))
	}
	v.notify()
}

func (v *View) Trips() []model.Trip {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]model.Trip, len(v.trips))
	copy(out, v.trips)
	return out
}

// Vehicles returns the merged vehicle table in display order.
func (v *View) Vehicles() []model.VehiclePosition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]model.VehiclePosition, len(v.vehicles))
	copy(out, v.vehicles)
	return out
}

// Rows builds and filters the list rows against the current time.
func (v *View) Rows(search string, filter status.Display) []Row {
	v.mu.RLock()
	rows := v.rules.BuildRows(v.trips, v.vehicles, v.now())
	v.mu.RUnlock()
	return Filter(rows, search, filter)
}

func (v *View) Markers() []Marker {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Markers(v.vehicles, v.trips)
}

func (v *View) Clusters(zoom int) []Cluster {
	return Clusters(v.Markers(), zoom)
}

// TripDetail is the selected-trip panel: its row, next stop and route line.
type TripDetail struct {
	Trip     model.Trip
	Row      *Row
	NextStop *model.Stop
	Polyline [][2]float64
}

func (v *View) TripDetail(tripID string) (TripDetail, bool) {
	v.mu.RLock()
	var trip *model.Trip
	for i := range v.trips {
		if v.trips[i].TripID == tripID {
			t := v.trips[i]
			trip = &t
			break
		}
	}
	if trip == nil {
		v.mu.RUnlock()
		return TripDetail{}, false
	}
	var pos *model.VehiclePosition
	if idx, ok := v.index[trip.VehicleID()]; ok && trip.VehicleID() != "" {
		p := v.vehicles[idx]
		pos = &p
	}
	v.mu.RUnlock()

	d := TripDetail{Trip: *trip, Polyline: geo.Polyline(trip.Stops)}
	if pos != nil {
		rows := v.rules.BuildRows([]model.Trip{*trip}, []model.VehiclePosition{*pos}, v.now())
		if len(rows) == 1 {
			d.Row = &rows[0]
		}
		d.NextStop = geo.NextStop(trip.Stops, geo.PositionPoint(pos))
	}
	return d, true
}

func (v *View) notify() {
	v.cmu.Lock()
	fns := make([]func(), len(v.onChange))
	copy(fns, v.onChange)
	v.cmu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// TripSource loads the trips running on a given day.
type TripSource interface {
	FetchTrips(ctx context.Context, day time.Time) ([]model.Trip, error)
}

// RefreshTrips reloads trips from src. On error the current list is kept.
func (v *View) RefreshTrips(ctx context.Context, src TripSource) error {
	trips, err := src.FetchTrips(ctx, v.now())
	if err != nil {
		if v.metrics != nil {
			v.metrics.TripRefreshErrInc()
		}
		return err
	}
	v.SetTrips(trips)
	return nil
}

// StartRefresher loads trips immediately and then every interval until
// StopRefresher is called or parent is cancelled.
func (v *View) StartRefresher(parent context.Context, src TripSource, interval time.Duration) {
	ctx, cancel := context.WithCancel(parent)
	v.refreshCancel = cancel
	v.refreshWG.Add(1)
	go func() {
		defer v.refreshWG.Done()
		if err := v.RefreshTrips(ctx, src); err != nil {
			log.Printf("refresh trips error: %v", err)
		}
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := v.RefreshTrips(ctx, src); err != nil {
					log.Printf("refresh trips error: %v", err)
				}
			}
		}
	}()
}

func (v *View) StopRefresher() {
	if v.refreshCancel != nil {
		v.refreshCancel()
	}
	v.refreshWG.Wait()
}

func sortByVehicleID(ps []model.VehiclePosition) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].VehicleID < ps[j].VehicleID })
}
