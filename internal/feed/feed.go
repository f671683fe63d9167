// Package feed keeps the latest known position of every bus and fans the
// current snapshot out to subscribers whenever new reports arrive.
package feed

import (
	"sync"
	"sync/atomic"

	"schoolbus-tracker/internal/model"
)

// Listener receives the full current snapshot. It runs on the ingesting
// goroutine and must not call Ingest or Subscribe; Snapshot and unsubscribe
// handles are safe to call from it.
type Listener func(snapshot []model.VehiclePosition)

type Metrics interface {
	ReportsIngested(n int)
	ReportsRejected(n int)
	SetSubscribers(n int)
	SetVehicles(n int)
}

type subscription struct {
	fn     Listener
	active atomic.Bool
}

// Feed is last-write-wins per vehicle by arrival order: a report with an
// older timestamp still replaces the stored one if it is delivered later.
type Feed struct {
	deliver sync.Mutex // serialises ingest+delivery so each listener sees arrival order

	mu        sync.Mutex
	positions map[string]model.VehiclePosition
	order     []string // vehicle ids in first-seen order
	subs      map[uint64]*subscription
	nextID    uint64

	metrics Metrics
}

func New(m Metrics) *Feed {
	return &Feed{
		positions: make(map[string]model.VehiclePosition),
		subs:      make(map[uint64]*subscription),
		metrics:   m,
	}
}

// Ingest stores every report with a vehicle id and notifies all current
// subscribers once. It returns the number of reports stored.
func (f *Feed) Ingest(batch []model.VehiclePosition) int {
	f.deliver.Lock()
	defer f.deliver.Unlock()

	f.mu.Lock()
	stored := 0
	for _, p := range batch {
		if p.VehicleID == "" {
			continue
		}
		if _, ok := f.positions[p.VehicleID]; !ok {
			f.order = append(f.order, p.VehicleID)
		}
		f.positions[p.VehicleID] = p
		stored++
	}
	snap := f.snapshotLocked()
	subs := make([]*subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.ReportsIngested(stored)
		if rejected := len(batch) - stored; rejected > 0 {
			f.metrics.ReportsRejected(rejected)
		}
		f.metrics.SetVehicles(len(snap))
	}
	if stored == 0 {
		return 0
	}
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		s.fn(clone(snap))
	}
	return stored
}

// Subscribe registers fn and immediately replays the current snapshot to it,
// so a late subscriber is never left empty until the next report. The
// returned function unsubscribes: no Ingest that starts after it returns
// reaches fn. It does not wait for a delivery already running on another
// goroutine, which may still complete once.
func (f *Feed) Subscribe(fn Listener) (unsubscribe func()) {
	f.deliver.Lock()
	defer f.deliver.Unlock()

	s := &subscription{fn: fn}
	s.active.Store(true)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = s
	snap := f.snapshotLocked()
	n := len(f.subs)
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.SetSubscribers(n)
	}
	fn(snap)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			f.mu.Lock()
			delete(f.subs, id)
			n := len(f.subs)
			f.mu.Unlock()
			if f.metrics != nil {
				f.metrics.SetSubscribers(n)
			}
		})
	}
}

// Snapshot returns the latest position of every vehicle in first-seen order.
func (f *Feed) Snapshot() []model.VehiclePosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Position returns the latest report for one vehicle.
func (f *Feed) Position(vehicleID string) (model.VehiclePosition, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[vehicleID]
	return p, ok
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.positions)
}

func (f *Feed) snapshotLocked() []model.VehiclePosition {
	out := make([]model.VehiclePosition, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.positions[id])
	}
	return out
}

func clone(in []model.VehiclePosition) []model.VehiclePosition {
	out := make([]model.VehiclePosition, len(in))
	copy(out, in)
	return out
}
