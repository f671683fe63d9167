// Package sim drives demo buses along their trips' stop sequences and
// publishes their positions, standing in for the on-board GPS units.
package sim

import (
	"context"
	"log"
	"sync"
	"time"

	mmetrics "schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/model"
)

// cruiseSpeed is used to size trips that have no scheduled end, in m/s.
const cruiseSpeed = 8.0

type TripSource interface {
	FetchTrips(ctx context.Context, day time.Time) ([]model.Trip, error)
}

type Publisher interface {
	PublishPosition(p model.VehiclePosition) error
}

type Manager struct {
	src             TripSource
	pub             Publisher
	publishInterval time.Duration
	speedMultiplier float64
	tz              *time.Location
	refreshInterval time.Duration
	metrics         *mmetrics.Collector
	now             func() time.Time

	mu       sync.Mutex
	running  map[string]context.CancelFunc // tripID -> cancel
	finished map[string]struct{}           // trips that reached their last stop
	wg       sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

func NewManager(src TripSource, pub Publisher, publishInterval time.Duration, speedMultiplier float64, tz *time.Location, refreshInterval time.Duration, metrics *mmetrics.Collector) *Manager {
	if speedMultiplier <= 0 {
		speedMultiplier = 1
	}
	if tz == nil {
		tz = time.Local
	}
	return &Manager{
		src:             src,
		pub:             pub,
		publishInterval: publishInterval,
		speedMultiplier: speedMultiplier,
		tz:              tz,
		refreshInterval: refreshInterval,
		metrics:         metrics,
		now:             time.Now,
		running:         make(map[string]context.CancelFunc),
		finished:        make(map[string]struct{}),
	}
}

// Start launches every trip in trips that can be simulated now. A trip that
// already reached its last stop is never started again.
func (m *Manager) Start(ctx context.Context, trips []model.Trip) {
	now := m.now().In(m.tz)
	for _, t := range trips {
		if !simulatable(t, now) {
			continue
		}
		m.startTrip(ctx, t, now)
	}
}

// simulatable reports whether t has a bus, a route to follow and has not
// finished or been cancelled.
func simulatable(t model.Trip, now time.Time) bool {
	if t.VehicleID() == "" {
		return false
	}
	if t.Status == model.TripCompleted || t.Status == model.TripCancelled {
		return false
	}
	if !t.ScheduledEnd.IsZero() && now.After(t.ScheduledEnd) {
		return false
	}
	return len(newPath(t.Stops).pts) > 0
}

func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) startTrip(parent context.Context, t model.Trip, now time.Time) {
	m.mu.Lock()
	if _, exists := m.running[t.TripID]; exists {
		m.mu.Unlock()
		return
	}
	if _, done := m.finished[t.TripID]; done {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[t.TripID] = cancel
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.TripsStarted.Inc()
		m.metrics.ActiveTrips.Set(float64(len(m.running)))
	}
	m.mu.Unlock()

	start := t.ScheduledStart
	if start.IsZero() || start.After(now) {
		start = now
	}
	log.Printf("starting trip %s (bus %s, route %s) at %s", t.TripID, t.VehicleID(), t.Route.Name, start.Format(time.RFC3339))
	go func() {
		defer m.wg.Done()
		err := m.runTrip(ctx, t, start)
		if err != nil && ctx.Err() == nil {
			log.Printf("trip %s error: %v", t.TripID, err)
		}
		m.mu.Lock()
		delete(m.running, t.TripID)
		if err == nil {
			m.finished[t.TripID] = struct{}{}
		}
		if m.metrics != nil {
			m.metrics.TripsFinished.Inc()
			m.metrics.ActiveTrips.Set(float64(len(m.running)))
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) runTrip(ctx context.Context, t model.Trip, start time.Time) error {
	p := newPath(t.Stops)
	duration := tripDuration(t, start, p.total())

	tick := time.NewTicker(m.publishInterval)
	defer tick.Stop()

	nextStop := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			tickStart := time.Now()
			now := m.now().In(m.tz)
			frac := progress(start, now, duration, m.speedMultiplier)
			dist := frac * p.total()
			for nextStop < len(p.cum) && dist >= p.cum[nextStop] {
				log.Printf("trip %s reached stop %d/%d", t.TripID, nextStop+1, len(p.cum))
				nextStop++
			}
			lat, lon := p.at(dist)

			pos := model.VehiclePosition{
				VehicleID:   t.VehicleID(),
				Lat:         lat,
				Lon:         lon,
				RecordedAt:  now,
				PlateNumber: t.Vehicle.PlateNumber,
				Status:      t.Vehicle.Status,
			}
			if err := m.pub.PublishPosition(pos); err != nil {
				log.Printf("publish error for %s: %v", t.TripID, err)
			}
			if m.metrics != nil {
				m.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
			}
			if frac >= 1 {
				log.Printf("finished trip %s at %s", t.TripID, now.Format(time.RFC3339))
				return nil
			}
		}
	}
}

// tripDuration is the scheduled run time, or the time a bus at cruiseSpeed
// needs for the route when the schedule has no end.
func tripDuration(t model.Trip, start time.Time, meters float64) time.Duration {
	if !t.ScheduledEnd.IsZero() && t.ScheduledEnd.After(start) {
		return t.ScheduledEnd.Sub(start)
	}
	d := time.Duration(meters / cruiseSpeed * float64(time.Second))
	if d < time.Minute {
		d = time.Minute
	}
	return d
}

// progress is the completed fraction of the trip at now, in [0, 1].
func progress(start, now time.Time, duration time.Duration, speed float64) float64 {
	if duration <= 0 {
		return 1
	}
	elapsed := float64(now.Sub(start)) * speed
	frac := elapsed / float64(duration)
	if frac < 0 {
		return 0
	}
	if frac > 1 {
		return 1
	}
	return frac
}

func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// StartRefresher launches a background loop that periodically fetches the
// day's trips and starts those not yet running.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.refreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RefreshActive(ctx); err != nil {
					log.Printf("refresh trips error: %v", err)
				}
			}
		}
	}()
}

func (m *Manager) RefreshActive(ctx context.Context) error {
	trips, err := m.src.FetchTrips(ctx, m.now().In(m.tz))
	if err != nil {
		return err
	}
	m.Start(ctx, trips)
	return nil
}
