package feed

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbus-tracker/internal/model"
)

var t0 = time.Date(2025, 10, 11, 6, 35, 0, 0, time.UTC)

func report(id string, lat, lon float64, at time.Time) model.VehiclePosition {
	return model.VehiclePosition{VehicleID: id, Lat: lat, Lon: lon, RecordedAt: at}
}

func TestIngestLastWriteWins(t *testing.T) {
	f := New(nil)
	n := f.Ingest([]model.VehiclePosition{
		report("1", 10.775, 106.698, t0),
		report("1", 10.774, 106.695, t0.Add(3*time.Minute)),
	})
	assert.Equal(t, 2, n)

	snap := f.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 10.774, snap[0].Lat)
	assert.Equal(t, 106.695, snap[0].Lon)
}

func TestIngestOlderTimestampStillOverwrites(t *testing.T) {
	f := New(nil)
	f.Ingest([]model.VehiclePosition{report("1", 10.774, 106.695, t0.Add(time.Minute))})
	f.Ingest([]model.VehiclePosition{report("1", 10.775, 106.698, t0)})

	p, ok := f.Position("1")
	require.True(t, ok)
	assert.Equal(t, t0, p.RecordedAt)
	assert.Equal(t, 10.775, p.Lat)
}

func TestIngestSkipsReportsWithoutVehicle(t *testing.T) {
	f := New(nil)
	calls := 0
	f.Subscribe(func([]model.VehiclePosition) { calls++ })

	assert.Equal(t, 0, f.Ingest([]model.VehiclePosition{{Lat: 1, Lon: 1}}))
	assert.Equal(t, 0, f.Len())
	assert.Equal(t, 1, calls, "only the replay on subscribe")
}

func TestSnapshotKeepsFirstSeenOrder(t *testing.T) {
	f := New(nil)
	f.Ingest([]model.VehiclePosition{report("2", 1, 1, t0), report("1", 2, 2, t0)})
	f.Ingest([]model.VehiclePosition{report("2", 3, 3, t0), report("3", 4, 4, t0)})

	var ids []string
	for _, p := range f.Snapshot() {
		ids = append(ids, p.VehicleID)
	}
	assert.Equal(t, []string{"2", "1", "3"}, ids)
}

func TestSubscribeReplaysCurrentSnapshot(t *testing.T) {
	f := New(nil)
	f.Ingest([]model.VehiclePosition{report("1", 10.775, 106.698, t0), report("2", 10.808, 106.689, t0)})

	var got [][]model.VehiclePosition
	unsub := f.Subscribe(func(s []model.VehiclePosition) { got = append(got, s) })
	defer unsub()

	require.Len(t, got, 1, "late subscriber gets the snapshot synchronously")
	assert.Len(t, got[0], 2)

	f.Ingest([]model.VehiclePosition{report("1", 10.776, 106.697, t0.Add(3*time.Second))})
	require.Len(t, got, 2)
	assert.Len(t, got[1], 2, "deliveries carry the full current snapshot")
	assert.Equal(t, 10.776, got[1][0].Lat)
}

func TestSubscribeOnEmptyFeed(t *testing.T) {
	f := New(nil)
	calls := 0
	var last []model.VehiclePosition
	f.Subscribe(func(s []model.VehiclePosition) { calls++; last = s })
	assert.Equal(t, 1, calls)
	assert.Empty(t, last)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := New(nil)
	calls := 0
	unsub := f.Subscribe(func([]model.VehiclePosition) { calls++ })
	f.Ingest([]model.VehiclePosition{report("1", 1, 1, t0)})
	require.Equal(t, 2, calls)

	unsub()
	f.Ingest([]model.VehiclePosition{report("1", 2, 2, t0)})
	f.Ingest([]model.VehiclePosition{report("2", 3, 3, t0)})
	assert.Equal(t, 2, calls)

	// idempotent
	unsub()
}

func TestUnsubscribeFromInsideListener(t *testing.T) {
	f := New(nil)
	calls := 0
	var unsub func()
	unsub = f.Subscribe(func([]model.VehiclePosition) {
		calls++
		if calls == 2 && unsub != nil {
			unsub()
		}
	})
	f.Ingest([]model.VehiclePosition{report("1", 1, 1, t0)})
	f.Ingest([]model.VehiclePosition{report("1", 2, 2, t0)})
	assert.Equal(t, 2, calls)
}

func TestUnsubscribeDuringDeliveryOnAnotherGoroutine(t *testing.T) {
	f := New(nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	unsub := f.Subscribe(func([]model.VehiclePosition) {
		if calls.Add(1) == 2 {
			close(entered)
			<-release
		}
	})

	done := make(chan struct{})
	go func() {
		f.Ingest([]model.VehiclePosition{report("a", 1, 1, t0)})
		close(done)
	}()
	<-entered

	unsubscribed := make(chan struct{})
	go func() {
		unsub()
		close(unsubscribed)
	}()
	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe blocked on an in-flight delivery")
	}

	close(release)
	<-done
	f.Ingest([]model.VehiclePosition{report("b", 2, 2, t0)})
	assert.Equal(t, int32(2), calls.Load(), "replay plus the in-flight delivery only")
}

func TestListenersGetIndependentCopies(t *testing.T) {
	f := New(nil)
	f.Subscribe(func(s []model.VehiclePosition) {
		for i := range s {
			s[i].Lat = -1
		}
	})
	var seen []model.VehiclePosition
	f.Subscribe(func(s []model.VehiclePosition) { seen = s })

	f.Ingest([]model.VehiclePosition{report("1", 10, 106, t0)})
	require.Len(t, seen, 1)
	p, _ := f.Position("1")
	assert.Equal(t, 10.0, p.Lat)
}

type countingMetrics struct {
	ingested, rejected, subscribers, vehicles int
}

func (m *countingMetrics) ReportsIngested(n int) { m.ingested += n }
func (m *countingMetrics) ReportsRejected(n int) { m.rejected += n }
func (m *countingMetrics) SetSubscribers(n int)  { m.subscribers = n }
func (m *countingMetrics) SetVehicles(n int)     { m.vehicles = n }

func TestMetrics(t *testing.T) {
	m := &countingMetrics{}
	f := New(m)
	unsub := f.Subscribe(func([]model.VehiclePosition) {})
	assert.Equal(t, 1, m.subscribers)

	f.Ingest([]model.VehiclePosition{report("1", 1, 1, t0), {}, report("2", 1, 1, t0)})
	assert.Equal(t, 2, m.ingested)
	assert.Equal(t, 1, m.rejected)
	assert.Equal(t, 2, m.vehicles)

	unsub()
	assert.Equal(t, 0, m.subscribers)
}
