package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbus-tracker/internal/status"
)

func TestAdapters(t *testing.T) {
	c := NewCollector(200*time.Millisecond, 30*time.Second)

	Feed{c}.ReportsIngested(3)
	Feed{c}.ReportsRejected(1)
	Feed{c}.SetSubscribers(2)
	Feed{c}.SetVehicles(5)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.ReportsIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ReportsRejected))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Subscribers))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.Vehicles))

	Fleet{c}.FlushObserve(time.Millisecond, 4)
	Fleet{c}.SetTrips(7)
	Fleet{c}.TripRefreshErrInc()
	Fleet{c}.SetRows(map[status.Display]int{status.DisplayLate: 2, status.DisplayOnTime: 5})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Flushes))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.FlushMerged))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.Trips))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TripRefreshErr))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Rows.WithLabelValues("late")))

	NATS{c}.NATSSetConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	NATS{c}.NATSSetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.NATSConnected))
	NATS{c}.NATSDecodeErrInc()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSDecodeErrs))

	Live{c}.SetClients(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.WSClients))

	assert.Equal(t, 0.2, testutil.ToFloat64(c.FlushInterval))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.StaleAfter))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(200*time.Millisecond, 30*time.Second)
	c.ReportsIngested.Add(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tracker_reports_ingested_total 2"))
}
