// internal/metrics/metrics_test.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/fieldbus-poller/internal/schedule"
	"github.com/tamzrod/fieldbus-poller/internal/transport"
)

func TestChannelCollectors(t *testing.T) {
	m := New()
	c := m.Channel("line1")

	c.Retry("read holding registers", 2, errors.New("timeout"))
	c.Retry("read holding registers", 3, errors.New("timeout"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("line1", "read holding registers")))

	c.BlockRead("D1", nil, 5*time.Millisecond)
	c.BlockRead("D1", transport.ErrRetriesExhausted, time.Second)
	c.BlockRead("D1", context.Canceled, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockReads.WithLabelValues("line1", "D1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockReads.WithLabelValues("line1", "D1", "comms_error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.blockReads))

	c.DemotionChanged("D1", true, time.Now())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.demoted.WithLabelValues("line1", "D1")))
	c.DemotionChanged("D1", false, time.Time{})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.demoted.WithLabelValues("line1", "D1")))

	c.Connection(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected.WithLabelValues("line1")))

	c.WriteDone("D1", time.Millisecond, nil)
	assert.Equal(t, 1, testutil.CollectAndCount(m.writes))
}

func TestDispatchedOverdue(t *testing.T) {
	m := New()
	c := m.Channel("line1")

	now := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	c.Dispatched(schedule.Batch{Items: []schedule.Item{
		{Due: now},
		{Due: now.Add(-50 * time.Millisecond)},
	}}, now)

	assert.Equal(t, 1, testutil.CollectAndCount(m.overdue))
	count, err := testutil.GatherAndCount(m.Registry(), "fieldbus_poller_scheduler_overdue_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Channel("line1").Connection(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fieldbus_poller_transport_connected{channel="line1"} 1`)
}
