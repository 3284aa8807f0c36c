package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTask(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTask("start", ResultSuccess, 100*time.Millisecond)
	m.ObserveTask("start", ResultSuccess, 200*time.Millisecond)
	m.ObserveTask("start", ResultError, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasks.WithLabelValues("start", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("start", ResultError)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestVMCreated(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.VMCreated()
	m.VMCreated()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.vmsCreated))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveTask("start", ResultSuccess, time.Second)
		m.VMCreated()
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.VMCreated()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "yolocloud_vms_created_total 1"))
}
