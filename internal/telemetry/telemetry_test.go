package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ObserveRequest("get_users", "200")
	m.ObserveRequest("get_users", "200")
	m.ObserveRequest("get_user_by_name", "404")

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get_users", "200")); got != 2 {
		t.Errorf("get_users/200 count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get_user_by_name", "404")); got != 1 {
		t.Errorf("get_user_by_name/404 count = %v, want 1", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("get_users", "200")
	m.ObserveRefresh("success", 0.1)
	m.ObserveQuotaRejection("linuxAccountViews")
}
