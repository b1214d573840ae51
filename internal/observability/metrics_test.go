package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.SetPhase("running", []string{"stopped", "running"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnginePhase.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EnginePhase.WithLabelValues("stopped")))

	m.ObserveLoop("risk", time.Millisecond, "")
	m.ObserveLoop("risk", time.Millisecond, "transient")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoopErrors.WithLabelValues("risk", "transient")))

	m.RecordOrder("paper", "BUY", "filled")
	m.RecordClose("stop_loss")
	m.SetBook(1000, -5, 2)
	m.SetRisk(map[string]float64{"var_95": 0.03})
	m.RecordEmergencyStop()
	m.SetPrice("BTCUSDT", 43000)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("paper", "BUY", "filled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, 0.03, testutil.ToFloat64(m.Risk.WithLabelValues("var_95")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmergencyStops))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_market_last_price")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetPhase("running", []string{"running"})
		m.ObserveLoop("price", time.Second, "x")
		m.RecordOrder("a", "b", "c")
		m.RecordClose("x")
		m.SetBook(1, 2, 3)
		m.SetRisk(map[string]float64{"a": 1})
		m.RecordEmergencyStop()
		m.SetPrice("X", 1)
	})
}
