package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordSettlementIncrementsCorrectCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordSettlement(true)
	m.RecordSettlement(false)
	m.RecordSettlement(false)

	require.Equal(t, float64(1), counterValue(t, m.PaymentsSent))
	require.Equal(t, float64(2), counterValue(t, m.PaymentsFailed))
}

func TestObserveTickDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveTick(5 * time.Millisecond)
}
