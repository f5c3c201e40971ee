package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
)

func TestConnCollectorDescribesAllMetrics(t *testing.T) {
	c := NewConnCollector([]string{"conn_id"}, nil)
	descs := make(chan *prometheus.Desc, 32)
	c.Describe(descs)
	close(descs)

	count := 0
	for range descs {
		count++
	}
	require.Equal(t, 10, count)
}

func TestConnCollectorCollectsNothingWithNoConns(t *testing.T) {
	c := NewConnCollector([]string{"conn_id"}, nil)
	metrics := make(chan prometheus.Metric, 32)
	c.Collect(metrics)
	close(metrics)

	var got []*dto.Metric
	for m := range metrics {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		got = append(got, &pb)
	}
	require.Empty(t, got)
}

func TestLatencyHistogramRegisters(t *testing.T) {
	h := LatencyHistogram()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(h))
}
