// Package metrics exposes rdtp connection counters (spec §6) as Prometheus
// metrics, grounded on runZeroInc-sockstats's pkg/exporter.TCPInfoCollector:
// a custom prometheus.Collector that pulls a live snapshot from each
// tracked connection on every scrape rather than mirroring counters into
// prometheus types on every update.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/duskline/rdtp/endpoint"
	"github.com/duskline/rdtp/transport"
)

// trackedConn pairs a connection with the label values identifying it on
// each exported metric.
type trackedConn struct {
	conn   *transport.Conn
	labels []string
}

// ConnCollector is a prometheus.Collector that reports the live Stats
// snapshot of every connection registered with it.
type ConnCollector struct {
	mu    sync.Mutex
	conns map[uint32]trackedConn

	segmentsSent       *prometheus.Desc
	segmentsReceived   *prometheus.Desc
	retransmissions    *prometheus.Desc
	outOfOrder         *prometheus.Desc
	duplicatesDropped  *prometheus.Desc
	outOfWindowDropped *prometheus.Desc
	bytesSent          *prometheus.Desc
	bytesReceived      *prometheus.Desc
	srtt               *prometheus.Desc
	rto                *prometheus.Desc
}

// NewConnCollector builds a collector whose metrics carry connLabels (e.g.
// "conn_id", "remote_addr") in addition to constLabels fixed for the whole
// process (e.g. "role": "chatserver").
func NewConnCollector(connLabels []string, constLabels prometheus.Labels) *ConnCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("rdtp_"+name, help, connLabels, constLabels)
	}

	return &ConnCollector{
		conns:              make(map[uint32]trackedConn),
		segmentsSent:       desc("segments_sent_total", "Segments transmitted on this connection."),
		segmentsReceived:   desc("segments_received_total", "Segments received on this connection."),
		retransmissions:    desc("retransmissions_total", "Segments retransmitted after a timeout."),
		outOfOrder:         desc("out_of_order_total", "Segments buffered for reordering."),
		duplicatesDropped:  desc("duplicates_dropped_total", "Duplicate segments dropped."),
		outOfWindowDropped: desc("out_of_window_dropped_total", "Segments dropped for falling outside the receive window."),
		bytesSent:          desc("bytes_sent_total", "Application bytes transmitted."),
		bytesReceived:      desc("bytes_received_total", "Application bytes received."),
		srtt:               desc("srtt_seconds", "Current smoothed round-trip time estimate."),
		rto:                desc("rto_seconds", "Current retransmission timeout."),
	}
}

// Add registers conn with the collector under connID, reported with the
// given label values (in the same order as connLabels passed to
// NewConnCollector).
func (c *ConnCollector) Add(connID uint32, conn *transport.Conn, labelValues ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[connID] = trackedConn{conn: conn, labels: labelValues}
}

// Remove stops reporting metrics for connID, called once a connection
// reaches CLOSED.
func (c *ConnCollector) Remove(connID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, connID)
}

func (c *ConnCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.segmentsSent
	descs <- c.segmentsReceived
	descs <- c.retransmissions
	descs <- c.outOfOrder
	descs <- c.duplicatesDropped
	descs <- c.outOfWindowDropped
	descs <- c.bytesSent
	descs <- c.bytesReceived
	descs <- c.srtt
	descs <- c.rto
}

func (c *ConnCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snapshot := make([]trackedConn, 0, len(c.conns))
	for _, tc := range c.conns {
		snapshot = append(snapshot, tc)
	}
	c.mu.Unlock()

	for _, tc := range snapshot {
		s := tc.conn.Stats()

		ch <- prometheus.MustNewConstMetric(c.segmentsSent, prometheus.CounterValue, float64(s.SegmentsSent), tc.labels...)
		ch <- prometheus.MustNewConstMetric(c.segmentsReceived, prometheus.CounterValue, float64(s.SegmentsReceived), tc.labels...)
		ch <- prometheus.MustNewConstMetric(c.retransmissions, prometheus.CounterValue, float64(s.Retransmissions), tc.labels...)
		ch <- prometheus.MustNewConstMetric(c.outOfOrder, prometheus.CounterValue, float64(s.OutOfOrder), tc.labels...)
		ch <- prometheus.MustNewConstMetric(c.duplicatesDropped, prometheus.CounterValue, float64(s.DuplicatesDropped), tc.labels...)
		ch <- prometheus.MustNewConstMetric(c.outOfWindowDropped, prometheus.CounterValue, float64(s.OutOfWindowDropped), tc.labels...)
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(s.BytesSent), tc.labels...)
		ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(s.BytesReceived), tc.labels...)
		ch <- prometheus.MustNewConstMetric(c.srtt, prometheus.GaugeValue, s.SRTT.Seconds(), tc.labels...)
		ch <- prometheus.MustNewConstMetric(c.rto, prometheus.GaugeValue, s.RTO.Seconds(), tc.labels...)
	}
}

// LatencyHistogram is the process-wide enqueue-to-ack latency histogram
// (spec §6), fed via transport.Stats.LatencyRecorder.
func LatencyHistogram() prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rdtp_message_latency_seconds",
		Help:    "Time from SendMsg enqueue to cumulative ACK.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})
}

// ChecksumFailureCollector exports an endpoint's decode-boundary drop count
// (spec §7 Corrupt). It is process-wide rather than per-connection: a
// corrupt datagram's conn_id cannot be trusted, so the endpoint itself is
// the only thing that can have counted it.
func ChecksumFailureCollector(ep *endpoint.Endpoint, constLabels prometheus.Labels) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name:        "rdtp_checksum_failures_total",
		Help:        "Inbound datagrams dropped for failing checksum or header validation.",
		ConstLabels: constLabels,
	}, func() float64 {
		return float64(ep.ChecksumFailures())
	})
}
