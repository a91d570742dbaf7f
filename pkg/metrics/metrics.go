// Package metrics is an optional Prometheus collector a host process
// may register. None of the protocol engines import this package --
// cmd/edgelinkd fills these metrics from each engine's own counters
// (polled once per tick) and listener callbacks, the same separation runZeroInc-sockstats draws
// between its TCPInfoCollector and the code that calls Add/Remove on it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics aggregates every counter/gauge this module exposes behind a
// single prometheus.Collector, mirroring the multi-metric-per-collector
// shape of runZeroInc-sockstats's TCPInfoCollector.
type Metrics struct {
	FramesParsed          *prometheus.CounterVec
	MalformedPackets      *prometheus.CounterVec
	InflightRPCRequests   prometheus.Gauge
	MqttReconnects        prometheus.Counter
	BtleProcedureTimeouts prometheus.Counter
}

func New(constLabels prometheus.Labels) *Metrics {
	return &Metrics{
		FramesParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "edgelink",
			Name:        "frames_parsed_total",
			Help:        "Complete frames assembled by a pool-backed framer, by engine.",
			ConstLabels: constLabels,
		}, []string{"engine"}),
		MalformedPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "edgelink",
			Name:        "malformed_packets_total",
			Help:        "Frames a parser rejected and resynchronized from, by engine.",
			ConstLabels: constLabels,
		}, []string{"engine"}),
		InflightRPCRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "edgelink",
			Name:        "rpc_inflight_requests",
			Help:        "Synchronous RPC requests currently awaiting a response.",
			ConstLabels: constLabels,
		}),
		MqttReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "edgelink",
			Name:        "mqtt_reconnects_total",
			Help:        "Disconnects reported by the MQTT client; the client does not reconnect on its own.",
			ConstLabels: constLabels,
		}),
		BtleProcedureTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "edgelink",
			Name:        "btle_procedure_timeouts_total",
			Help:        "BTLE GATT procedures abandoned after exceeding their timeout.",
			ConstLabels: constLabels,
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesParsed,
		m.MalformedPackets,
		m.InflightRPCRequests,
		m.MqttReconnects,
		m.BtleProcedureTimeouts,
	}
}

func (m *Metrics) Describe(descs chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(descs)
	}
}

func (m *Metrics) Collect(out chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(out)
	}
}
