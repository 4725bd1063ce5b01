package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	KeysScanned      = prometheus.NewCounter(prometheus.CounterOpts{Name: "arqdash_keys_scanned_total", Help: "Keys visited by cursor scans"})
	DecodeJSON       = prometheus.NewCounter(prometheus.CounterOpts{Name: "arqdash_decode_json_total", Help: "Records decoded as JSON"})
	DecodePickle     = prometheus.NewCounter(prometheus.CounterOpts{Name: "arqdash_decode_pickle_total", Help: "Records decoded in-process as pickle"})
	DecodeExternal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "arqdash_decode_external_total", Help: "Records decoded via the external helper"})
	DecodeFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "arqdash_decode_failures_total", Help: "Records rejected by all decode tiers"})
	ExternalSpawns   = prometheus.NewCounter(prometheus.CounterOpts{Name: "arqdash_unpickle_spawns_total", Help: "External decode subprocess launches"})
	SSEClients       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "arqdash_sse_clients", Help: "Connected event-stream clients"})
	StatsScanSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "arqdash_stats_scan_seconds", Help: "Duration of full stats scans"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			KeysScanned,
			DecodeJSON,
			DecodePickle,
			DecodeExternal,
			DecodeFailures,
			ExternalSpawns,
			SSEClients,
			StatsScanSeconds,
		)
	})
	return promhttp.Handler()
}
