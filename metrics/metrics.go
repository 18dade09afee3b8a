// Package metrics exposes the Prometheus instrumentation for the spot
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SpotsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holycluster_spots_received_total",
		Help: "Raw DX spot lines parsed from cluster feeds.",
	}, []string{"cluster"})

	ParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holycluster_parse_failures_total",
		Help: "Telnet lines that looked like spots but did not parse.",
	}, []string{"cluster"})

	SpotsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holycluster_spots_duplicate_total",
		Help: "Spots suppressed by the dedup window.",
	})

	SpotsEnriched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holycluster_spots_enriched_total",
		Help: "Spots that completed enrichment.",
	})

	SpotsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holycluster_spots_dropped_total",
		Help: "Spots dropped during enrichment, by reason.",
	}, []string{"reason"})

	SpotsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holycluster_spots_broadcast_total",
		Help: "Spots fanned out to websocket subscribers.",
	})

	GeoCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holycluster_geo_lookups_total",
		Help: "Geo resolutions by source (cache, qrz, prefixes, miss).",
	}, []string{"source"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "holycluster_websocket_clients",
		Help: "Currently connected websocket subscribers.",
	})

	ClusterConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "holycluster_cluster_connected",
		Help: "1 while the telnet session to a cluster is up.",
	}, []string{"cluster"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
