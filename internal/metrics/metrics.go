package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webtorrent",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "webtorrent",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveTorrents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "webtorrent",
		Name:      "active_torrents",
		Help:      "Number of currently open torrents.",
	})

	FileStreamsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "webtorrent",
		Name:      "file_streams_opened_total",
		Help:      "Total number of file read streams opened with a priority boost.",
	})

	// FileStreamsReleased counts stream teardowns by how the boost was handled:
	// released, file_destroyed or store_destroyed.
	FileStreamsReleased = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webtorrent",
		Name:      "file_streams_released_total",
		Help:      "Total number of file read streams torn down, by outcome.",
	}, []string{"reason"})

	FileStreamBoostsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "webtorrent",
		Name:      "file_stream_boosts_active",
		Help:      "Number of stream priority boosts currently registered.",
	})

	StreamBytesServed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "webtorrent",
		Name:      "stream_bytes_served_total",
		Help:      "Total file bytes written to HTTP stream responses.",
	})

	PieceSelectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webtorrent",
		Name:      "piece_selections_total",
		Help:      "Total selection changes applied to stores, by operation and kind.",
	}, []string{"op", "kind"})

	PiecesVerifiedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "webtorrent",
		Name:      "pieces_verified_total",
		Help:      "Total pieces marked verified by the in-process store.",
	})

	PiecesEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "webtorrent",
		Name:      "pieces_evicted_total",
		Help:      "Total pieces dropped from memory storage.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveTorrents,
		FileStreamsOpened,
		FileStreamsReleased,
		FileStreamBoostsActive,
		StreamBytesServed,
		PieceSelectionsTotal,
		PiecesVerifiedTotal,
		PiecesEvictedTotal,
	)
}
