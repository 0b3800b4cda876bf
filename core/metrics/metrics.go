// Package metrics exposes optional Prometheus instrumentation. The
// scrape endpoint is only mounted when enabled in the configuration;
// recording is always safe to call.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zeroconfdlna_http_requests_total",
		Help: "HTTP requests served, by handler and status class.",
	}, []string{"handler", "status"})

	bytesStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zeroconfdlna_media_bytes_streamed_total",
		Help: "Media bytes delivered to clients.",
	})

	ssdpSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zeroconfdlna_ssdp_msearch_total",
		Help: "M-SEARCH datagrams received, by matched target.",
	}, []string{"target"})
)

// RecordRequest counts one served HTTP request.
func RecordRequest(handler string, status int) {
	httpRequests.WithLabelValues(handler, statusClass(status)).Inc()
}

// RecordBytesStreamed counts media bytes written to a client.
func RecordBytesStreamed(n int64) {
	if n > 0 {
		bytesStreamed.Add(float64(n))
	}
}

// RecordSearch counts one M-SEARCH, labeled by the normalized target
// it matched, never by the raw ST string.
func RecordSearch(target string) {
	ssdpSearches.WithLabelValues(target).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
