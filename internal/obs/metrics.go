package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP server metrics, labelled by canonical path.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	documentRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcenter_document_requests_total",
			Help: "Document request outcomes (auto_approved, pending, approved, denied).",
		},
		[]string{"outcome"},
	)

	emailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcenter_emails_total",
			Help: "Email send attempts by template and result.",
		},
		[]string{"kind", "result"},
	)

	magicLinkResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcenter_magic_link_resolutions_total",
			Help: "Magic link redemption attempts by result.",
		},
		[]string{"result"},
	)

	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcenter_webhook_deliveries_total",
			Help: "Outbound webhook deliveries by result.",
		},
		[]string{"result"},
	)

	salesforceSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcenter_salesforce_syncs_total",
			Help: "Salesforce sync runs by result.",
		},
		[]string{"result"},
	)

	documentDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcenter_document_downloads_total",
			Help: "Document downloads by source (magic_link, public) and delivery (redirect, stream, placeholder).",
		},
		[]string{"source", "delivery"},
	)

	registerOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			documentRequests, emailsSent, magicLinkResolutions,
			webhookDeliveries, salesforceSyncs, documentDownloads,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func CountDocumentRequest(outcome string) { documentRequests.WithLabelValues(outcome).Inc() }
func CountEmail(kind string, ok bool)     { emailsSent.WithLabelValues(kind, result(ok)).Inc() }
func CountMagicLink(res string)           { magicLinkResolutions.WithLabelValues(res).Inc() }
func CountWebhookDelivery(ok bool)        { webhookDeliveries.WithLabelValues(result(ok)).Inc() }
func CountSalesforceSync(ok bool)         { salesforceSyncs.WithLabelValues(result(ok)).Inc() }
func CountDownload(source, delivery string) {
	documentDownloads.WithLabelValues(source, delivery).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Instrument wraps next with in-flight, count and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers and tokens so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i, p := range parts {
		if i == 0 {
			continue
		}
		switch parts[i-1] {
		case "access":
			parts[i] = ":token"
		case "document-requests", "organizations", "documents", "webhooks", "download":
			if !isAction(p) {
				parts[i] = ":id"
			}
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isAction(seg string) bool {
	switch seg {
	case "batch-approve", "batch-deny", "bulk":
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
