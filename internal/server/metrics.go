package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/pipeline"
)

type serverMetrics struct {
	filesParsed   *prometheus.CounterVec
	formatErrors  prometheus.Counter
	imagesDecoded *prometheus.CounterVec
	parseDuration prometheus.Histogram
	rateLimited   prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	f := promauto.With(reg)
	return &serverMetrics{
		filesParsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eftd",
			Name:      "files_parsed_total",
			Help:      "Transaction files parsed, by validation verdict.",
		}, []string{"valid"}),
		formatErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eftd",
			Name:      "format_errors_total",
			Help:      "Uploads rejected as malformed transaction files.",
		}),
		imagesDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eftd",
			Name:      "images_decoded_total",
			Help:      "Embedded images processed, by format and outcome.",
		}, []string{"format", "outcome"}),
		parseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eftd",
			Name:      "parse_duration_seconds",
			Help:      "Time spent processing one transaction file.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eftd",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
}

func (m *serverMetrics) observe(res *pipeline.Result) {
	valid := "false"
	if res.Validation.IsValid {
		valid = "true"
	}
	m.filesParsed.WithLabelValues(valid).Inc()
	m.parseDuration.Observe(res.Duration.Seconds())
	for _, d := range res.Decoded {
		outcome := "ok"
		if d.Err != nil {
			outcome = "error"
		}
		m.imagesDecoded.WithLabelValues(string(d.Field.Format), outcome).Inc()
	}
}
