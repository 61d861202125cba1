package server

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/images"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/rules"
)

const (
	defaultMaxUploadBytes = 512 << 20
	defaultRateLimit      = 5
	defaultRateBurst      = 10
)

// Options configures server creation. Zero values select defaults.
type Options struct {
	// StorageDir holds the temporary workspace for report artifacts.
	StorageDir string
	Engine     *rules.Engine
	Codec      images.Codec
	// Decode.Pool bounds image decoding across all requests; one is created
	// from Decode.Concurrency when nil.
	Decode images.DecodeOptions
	// Concurrency bounds the number of files processed at once by batch
	// requests.
	Concurrency    int
	MaxUploadBytes int64
	// RateLimit is the sustained number of upload requests per second allowed
	// per client IP; negative disables limiting.
	RateLimit float64
	RateBurst int
	// TrustedProxies lists addresses or CIDR prefixes of reverse proxies whose
	// X-Forwarded-For header identifies the client. Empty means the
	// connection's peer address is always used.
	TrustedProxies []string
	// Registry receives the server's Prometheus collectors and backs
	// /metrics. A private registry is created when nil.
	Registry *prometheus.Registry
	// ArtifactTTL bounds how long report artifacts stay downloadable.
	ArtifactTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Engine == nil {
		o.Engine = rules.NewEngine(rules.DefaultTable())
	}
	if o.Codec == nil {
		o.Codec = images.StdCodec{}
	}
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.NumCPU()
	}
	if o.Decode.Pool == nil {
		o.Decode.Pool = images.NewPool(o.Decode.Concurrency)
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = defaultMaxUploadBytes
	}
	if o.RateLimit == 0 {
		o.RateLimit = defaultRateLimit
	}
	if o.RateBurst <= 0 {
		o.RateBurst = defaultRateBurst
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	if o.ArtifactTTL <= 0 {
		o.ArtifactTTL = time.Hour
	}
	return o
}
