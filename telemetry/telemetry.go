// Package telemetry defines the tracing helpers and Prometheus metrics
// for the hot paths named in spec.md section 4.4 and 4.8. Only
// ColdFetches is recorded, by the entrypoint through
// BlockManager.OnColdFetch; the compaction histograms and StartSpan have
// no caller in this module. No exporter is configured here: a no-op
// TracerProvider is the default, matching how the corpus's own libraries
// make OTel optional rather than mandatory.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/hunddb/hunddb-core"

var (
	// ColdFetches counts BlockManager.Get calls that missed the cache
	// and hit the object store (spec.md section 4.4).
	ColdFetches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hunddb_blockmanager_cold_fetches_total",
		Help: "Number of block reads that missed the cache tier.",
	})

	// CompactionDuration measures end-to-end Compact() wall time.
	CompactionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hunddb_compaction_duration_seconds",
		Help:    "Duration of a single compaction window.",
		Buckets: prometheus.DefBuckets,
	})

	// CompactionSizeDelta tracks the signed logical-size delta a
	// compaction window produced (spec.md section 4.8).
	CompactionSizeDelta = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hunddb_compaction_size_delta_bytes",
		Help:    "Signed estimated byte delta produced by a compaction window.",
		Buckets: []float64{-1e6, -1e5, -1e4, -1e3, 0, 1e3, 1e4, 1e5, 1e6},
	})
)

func init() {
	prometheus.MustRegister(ColdFetches, CompactionDuration, CompactionSizeDelta)
}

// Tracer returns the process-wide tracer. SetTracerProvider installs a
// real provider; absent that, otel's own global defaults to a no-op
// implementation, so every span created before configuration is a
// zero-cost no-op rather than a nil-pointer risk.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// NoopProvider returns an explicit no-op TracerProvider, for tests and
// for any caller that wants to avoid depending on otel's mutable global.
func NoopProvider() trace.TracerProvider {
	return noop.NewTracerProvider()
}

// StartSpan is a small convenience wrapper so callers don't repeat
// Tracer().Start(ctx, name) at every commit/flush/compaction boundary.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name)
}
