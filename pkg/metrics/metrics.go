// Package metrics exposes Prometheus collectors for the scripting runtime.
// It is purely an observability add-on: every exported recorder tolerates
// being called against an unregistered/unused Registry, and no core
// component requires metrics to function correctly.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scriptcore"

// ObservationHooks captures optional start/complete callbacks for an
// arbitrary operation, used to instrument pool acquire/release or
// module-bridge init/deinit without those packages importing prometheus
// directly.
type ObservationHooks struct {
	OnStart    func(ctx context.Context, meta map[string]string)
	OnComplete func(ctx context.Context, meta map[string]string, err error, duration time.Duration)
}

// NoopObservationHooks is the safe default.
var NoopObservationHooks = ObservationHooks{}

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	poolAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "available_states",
			Help:      "Number of idle ManagedStates currently available for acquisition.",
		},
		[]string{"engine"},
	)

	poolInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "in_use_states",
			Help:      "Number of ManagedStates currently checked out.",
		},
		[]string{"engine"},
	)

	poolCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "created_total",
			Help:      "Total ManagedStates created by the pool.",
		},
		[]string{"engine"},
	)

	poolRecycledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "recycled_total",
			Help:      "Total ManagedStates retired (recycled out of rotation) by the pool.",
		},
		[]string{"engine", "reason"},
	)

	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Total script executions grouped by engine and outcome.",
		},
		[]string{"engine", "status"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Duration of script executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"engine", "status"},
	)

	panicRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "panic",
			Name:      "recoveries_total",
			Help:      "Total host-language faults recovered by the panic wrapper, by strategy.",
		},
		[]string{"strategy", "fault_type"},
	)

	snapshotStoreSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "store_size_bytes",
			Help:      "Current total size in bytes of a state's snapshot store.",
		},
		[]string{"state_id"},
	)

	snapshotStoreCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "store_count",
			Help:      "Current number of snapshots held by a state's snapshot store.",
		},
		[]string{"state_id"},
	)

	tenantBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant",
			Name:      "breaches_total",
			Help:      "Total sandbox/quota breaches detected per tenant, by kind.",
		},
		[]string{"tenant", "kind"},
	)

	observationCollectors = map[string]observationCollector{}
)

func init() {
	Registry.MustRegister(
		poolAvailable,
		poolInUse,
		poolCreatedTotal,
		poolRecycledTotal,
		executions,
		executionDuration,
		panicRecoveries,
		snapshotStoreSize,
		snapshotStoreCount,
		tenantBreaches,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
// The scripting core has no HTTP surface of its own; embedding hosts that run
// an HTTP server mount this handler under whatever path they choose.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetPoolOccupancy records current available/in-use counts for an engine's pool.
func SetPoolOccupancy(engine string, available, inUse int) {
	poolAvailable.WithLabelValues(engine).Set(float64(available))
	poolInUse.WithLabelValues(engine).Set(float64(inUse))
}

// RecordPoolCreated increments the created-state counter for an engine.
func RecordPoolCreated(engine string) {
	poolCreatedTotal.WithLabelValues(engine).Inc()
}

// RecordPoolRecycled increments the retired-state counter for an engine, tagged by retire reason.
func RecordPoolRecycled(engine, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	poolRecycledTotal.WithLabelValues(engine, reason).Inc()
}

// RecordExecution records the outcome and duration of a script execution.
func RecordExecution(engine, status string, dur time.Duration) {
	if status == "" {
		status = "unknown"
	}
	executions.WithLabelValues(engine, status).Inc()
	executionDuration.WithLabelValues(engine, status).Observe(dur.Seconds())
}

// RecordPanicRecovery records a panic-wrapper recovery event.
func RecordPanicRecovery(strategy, faultType string) {
	if strategy == "" {
		strategy = "unknown"
	}
	if faultType == "" {
		faultType = "unknown"
	}
	panicRecoveries.WithLabelValues(strategy, faultType).Inc()
}

// SetSnapshotStoreStats records the current size/count of a state's snapshot store.
func SetSnapshotStoreStats(stateID string, sizeBytes int64, count int) {
	snapshotStoreSize.WithLabelValues(stateID).Set(float64(sizeBytes))
	snapshotStoreCount.WithLabelValues(stateID).Set(float64(count))
}

// RecordTenantBreach records a sandbox/quota breach for a tenant.
func RecordTenantBreach(tenant, kind string) {
	if tenant == "" {
		tenant = "unknown"
	}
	if kind == "" {
		kind = "unknown"
	}
	tenantBreaches.WithLabelValues(tenant, kind).Inc()
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// NewObservationHooks creates observation hooks backed by Prometheus metrics,
// suitable for instrumenting pool acquire/release or module-bridge init/deinit.
func NewObservationHooks(subsystem, name string) ObservationHooks {
	key := subsystem + ":" + name
	collector, ok := observationCollectors[key]
	if !ok {
		collector = createObservationCollector(subsystem, name)
		observationCollectors[key] = collector
	}
	return ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			collector.gauge.WithLabelValues(metaLabel(meta)).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["tenant"]; ok && id != "" {
		return id
	}
	if id, ok := meta["engine"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// StatePoolHooks returns observation hooks for instrumenting StatePool acquire/release.
func StatePoolHooks() ObservationHooks {
	return NewObservationHooks("pool", "acquire")
}

// ModuleBridgeHooks returns observation hooks for instrumenting APIBridge init/deinit.
func ModuleBridgeHooks() ObservationHooks {
	return NewObservationHooks("module", "bridge_init")
}
