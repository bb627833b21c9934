// Package metrics exposes Prometheus metrics for scheduling passes and migrations.
// Recording functions are no-ops until InitMetrics has been called.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/limiquantix/drsim/internal/domain"
)

const namespace = "drsim"

var (
	passesTotal       *prometheus.CounterVec
	planningDuration  prometheus.Histogram
	executionDuration prometheus.Histogram
	plannedMigrations prometheus.Counter
	migrationsTotal   *prometheus.CounterVec
	migrationDuration prometheus.Histogram
	ongoingMigrations prometheus.Gauge
	hostsPoweredOff   prometheus.Counter
	hostsPoweredOn    prometheus.Counter
	overloadedHosts   prometheus.Gauge
	underloadedHosts  prometheus.Gauge
	hostViolations    prometheus.Counter

	initOnce sync.Once
	initErr  error
	ready    bool
	mu       sync.RWMutex
)

// Migration outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// InitMetrics registers all metrics with the provided registry. It is safe to call
// more than once; only the first call's registry is used.
func InitMetrics(registry prometheus.Registerer) error {
	initOnce.Do(func() {
		passesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_passes_total",
			Help:      "Total number of scheduling passes by terminal state",
		}, []string{"state"})
		planningDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_planning_duration_seconds",
			Help:      "Time spent computing reconfiguration plans",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		})
		executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_execution_duration_seconds",
			Help:      "Time spent applying reconfiguration plans",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		})
		plannedMigrations = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_planned_migrations_total",
			Help:      "Total number of migrations committed by the planner",
		})
		migrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Total number of VM migrations by outcome",
		}, []string{"outcome"})
		migrationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_duration_seconds",
			Help:      "Latency of individual VM relocations",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		})
		ongoingMigrations = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ongoing_migrations",
			Help:      "Number of VM relocations in flight",
		})
		hostsPoweredOff = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hosts_powered_off_total",
			Help:      "Total number of idle hosts powered off after a reconfiguration",
		})
		hostsPoweredOn = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hosts_powered_on_total",
			Help:      "Total number of hosts powered on to receive migrations",
		})
		overloadedHosts = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overloaded_hosts",
			Help:      "Number of overloaded hosts seen by the last pass",
		})
		underloadedHosts = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "underloaded_hosts",
			Help:      "Number of underloaded hosts seen by the last pass",
		})

		hostViolations = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_violations_total",
			Help:      "Total number of times a powered-on host became non-viable after a load change",
		})

		collectors := map[string]prometheus.Collector{
			"passesTotal":       passesTotal,
			"planningDuration":  planningDuration,
			"executionDuration": executionDuration,
			"plannedMigrations": plannedMigrations,
			"migrationsTotal":   migrationsTotal,
			"migrationDuration": migrationDuration,
			"ongoingMigrations": ongoingMigrations,
			"hostsPoweredOff":   hostsPoweredOff,
			"hostsPoweredOn":    hostsPoweredOn,
			"overloadedHosts":   overloadedHosts,
			"underloadedHosts":  underloadedHosts,
			"hostViolations":    hostViolations,
		}
		for name, c := range collectors {
			if err := registry.Register(c); err != nil {
				initErr = fmt.Errorf("failed to register %s metric: %w", name, err)
				return
			}
		}

		mu.Lock()
		ready = true
		mu.Unlock()
	})

	return initErr
}

func enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return ready
}

// RecordPass records the outcome of a scheduling pass.
func RecordPass(r *domain.SchedulerResult) {
	if !enabled() {
		return
	}
	passesTotal.WithLabelValues(string(r.State)).Inc()
	planningDuration.Observe(r.PlanningDuration.Seconds())
	overloadedHosts.Set(float64(len(r.Overloaded)))
	underloadedHosts.Set(float64(len(r.Underloaded)))
	if r.Reconfigured() {
		executionDuration.Observe(r.ExecutionDuration.Seconds())
		plannedMigrations.Add(float64(len(r.Migrations)))
	}
}

// RecordMigration records the outcome and latency of a single relocation.
func RecordMigration(outcome string, d time.Duration) {
	if !enabled() {
		return
	}
	migrationsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		migrationDuration.Observe(d.Seconds())
	}
}

// SetOngoingMigrations sets the number of relocations in flight.
func SetOngoingMigrations(n int64) {
	if !enabled() {
		return
	}
	ongoingMigrations.Set(float64(n))
}

// RecordPowerOff records hosts powered off after a reconfiguration.
func RecordPowerOff(n int) {
	if !enabled() {
		return
	}
	hostsPoweredOff.Add(float64(n))
}

// RecordPowerOn records a host powered on to receive a migration.
func RecordPowerOn() {
	if !enabled() {
		return
	}
	hostsPoweredOn.Inc()
}

// RecordViolation records a host becoming non-viable.
func RecordViolation() {
	if !enabled() {
		return
	}
	hostViolations.Inc()
}
