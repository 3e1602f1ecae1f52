// Package metrics provides the Prometheus collector for the binder core:
// per-service lifecycle state, dispatch outcomes and executor activity.
package metrics

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/binderlab/binder_core/internal/lifecycle"
)

// Collector owns a dedicated Prometheus registry so the core never pollutes
// (or collides with) a host process's default registry.
type Collector struct {
	registry *prometheus.Registry

	// Lifecycle metrics
	serviceState        *prometheus.GaugeVec
	serviceRefs         *prometheus.GaugeVec
	serviceTransitions  *prometheus.CounterVec
	serviceStartLatency *prometheus.HistogramVec

	mu       sync.Mutex
	starting map[string]time.Time

	// Dispatch metrics
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec

	// Executor metrics
	executorQueueDepth prometheus.Gauge
	executorBusy       prometheus.Gauge

	// Host metrics
	hostMemoryUsedPercent prometheus.Gauge
	processResidentBytes  prometheus.Gauge
	proc                  *process.Process

	startTime time.Time
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "binder"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		starting:  make(map[string]time.Time),
	}

	c.serviceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state",
			Help:      "Current lifecycle state of service (0=unregistered, 1=starting, 2=active, 3=idle, 4=shutting_down)",
		},
		[]string{"service"},
	)

	c.serviceRefs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "refs",
			Help:      "Outstanding references held against a service",
		},
		[]string{"service"},
	)

	c.serviceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "transitions_total",
			Help:      "Total lifecycle state transitions",
		},
		[]string{"service", "from", "to"},
	)

	c.serviceStartLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "start_duration_seconds",
			Help:      "Time from start request to the service becoming active",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"service"},
	)

	c.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "transactions_total",
			Help:      "Total dispatched transactions by outcome",
		},
		[]string{"service", "method", "outcome"},
	)

	c.dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Transaction dispatch duration",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"service", "method"},
	)

	c.executorQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "queue_depth",
			Help:      "Tasks waiting for a free worker",
		},
	)

	c.executorBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "busy_workers",
			Help:      "Workers currently executing a task",
		},
	)

	c.hostMemoryUsedPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "memory_used_percent",
			Help:      "Host memory in use",
		},
	)

	c.processResidentBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident set size of this process",
		},
	)

	// Best effort; sampling is skipped when the process handle is unavailable.
	c.proc, _ = process.NewProcess(int32(os.Getpid()))

	c.registry.MustRegister(
		c.serviceState,
		c.serviceRefs,
		c.serviceTransitions,
		c.serviceStartLatency,
		c.dispatchTotal,
		c.dispatchLatency,
		c.executorQueueDepth,
		c.executorBusy,
		c.hostMemoryUsedPercent,
		c.processResidentBytes,
		collectors.NewGoCollector(),
	)

	return c
}

// Registry returns the underlying Prometheus registry for HTTP exposure.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveTransition records a lifecycle transition. It satisfies
// lifecycle.TransitionFunc.
func (c *Collector) ObserveTransition(service string, from, to lifecycle.State) {
	c.serviceTransitions.WithLabelValues(service, from.String(), to.String()).Inc()
	c.serviceState.WithLabelValues(service).Set(float64(to))

	switch to {
	case lifecycle.StateStarting:
		c.mu.Lock()
		c.starting[service] = time.Now()
		c.mu.Unlock()
	case lifecycle.StateActive:
		if from != lifecycle.StateStarting {
			return
		}
		c.mu.Lock()
		began, ok := c.starting[service]
		delete(c.starting, service)
		c.mu.Unlock()
		if ok {
			c.serviceStartLatency.WithLabelValues(service).Observe(time.Since(began).Seconds())
		}
	}
}

// SetRefs records the outstanding reference count of a service.
func (c *Collector) SetRefs(service string, refs int64) {
	c.serviceRefs.WithLabelValues(service).Set(float64(refs))
}

// ObserveDispatch records one transaction outcome. It satisfies
// dispatch.Observer.
func (c *Collector) ObserveDispatch(service, method, outcome string, seconds float64) {
	c.dispatchTotal.WithLabelValues(service, method, outcome).Inc()
	if outcome == "ok" {
		c.dispatchLatency.WithLabelValues(service, method).Observe(seconds)
	}
}

// SampleHost refreshes the host and process gauges. Called from the periodic
// stats sampler; failures leave the previous sample in place.
func (c *Collector) SampleHost() {
	if vm, err := mem.VirtualMemory(); err == nil {
		c.hostMemoryUsedPercent.Set(vm.UsedPercent)
	}
	if c.proc != nil {
		if mi, err := c.proc.MemoryInfo(); err == nil {
			c.processResidentBytes.Set(float64(mi.RSS))
		}
	}
}

// SetExecutorStats records a pool snapshot.
func (c *Collector) SetExecutorStats(queueDepth int, busy int64) {
	c.executorQueueDepth.Set(float64(queueDepth))
	c.executorBusy.Set(float64(busy))
}
