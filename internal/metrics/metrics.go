package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	instanceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mineguard",
			Subsystem: "instance",
			Name:      "starts_total",
			Help:      "Number of starts that reached the ready marker.",
		}, []string{"instance"},
	)
	instanceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mineguard",
			Subsystem: "instance",
			Name:      "stops_total",
			Help:      "Number of graceful stops and kills.",
		}, []string{"instance", "mode"},
	)
	instanceCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mineguard",
			Subsystem: "instance",
			Name:      "crashes_total",
			Help:      "Number of unexpected child exits.",
		}, []string{"instance"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mineguard",
			Subsystem: "instance",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn to the ready marker.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"instance"},
	)
	linesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mineguard",
			Subsystem: "stream",
			Name:      "lines_total",
			Help:      "Lines read from the child per stream.",
		}, []string{"instance", "source"},
	)
	laggedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mineguard",
			Subsystem: "stream",
			Name:      "lagged_messages_total",
			Help:      "Messages dropped for slow internal receivers.",
		}, []string{"instance", "source"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mineguard",
			Subsystem: "instance",
			Name:      "commands_total",
			Help:      "Console commands written to the child.",
		}, []string{"instance"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mineguard",
			Subsystem: "instance",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between instance states.",
		}, []string{"instance", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mineguard",
			Subsystem: "instance",
			Name:      "current_state",
			Help:      "Current state of instances (1 = active state, 0 = inactive).",
		}, []string{"instance", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		instanceStarts, instanceStops, instanceCrashes, startDuration,
		linesTotal, laggedTotal, commandsTotal, stateTransitions, currentStates,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer. The caller mounts it.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		instanceStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name, mode string) {
	if regOK.Load() {
		instanceStops.WithLabelValues(name, mode).Inc()
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		instanceCrashes.WithLabelValues(name).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(name).Observe(seconds)
	}
}

func IncLines(name, source string) {
	if regOK.Load() {
		linesTotal.WithLabelValues(name, source).Inc()
	}
}

func AddLagged(name, source string, n uint64) {
	if regOK.Load() {
		laggedTotal.WithLabelValues(name, source).Add(float64(n))
	}
}

func IncCommand(name string) {
	if regOK.Load() {
		commandsTotal.WithLabelValues(name).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}
