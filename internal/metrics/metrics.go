package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "homehub_"

	ResultOK      = "ok"
	ResultError   = "error"
	ResultDropped = "dropped"
	ResultUnknown = "unknown_device"

	CommandSent         = "sent"
	CommandNotConnected = "not_connected"
	CommandFailed       = "failed"
)

var (
	registerOnce sync.Once

	ingestMessages *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	automationEvaluations *prometheus.CounterVec
	automationFired       prometheus.Counter
	actionFailures        prometheus.Counter

	commandResults *prometheus.CounterVec

	realtimeConnections prometheus.Gauge
	broadcastDeliveries prometheus.Counter
	sweepTerminations   prometheus.Counter
)

// Init registers the collectors once. A nil registerer uses the default one.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}

		ingestMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_messages_total",
				Help: "Inbound device messages by class and result",
			},
			[]string{"class", "result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Time to handle one inbound device message",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"class"},
		)
		automationEvaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "automation_evaluations_total",
				Help: "Automation evaluation passes by result",
			},
			[]string{"result"},
		)
		automationFired = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "automation_fired_total",
				Help: "Automations whose trigger and conditions matched",
			},
		)
		actionFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "automation_action_failures_total",
				Help: "Automation actions that failed to execute",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_publish_total",
				Help: "Device command publishes by result",
			},
			[]string{"result"},
		)
		realtimeConnections = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "realtime_connections",
				Help: "Open realtime connections",
			},
		)
		broadcastDeliveries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "realtime_deliveries_total",
				Help: "Messages queued to realtime connections",
			},
		)
		sweepTerminations = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "realtime_sweep_terminations_total",
				Help: "Connections closed by the liveness sweep",
			},
		)

		reg.MustRegister(
			ingestMessages,
			ingestLatency,
			automationEvaluations,
			automationFired,
			actionFailures,
			commandResults,
			realtimeConnections,
			broadcastDeliveries,
			sweepTerminations,
		)
	})
}

func ObserveIngest(class, result string, duration time.Duration) {
	if result == "" {
		result = ResultOK
	}
	if ingestMessages != nil {
		ingestMessages.WithLabelValues(class, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(class).Observe(duration.Seconds())
	}
}

func IncEvaluation(result string) {
	if automationEvaluations != nil {
		automationEvaluations.WithLabelValues(result).Inc()
	}
}

func IncAutomationFired() {
	if automationFired != nil {
		automationFired.Inc()
	}
}

func IncActionFailure() {
	if actionFailures != nil {
		actionFailures.Inc()
	}
}

func IncCommandResult(result string) {
	if commandResults != nil {
		commandResults.WithLabelValues(result).Inc()
	}
}

func SetRealtimeConnections(n int) {
	if realtimeConnections != nil {
		realtimeConnections.Set(float64(n))
	}
}

func AddBroadcastDeliveries(n int) {
	if broadcastDeliveries != nil && n > 0 {
		broadcastDeliveries.Add(float64(n))
	}
}

func AddSweepTerminations(n int) {
	if sweepTerminations != nil && n > 0 {
		sweepTerminations.Add(float64(n))
	}
}
