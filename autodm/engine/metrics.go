package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("autodm")

var eventProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "autodm_event_duration_sec",
	Help: "Total duration of comment event processing",
})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_events_processed",
	Help: "Number of comment events processed, by outcome",
}, []string{"status", "reason"})

var eventErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autodm_event_errors",
	Help: "Number of comment events which failed processing",
})

var dmSendCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_dm_sends",
	Help: "Number of direct message send attempts, by path and result",
}, []string{"path", "result"})

var replySendCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_reply_sends",
	Help: "Number of public comment reply attempts, by result",
}, []string{"result"})

var circuitBreakCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autodm_circuit_breaks",
	Help: "Number of sends skipped by the per-account hourly circuit breaker",
})

var followStatusFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_follow_status_fetches",
	Help: "Number of follow status lookups, by source",
}, []string{"source"})

var followGateOpened = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autodm_follow_gate_opened",
	Help: "Number of follow-gate requests opened or refreshed",
})

var followGateExpired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autodm_follow_gate_expired",
	Help: "Number of follow-gate requests which expired without a follow",
})

var sweepEntryCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_sweep_entries",
	Help: "Number of pending follow requests handled by the reconciliation sweep, by result",
}, []string{"result"})

var sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "autodm_sweep_duration_sec",
	Help: "Duration of reconciliation sweeps",
})
