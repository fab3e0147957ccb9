package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "autodm_dashboard_subscribers",
	Help: "Number of connected dashboard event subscribers",
})

var subscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autodm_dashboard_dropped_events",
	Help: "Number of events dropped because a dashboard subscriber was not keeping up",
})

var relayedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autodm_relayed_events",
	Help: "Number of events relayed from redis pub/sub into the local hub",
})
