package subscription

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusTracksKnown = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "subscription_tracks_known",
	Help: "Number of published remote tracks currently tracked",
})

var prometheusSubscribeAttempts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "subscription_attempts_total",
	Help: "Total number of subscribe attempts started",
})

var prometheusSubscribeFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "subscription_failures_total",
	Help: "Total number of subscribe attempts that failed",
})
