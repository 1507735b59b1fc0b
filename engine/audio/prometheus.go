package audio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusSourcesActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "audio_sources_active",
	Help: "Number of voice sources currently routed through the spatial graph",
})

var prometheusOutputInitFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "audio_output_init_failures_total",
	Help: "Total number of failed audio output initialization attempts",
})
