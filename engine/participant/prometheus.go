package participant

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusParticipantsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "map_participants_active",
	Help: "Number of participants currently tracked by the registry",
})

var prometheusUpdatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "registry_updates_suppressed_total",
	Help: "Total number of upserts skipped because nothing changed",
})

var prometheusPositionUpdatesRejected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "registry_position_updates_rejected_total",
	Help: "Total number of position updates dropped for non-finite coordinates",
})
