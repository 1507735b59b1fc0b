package music

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusMusicStreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "music_streams_active",
	Help: "Number of music streams currently playing",
})
