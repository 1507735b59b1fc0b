package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusPositionUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "api_position_updates_total",
	Help: "Total number of listener position updates received over HTTP",
})

var prometheusSubscribeRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "api_subscribe_requests_total",
	Help: "Total number of explicit subscribe requests received over HTTP",
})

var prometheusEnableAudioTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "api_enable_audio_total",
	Help: "Total number of audio enable gestures received over HTTP",
})
