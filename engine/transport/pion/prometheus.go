package pion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusWebRTCTracksTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "webrtc_tracks_total",
	Help: "Total number of incoming webrtc tracks",
})

var prometheusWebRTCTracksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "webrtc_tracks_active",
	Help: "Number of active incoming webrtc tracks",
})

var prometheusRTPPacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rtp_packets_received_total",
	Help: "Total number of received RTP packets",
})
