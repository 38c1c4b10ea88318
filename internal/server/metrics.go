package server

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_ws_connections",
		Help: "Currently open per-robot client WebSocket connections.",
	}, []string{"robot_id"})

	framesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_frames_sent_total",
		Help: "Frames forwarded to downstream clients, by type.",
	}, []string{"type"})

	commandsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_commands_total",
		Help: "Client command frames handled, by channel and outcome.",
	}, []string{"channel", "outcome"})
)

func init() {
	prometheus.MustRegister(wsConnections, framesSent, commandsHandled)
}
