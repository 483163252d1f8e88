package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionPhaseTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamflix",
		Name:      "session_phase_transitions_total",
		Help:      "Total session phase transitions by from/to phase.",
	}, []string{"from", "to"})

	BackendTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamflix",
		Name:      "backend_transitions_total",
		Help:      "Total backend supervisor state transitions.",
	}, []string{"from", "to"})

	BackendFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamflix",
		Name:      "backend_fallbacks_total",
		Help:      "Total times the primary backend was abandoned for the fallback.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamflix",
		Name:      "download_speed_bytes",
		Help:      "Current download speed in bytes per second.",
	})

	DownloadPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamflix",
		Name:      "download_percent",
		Help:      "Current buffering progress percent.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamflix",
		Name:      "peers_connected",
		Help:      "Peers currently serving the session.",
	})

	BufferTargetBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamflix",
		Name:      "buffer_target_bytes",
		Help:      "Byte threshold required before playback starts.",
	})

	PlayerCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamflix",
		Name:      "player_commands_total",
		Help:      "Total control-channel commands sent to the player.",
	}, []string{"command"})

	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamflix",
		Name:      "sessions_total",
		Help:      "Total finished sessions by outcome.",
	}, []string{"outcome"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		SessionPhaseTransitionsTotal,
		BackendTransitionsTotal,
		BackendFallbacksTotal,
		DownloadSpeedBytes,
		DownloadPercent,
		PeersConnected,
		BufferTargetBytes,
		PlayerCommandsTotal,
		SessionsTotal,
	)
}
