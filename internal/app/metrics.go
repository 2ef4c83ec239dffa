package app

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the daemon's operational counters. All series are local to
// the console process; nothing here carries identifiers or payload content.
type Metrics struct {
	TasksSubmitted    prometheus.Counter
	TasksTerminal     *prometheus.CounterVec
	TasksActive       prometheus.Gauge
	PollErrors        prometheus.Counter
	HandshakeAttempts *prometheus.CounterVec
	VaultSaves        *prometheus.CounterVec
	SessionRestores   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecash_console",
			Name:      "tasks_submitted_total",
			Help:      "Search tasks submitted to the backend.",
		}),
		TasksTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecash_console",
			Name:      "tasks_terminal_total",
			Help:      "Tasks that reached a terminal state, by status.",
		}, []string{"status"}),
		TasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ecash_console",
			Name:      "tasks_active",
			Help:      "Tasks currently tracked in the active registry.",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecash_console",
			Name:      "poll_errors_total",
			Help:      "Status polls that failed at the transport level.",
		}),
		HandshakeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecash_console",
			Name:      "remote_handshakes_total",
			Help:      "Remote signer handshake attempts, by outcome.",
		}, []string{"outcome"}),
		VaultSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecash_console",
			Name:      "vault_saves_total",
			Help:      "Encrypted record save attempts, by outcome.",
		}, []string{"outcome"}),
		SessionRestores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecash_console",
			Name:      "session_restores_total",
			Help:      "Session restore attempts at startup, by method and outcome.",
		}, []string{"method", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TasksSubmitted,
			m.TasksTerminal,
			m.TasksActive,
			m.PollErrors,
			m.HandshakeAttempts,
			m.VaultSaves,
			m.SessionRestores,
		)
	}
	return m
}
