// Package observability holds the process-wide Prometheus instruments.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callscribe_active_sessions",
		Help: "Live call sessions on this node.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callscribe_ws_clients",
		Help: "Websocket clients currently connected.",
	})

	CommittedLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscribe_transcript_lines_total",
		Help: "Transcript lines committed, by speaker.",
	}, []string{"speaker"})

	RelayClips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscribe_relay_clips_total",
		Help: "Audio clips accepted onto the relay, by mime type.",
	}, []string{"mime"})

	TranscodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callscribe_transcode_failures_total",
		Help: "Clips that fell back to their original encoding.",
	})

	TriageFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callscribe_triage_failures_total",
		Help: "Triage analyses that degraded to the manual-review fallback.",
	})
)
