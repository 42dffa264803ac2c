package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// framesRead counts frames received from the engine.
	framesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptdbg_frames_read_total",
		Help: "Frames received from the debugger engine",
	}, []string{"dialect"})

	// framesWritten counts requests sent to the engine.
	framesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptdbg_frames_written_total",
		Help: "Requests sent to the debugger engine",
	}, []string{"dialect"})

	// protocolErrors counts failures by kind (connection, framing, decode).
	protocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptdbg_protocol_errors_total",
		Help: "Protocol errors by dialect and kind",
	}, []string{"dialect", "kind"})

	// exchangeDuration tracks how long the exchange lock is held.
	exchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scriptdbg_exchange_duration_seconds",
		Help:    "Duration of request/response exchanges",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"dialect"})

	// pushedCommands counts unsolicited commands handled.
	pushedCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptdbg_pushed_commands_total",
		Help: "Unsolicited engine commands handled",
	}, []string{"command"})
)
