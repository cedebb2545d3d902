// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureFramesTotal counts frames read from the capture source
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zwiftmon_capture_frames_total",
			Help: "Total number of frames read from the capture source",
		},
		[]string{"source"},
	)

	// CaptureKernelDrops is the drop count last reported by the capture
	// source (libpcap or the packet socket)
	CaptureKernelDrops = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zwiftmon_capture_kernel_drops",
			Help: "Frames dropped below the capture source, as last reported by it",
		},
		[]string{"source"},
	)

	// CaptureDropsTotal counts frames lost before decoding
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zwiftmon_capture_drops_total",
			Help: "Total number of frames dropped before decoding",
		},
		[]string{"stage"},
	)

	// MessagesTotal counts decoded messages handed to the emitter
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zwiftmon_messages_total",
			Help: "Total number of decoded protocol messages",
		},
		[]string{"direction", "transport"},
	)

	// DropsTotal counts frames or messages discarded by the decode pipeline
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zwiftmon_drops_total",
			Help: "Total number of frames or messages dropped by the pipeline",
		},
		[]string{"direction", "reason"},
	)

	// SequenceGapsTotal counts inbound sequence gaps
	SequenceGapsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zwiftmon_sequence_gaps_total",
			Help: "Total number of inbound sequence gaps",
		},
	)

	// SequenceMissingTotal counts seqnos skipped over by gaps
	SequenceMissingTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zwiftmon_sequence_missing_total",
			Help: "Total number of inbound sequence numbers never seen",
		},
	)

	// SubPayloadsTotal counts player update entries by resolution status
	SubPayloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zwiftmon_sub_payloads_total",
			Help: "Total number of player update payloads by status",
		},
		[]string{"status"},
	)

	// DecodeLatencySeconds measures frame processing time
	DecodeLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zwiftmon_decode_latency_seconds",
			Help:    "Latency of frame decoding in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"transport"},
	)

	// ClockDriftSeconds tracks the latest outbound world clock drift
	ClockDriftSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zwiftmon_clock_drift_seconds",
			Help: "Capture time minus world time of the latest outbound message",
		},
	)

	// ReassemblyFlows tracks TCP flows with reassembly state
	ReassemblyFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zwiftmon_reassembly_flows",
			Help: "Number of TCP flows tracked by the reassembler",
		},
	)

	// EventQueueDepth tracks events waiting for delivery
	EventQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zwiftmon_event_queue_depth",
			Help: "Number of events queued for subscribers",
		},
	)

	// SinkErrorsTotal counts sink failures by sink name
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zwiftmon_sink_errors_total",
			Help: "Total number of sink errors",
		},
		[]string{"sink"},
	)
)

// Drop reasons.
const (
	ReasonNotApplicable  = "not_applicable"
	ReasonStale          = "stale"
	ReasonUnknownVariant = "unknown_variant"
	ReasonMalformed      = "malformed"
	ReasonDecodeError    = "decode_error"
	ReasonOverrun        = "overrun"
	ReasonSequenceGap    = "tcp_gap"
	ReasonUnsupported    = "unsupported_direction"
	ReasonQueueFull      = "queue_full"
)
