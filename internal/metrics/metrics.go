// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for DropsTotal.
const (
	ReasonMalformed   = "malformed"
	ReasonUnsupported = "unsupported"
	ReasonTruncated   = "truncated"
	ReasonCacheFull   = "cache_full"
	ReasonOverlap     = "overlap"
	ReasonRateLimited = "rate_limited"
	ReasonTooLarge    = "too_large"
	ReasonLink        = "link"
)

var (
	// FramesSentTotal counts link frames handed to the driver
	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_frames_sent_total",
			Help: "Total number of link frames sent",
		},
		[]string{"interface"},
	)

	// FramesReceivedTotal counts inbound link frames by dispatch type
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_frames_received_total",
			Help: "Total number of link frames received",
		},
		[]string{"interface", "dispatch"},
	)

	// DatagramsFragmentedTotal counts outbound datagrams that needed fragmentation
	DatagramsFragmentedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_datagrams_fragmented_total",
			Help: "Total number of datagrams sent as fragments",
		},
		[]string{"interface"},
	)

	// DatagramsDeliveredTotal counts datagrams handed to the upper stack
	DatagramsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_datagrams_delivered_total",
			Help: "Total number of datagrams delivered to the upper stack",
		},
		[]string{"interface"},
	)

	// DatagramsReassembledTotal counts datagrams completed by the reassembly cache
	DatagramsReassembledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_datagrams_reassembled_total",
			Help: "Total number of datagrams reassembled from fragments",
		},
		[]string{"interface"},
	)

	// DropsTotal counts dropped frames and datagrams by reason
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_drops_total",
			Help: "Total number of dropped frames or datagrams",
		},
		[]string{"interface", "reason"},
	)

	// ReassemblyActiveEntries tracks datagrams awaiting reassembly
	ReassemblyActiveEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lowpan_reassembly_active_entries",
			Help: "Number of datagrams currently under reassembly",
		},
		[]string{"interface"},
	)

	// ReassemblyTimeoutsTotal counts reassemblies discarded at their deadline
	ReassemblyTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_reassembly_timeouts_total",
			Help: "Total number of incomplete datagrams discarded on timeout",
		},
		[]string{"interface"},
	)

	// CompressedHeaderBytes observes IPHC header sizes
	CompressedHeaderBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lowpan_compressed_header_bytes",
			Help:    "Size of compressed IPHC headers in bytes",
			Buckets: prometheus.LinearBuckets(2, 4, 12), // 2 to 46 bytes
		},
		[]string{"interface"},
	)
)
