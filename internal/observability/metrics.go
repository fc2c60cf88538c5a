package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "statesync"

// Frame channels.
const (
	ChannelTCP = "tcp"
	ChannelUDP = "udp"
)

// Drop reasons.
const (
	DropShortDatagram = "short_datagram"
	DropUnknownPeer   = "unknown_peer"
	DropUnbound       = "unbound_slot"
	DropSpoofed       = "spoofed_sender"
	DropDecode        = "decode"
	DropUnknownType   = "unknown_type"
	DropSendQueueFull = "send_queue_full"
	DropFrameTooLarge = "frame_too_large"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "frames_received_total",
			Help:      "Frames received and handed to dispatch.",
		},
		[]string{"channel"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded before or during dispatch.",
		},
		[]string{"channel", "reason"},
	)
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "ticks_total",
			Help:      "Simulation ticks executed.",
		},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "tick_duration_seconds",
			Help:      "Time spent inside one simulation tick.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .0167, .025, .05, .1},
		},
	)
	tickOverruns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "tick_overruns_total",
			Help:      "Ticks that started after their deadline.",
		},
	)
	dispatchDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Actions run by the most recent drain.",
		},
		[]string{"queue"},
	)
	sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "sessions",
			Help:      "Sessions by state.",
		},
		[]string{"state"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived,
			framesDropped,
			ticksTotal,
			tickDuration,
			tickOverruns,
			dispatchDepth,
			sessions,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrameReceived(channel string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(channel).Inc()
}

func RecordFrameDropped(channel, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(channel, reason).Inc()
}

func RecordTick(duration time.Duration) {
	RegisterMetrics()
	ticksTotal.Inc()
	tickDuration.Observe(duration.Seconds())
}

func RecordTickOverrun() {
	RegisterMetrics()
	tickOverruns.Inc()
}

func RecordDispatchDepth(queue string, depth int) {
	RegisterMetrics()
	dispatchDepth.WithLabelValues(queue).Set(float64(depth))
}

func RecordSessions(connected, inGame int) {
	RegisterMetrics()
	sessions.WithLabelValues("connected").Set(float64(connected))
	sessions.WithLabelValues("in_game").Set(float64(inGame))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
