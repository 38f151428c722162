// Package metrics exposes gateway health and error-kind counters as a custom
// prometheus.Collector: Describe/Collect iterate a small fixed set of
// *prometheus.Desc, backed by atomic counters and a mutex-guarded map of
// per-IMEI gauge state.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Error kinds tracked by RecordError. Names and triggers match the error
// handling table. FrameResync has no kind here: the frame codec resyncs
// without logging or reporting it.
const (
	KindMalformedFrame        = "MalformedFrame"
	KindUnknownProtocol       = "UnknownProtocol"
	KindUnauthenticatedPacket = "UnauthenticatedPacket"
	KindSocketIO              = "SocketIO"
	KindRegistryOverflow      = "RegistryOverflow"
	KindObserverIO            = "ObserverIO"
	KindObserverParseError    = "ObserverParseError"
	KindFatalBind             = "FatalBind"
)

// Collector implements prometheus.Collector for the gateway's runtime
// counters and gauges. All fields are updated via atomics or a small mutex
// so the hot ingestion and broadcast paths never contend on a Prometheus
// internal lock.
type Collector struct {
	framesReceived uint64
	errorCounts    sync.Map // kind string -> *uint64

	mu            sync.Mutex
	deviceCount   int
	observerCount int
	queueDepths   map[string]int

	framesReceivedDesc *prometheus.Desc
	errorsDesc         *prometheus.Desc
	deviceCountDesc    *prometheus.Desc
	observerCountDesc  *prometheus.Desc
	queueDepthDesc     *prometheus.Desc
}

// New creates a Collector. Register it with a prometheus.Registry (or
// prometheus.MustRegister(collector) against the default registry) once, at
// process startup.
func New() *Collector {
	return &Collector{
		queueDepths: make(map[string]int),
		framesReceivedDesc: prometheus.NewDesc(
			"gt06_gateway_frames_received_total",
			"Total number of well-formed frames split off the TCP stream.",
			nil, nil,
		),
		errorsDesc: prometheus.NewDesc(
			"gt06_gateway_errors_total",
			"Total number of handled errors, by kind.",
			[]string{"kind"}, nil,
		),
		deviceCountDesc: prometheus.NewDesc(
			"gt06_gateway_devices",
			"Number of devices currently known to the registry.",
			nil, nil,
		),
		observerCountDesc: prometheus.NewDesc(
			"gt06_gateway_observers",
			"Number of currently connected observer endpoints.",
			nil, nil,
		),
		queueDepthDesc: prometheus.NewDesc(
			"gt06_gateway_queue_depth",
			"Current per-device queue depth.",
			[]string{"imei"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesReceivedDesc
	ch <- c.errorsDesc
	ch <- c.deviceCountDesc
	ch <- c.observerCountDesc
	ch <- c.queueDepthDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.framesReceivedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.framesReceived)))

	c.errorCounts.Range(func(key, value interface{}) bool {
		kind := key.(string)
		count := atomic.LoadUint64(value.(*uint64))
		ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(count), kind)
		return true
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	ch <- prometheus.MustNewConstMetric(c.deviceCountDesc, prometheus.GaugeValue, float64(c.deviceCount))
	ch <- prometheus.MustNewConstMetric(c.observerCountDesc, prometheus.GaugeValue, float64(c.observerCount))
	for imei, depth := range c.queueDepths {
		ch <- prometheus.MustNewConstMetric(c.queueDepthDesc, prometheus.GaugeValue, float64(depth), imei)
	}
}

// RecordFrame increments the well-formed-frame counter.
func (c *Collector) RecordFrame() {
	atomic.AddUint64(&c.framesReceived, 1)
}

// RecordError increments the per-kind error counter.
func (c *Collector) RecordError(kind string) {
	counterIface, _ := c.errorCounts.LoadOrStore(kind, new(uint64))
	atomic.AddUint64(counterIface.(*uint64), 1)
}

// RecordObserverIO satisfies internal/broadcast.FailureRecorder.
func (c *Collector) RecordObserverIO() {
	c.RecordError(KindObserverIO)
}

// SetObserverCount satisfies internal/broadcast.FailureRecorder.
func (c *Collector) SetObserverCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observerCount = n
}

// SetDeviceCount updates the known-device gauge.
func (c *Collector) SetDeviceCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceCount = n
}

// RecordQueueOverflow satisfies internal/queue.Metrics.
func (c *Collector) RecordQueueOverflow(imei string) {
	c.RecordError(KindRegistryOverflow)
}

// SetQueueDepth satisfies internal/queue.Metrics.
func (c *Collector) SetQueueDepth(imei string, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if depth == 0 {
		delete(c.queueDepths, imei)
		return
	}
	c.queueDepths[imei] = depth
}
