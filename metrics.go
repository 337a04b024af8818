package rxm

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// log-spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks send/recv operation counts, byte totals, rendezvous
// activity, and queue depth for one endpoint.
type Metrics struct {
	SendOps atomic.Uint64
	RecvOps atomic.Uint64

	SendBytes atomic.Uint64
	RecvBytes atomic.Uint64

	SendErrors atomic.Uint64
	RecvErrors atomic.Uint64

	RendezvousSends atomic.Uint64
	RendezvousRecvs atomic.Uint64

	UnexpectedMsgs atomic.Uint64
	CanceledOps    atomic.Uint64

	UntaggedQueueDepthTotal atomic.Uint64
	TaggedQueueDepthTotal   atomic.Uint64
	QueueDepthSamples       atomic.Uint64
	MaxUntaggedQueueDepth   atomic.Uint32
	MaxTaggedQueueDepth     atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a metrics instance stamped with the current time.
func NewMetrics(now time.Time) *Metrics {
	m := &Metrics{}
	m.StartTime.Store(now.UnixNano())
	return m
}

func (m *Metrics) RecordSend(bytes uint64, latencyNs uint64, rendezvous bool, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
		if rendezvous {
			m.RendezvousSends.Add(1)
		}
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordRecv(bytes uint64, latencyNs uint64, rendezvous bool, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
		if rendezvous {
			m.RendezvousRecvs.Add(1)
		}
	} else {
		m.RecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordUnexpected() { m.UnexpectedMsgs.Add(1) }
func (m *Metrics) RecordCanceled()   { m.CanceledOps.Add(1) }

func (m *Metrics) RecordQueueDepth(untagged, tagged int) {
	m.UntaggedQueueDepthTotal.Add(uint64(untagged))
	m.TaggedQueueDepthTotal.Add(uint64(tagged))
	m.QueueDepthSamples.Add(1)

	casMax := func(cur *atomic.Uint32, v uint32) {
		for {
			c := cur.Load()
			if v <= c {
				return
			}
			if cur.CompareAndSwap(c, v) {
				return
			}
		}
	}
	casMax(&m.MaxUntaggedQueueDepth, uint32(untagged))
	casMax(&m.MaxTaggedQueueDepth, uint32(tagged))
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the endpoint as closed, for uptime accounting.
func (m *Metrics) Stop(now time.Time) { m.StopTime.Store(now.UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without
// further synchronization.
type MetricsSnapshot struct {
	SendOps, RecvOps                       uint64
	SendBytes, RecvBytes                   uint64
	SendErrors, RecvErrors                 uint64
	RendezvousSends, RendezvousRecvs       uint64
	UnexpectedMsgs, CanceledOps             uint64
	AvgUntaggedQueueDepth, AvgTaggedQueueDepth float64
	MaxUntaggedQueueDepth, MaxTaggedQueueDepth uint32
	AvgLatencyNs                            uint64
	UptimeNs                                 uint64
	LatencyHistogram                         [numLatencyBuckets]uint64
}

// Snapshot copies the current metrics state.
func (m *Metrics) Snapshot(now time.Time) MetricsSnapshot {
	snap := MetricsSnapshot{
		SendOps:               m.SendOps.Load(),
		RecvOps:               m.RecvOps.Load(),
		SendBytes:             m.SendBytes.Load(),
		RecvBytes:             m.RecvBytes.Load(),
		SendErrors:            m.SendErrors.Load(),
		RecvErrors:            m.RecvErrors.Load(),
		RendezvousSends:       m.RendezvousSends.Load(),
		RendezvousRecvs:       m.RendezvousRecvs.Load(),
		UnexpectedMsgs:        m.UnexpectedMsgs.Load(),
		CanceledOps:           m.CanceledOps.Load(),
		MaxUntaggedQueueDepth: m.MaxUntaggedQueueDepth.Load(),
		MaxTaggedQueueDepth:   m.MaxTaggedQueueDepth.Load(),
	}

	if samples := m.QueueDepthSamples.Load(); samples > 0 {
		snap.AvgUntaggedQueueDepth = float64(m.UntaggedQueueDepthTotal.Load()) / float64(samples)
		snap.AvgTaggedQueueDepth = float64(m.TaggedQueueDepthTotal.Load()) / float64(samples)
	}

	if opCount := m.OpCount.Load(); opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(now.UnixNano() - start)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

// Observer receives data-path events so they can be threaded through the
// send/recv/progress paths without this package depending on a metrics
// implementation directly.
type Observer interface {
	ObserveSend(bytes uint64, latencyNs uint64, rendezvous bool, success bool)
	ObserveRecv(bytes uint64, latencyNs uint64, rendezvous bool, success bool)
	ObserveUnexpected()
	ObserveCanceled()
	ObserveQueueDepth(untagged, tagged int)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, uint64, bool, bool) {}
func (NoOpObserver) ObserveRecv(uint64, uint64, bool, bool) {}
func (NoOpObserver) ObserveUnexpected()                     {}
func (NoOpObserver) ObserveCanceled()                       {}
func (NoOpObserver) ObserveQueueDepth(int, int)             {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObserveSend(bytes, latencyNs uint64, rendezvous, success bool) {
	o.metrics.RecordSend(bytes, latencyNs, rendezvous, success)
}

func (o *MetricsObserver) ObserveRecv(bytes, latencyNs uint64, rendezvous, success bool) {
	o.metrics.RecordRecv(bytes, latencyNs, rendezvous, success)
}

func (o *MetricsObserver) ObserveUnexpected() { o.metrics.RecordUnexpected() }
func (o *MetricsObserver) ObserveCanceled()   { o.metrics.RecordCanceled() }

func (o *MetricsObserver) ObserveQueueDepth(untagged, tagged int) {
	o.metrics.RecordQueueDepth(untagged, tagged)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = NoOpObserver{}
