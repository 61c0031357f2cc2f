package infra

import (
	"sync/atomic"
	"time"
)

// Latency buckets for bid processing, in microseconds.
var latencyBucketsUs = [...]int64{100, 500, 1_000, 5_000, 10_000, 50_000}

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	bidsAccepted  atomic.Uint64
	bidsRejected  atomic.Uint64
	raceLost      atomic.Uint64
	auctionsOpen  atomic.Int64
	extensions    atomic.Uint64
	instantBuys   atomic.Uint64
	errorsTotal   atomic.Uint64
	ledgerPending atomic.Int64

	// Convergence gauges: the in-memory bid count should catch up with
	// the durable count once the ledger drains.
	cacheBids   atomic.Uint64
	durableBids atomic.Uint64

	// Bid latency histogram plus running sum for the average.
	latencyBuckets [len(latencyBucketsUs) + 1]atomic.Uint64
	latencySumNs   atomic.Int64
	latencyCount   atomic.Uint64

	activeSubscribers atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordBidAccepted records a committed bid with its processing latency.
func (m *Metrics) RecordBidAccepted(latency time.Duration) {
	m.bidsAccepted.Add(1)
	m.observeLatency(latency)
}

// RecordBidRejected records a rejected bid. Version conflicts count
// separately so contention is visible on its own.
func (m *Metrics) RecordBidRejected(raceLost bool) {
	m.bidsRejected.Add(1)
	if raceLost {
		m.raceLost.Add(1)
	}
}

func (m *Metrics) observeLatency(latency time.Duration) {
	us := latency.Microseconds()
	idx := len(latencyBucketsUs)
	for i, bound := range latencyBucketsUs {
		if us <= bound {
			idx = i
			break
		}
	}
	m.latencyBuckets[idx].Add(1)
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordExtension records a deadline extension.
func (m *Metrics) RecordExtension() {
	m.extensions.Add(1)
}

// RecordInstantBuy records an accepted instant purchase.
func (m *Metrics) RecordInstantBuy() {
	m.instantBuys.Add(1)
}

// SetOpenAuctions sets the number of auctions currently accepting bids.
func (m *Metrics) SetOpenAuctions(n int64) {
	m.auctionsOpen.Store(n)
}

// SetLedgerPending sets the number of ledger records awaiting drain.
func (m *Metrics) SetLedgerPending(n int64) {
	m.ledgerPending.Store(n)
}

// SetCacheBids sets the total bid count held by the fast cache.
func (m *Metrics) SetCacheBids(n uint64) {
	m.cacheBids.Store(n)
}

// SetDurableBids sets the total bid count in the durable store.
func (m *Metrics) SetDurableBids(n uint64) {
	m.durableBids.Store(n)
}

// IncrementSubscribers increments active websocket subscribers by 1.
func (m *Metrics) IncrementSubscribers() {
	m.activeSubscribers.Add(1)
}

// DecrementSubscribers decrements active websocket subscribers by 1.
func (m *Metrics) DecrementSubscribers() {
	m.activeSubscribers.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	BidsAccepted      uint64
	BidsRejected      uint64
	RaceLost          uint64
	Extensions        uint64
	InstantBuys       uint64
	ErrorsTotal       uint64
	OpenAuctions      int64
	LedgerPending     int64
	CacheBids         uint64
	DurableBids       uint64
	AvgLatencyNs      int64
	LatencyBucketsUs  []int64
	LatencyCounts     []uint64
	ActiveSubscribers int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	counts := make([]uint64, len(m.latencyBuckets))
	for i := range m.latencyBuckets {
		counts[i] = m.latencyBuckets[i].Load()
	}

	return MetricsSnapshot{
		BidsAccepted:      m.bidsAccepted.Load(),
		BidsRejected:      m.bidsRejected.Load(),
		RaceLost:          m.raceLost.Load(),
		Extensions:        m.extensions.Load(),
		InstantBuys:       m.instantBuys.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		OpenAuctions:      m.auctionsOpen.Load(),
		LedgerPending:     m.ledgerPending.Load(),
		CacheBids:         m.cacheBids.Load(),
		DurableBids:       m.durableBids.Load(),
		AvgLatencyNs:      avgLatency,
		LatencyBucketsUs:  latencyBucketsUs[:],
		LatencyCounts:     counts,
		ActiveSubscribers: m.activeSubscribers.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.bidsAccepted.Store(0)
	m.bidsRejected.Store(0)
	m.raceLost.Store(0)
	m.extensions.Store(0)
	m.instantBuys.Store(0)
	m.errorsTotal.Store(0)
	m.auctionsOpen.Store(0)
	m.ledgerPending.Store(0)
	m.cacheBids.Store(0)
	m.durableBids.Store(0)
	for i := range m.latencyBuckets {
		m.latencyBuckets[i].Store(0)
	}
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeSubscribers.Store(0)
}
