package metrics

import (
	"sync/atomic"
	"time"
)

// ID identifies one counter or histogram.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	TwoFactorRequired
	TwoFactorFailure
	TwoFactorAttemptsExceeded
	RefreshSuccess
	RefreshFailure
	RefreshShared
	RefreshDiscarded
	RequestReplayed
	SessionExpired
	SessionRestored
	Logout
	LogoutRemoteFailure
	AccessDenied
	RoleWriteRejected
	CycleRejected
	PermissionResolve
	ResolverCacheHit
	HierarchyGuard
	PersistenceFailure
	RefreshLatency
	Count
)

// BucketCount is the number of histogram buckets.
const BucketCount = 8

const cacheLineSize = 64

// bucketBounds are upper bounds of all but the last (+Inf) bucket.
var bucketBounds = [BucketCount - 1]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

type histogram struct {
	buckets [BucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles collection.
type Config struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Metrics stores counters and histograms. A nil *Metrics is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [Count]paddedCounter
	histograms    [Count]histogram
}

// Snapshot is a point-in-time copy of all values.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= Count {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into histogram id.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.enableLatency || id >= Count {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= Count {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	out := Snapshot{
		Counters:   make(map[ID]uint64, int(Count)),
		Histograms: make(map[ID][]uint64, 1),
	}
	if m == nil {
		return out
	}
	for i := ID(0); i < Count; i++ {
		out.Counters[i] = atomic.LoadUint64(&m.counters[i].value)
	}
	if m.enableLatency {
		b := make([]uint64, BucketCount)
		for i := range b {
			b[i] = atomic.LoadUint64(&m.histograms[RefreshLatency].buckets[i])
		}
		out.Histograms[RefreshLatency] = b
	}
	return out
}

func bucketIndex(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d <= bound {
			return i
		}
	}
	return BucketCount - 1
}
