package tiercache

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	// Entries is the number of live entries, including spilled ones.
	Entries int
	// TotalSize is the aggregate serialized size of all entries.
	TotalSize int64
	// MemoryUsage is the serialized size of the values currently held in memory.
	MemoryUsage int64
	// SpilledEntries counts entries whose value is only on disk.
	SpilledEntries int
	// ExpiredEntries counts entries past their TTL that have not been reaped yet.
	ExpiredEntries int

	Hits         int64
	Misses       int64
	HitRate      float64
	Evictions    int64
	Expirations  int64
	LoadFailures int64

	MaxSize    int64
	MaxEntries int

	// LastMaintenance is the time of the last maintenance run, zero if none.
	LastMaintenance time.Time
}

// metrics tracks the counters behind Stats.
type metrics struct {
	mu sync.RWMutex

	hits         int64
	misses       int64
	evictions    int64
	bytesEvicted int64
	expirations  int64
	loadFailures int64

	lastMaintenance time.Time
}

func (m *metrics) recordHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *metrics) recordMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *metrics) recordEviction(bytesEvicted int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions++
	m.bytesEvicted += bytesEvicted
}

func (m *metrics) recordExpiration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expirations++
}

func (m *metrics) recordLoadFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadFailures++
}

func (m *metrics) recordMaintenance(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastMaintenance = at
}

// fill copies the counters into s.
func (m *metrics) fill(s *Stats) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s.Hits = m.hits
	s.Misses = m.misses
	s.HitRate = calculateHitRate(m.hits, m.misses)
	s.Evictions = m.evictions
	s.Expirations = m.expirations
	s.LoadFailures = m.loadFailures
	s.LastMaintenance = m.lastMaintenance
}

func calculateHitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
