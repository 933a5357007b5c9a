package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Manager assigns stable buckets to phone numbers. The same hash feeds
// two consumers: the Postgres advisory-lock key that serializes all
// work on one phone, and the partition bucket on audit events.
type Manager struct {
	phoneBuckets int
	hasherPool   sync.Pool
}

func NewManager(phoneBuckets int) *Manager {
	if phoneBuckets <= 0 {
		phoneBuckets = 64
	}

	m := &Manager{
		phoneBuckets: phoneBuckets,
	}

	// Pool of hash functions to avoid allocation overhead on the hot path
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// PhoneBucket returns a consistent bucket for a phone number
// (0 to phoneBuckets-1).
func (m *Manager) PhoneBucket(phoneE164 string) int {
	return int(m.getHash(phoneE164) % uint64(m.phoneBuckets))
}

// AdvisoryKey returns the 64-bit advisory lock key for a phone number.
// pg_advisory_xact_lock takes a signed bigint; the cast is harmless as
// long as every caller applies it the same way.
func (m *Manager) AdvisoryKey(phoneE164 string) int64 {
	return int64(m.getHash(phoneE164))
}

// DateBucket returns the UTC date partition for event rows.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PhoneBuckets returns the configured bucket count.
func (m *Manager) PhoneBuckets() int {
	return m.phoneBuckets
}

func (m *Manager) getHash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
