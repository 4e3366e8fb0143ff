package dnc

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// MembershipFilter answers "is this number possibly on the list?" with no
// false negatives. False positives are tolerated and resolved by a store
// lookup on the verify path. Implementations must be safe for concurrent use.
type MembershipFilter interface {
	// Initialize rebuilds the filter from a full snapshot of active numbers
	Initialize(numbers []string)

	// Add records a single number
	Add(number string)

	// BulkAdd records many numbers
	BulkAdd(numbers []string)

	// MayContain returns false only when the number is definitely absent
	MayContain(number string) bool

	// Stats describes the filter for observability
	Stats() FilterStats
}

// FilterStats describes the current filter state
type FilterStats struct {
	Implementation            string    `json:"implementation"`
	Count                     int64     `json:"count"`
	SizeBits                  uint64    `json:"size_bits,omitempty"`
	HashCount                 uint64    `json:"hash_count,omitempty"`
	EstimatedFalsePositiveRate float64  `json:"estimated_false_positive_rate"`
	InitializedAt             time.Time `json:"initialized_at"`
}

// BloomFilter is the probabilistic backing: a bit slice with k-fold double
// hashing. It cannot delete a single key (removing one element would risk
// false negatives for other entries sharing its buckets), so removals are
// handled by a full rebuild at the service layer.
type BloomFilter struct {
	mu        sync.RWMutex
	bits      []uint64
	size      uint64 // in bits
	hashCount uint64
	count     int64
	builtAt   time.Time
}

// NewBloomFilter sizes a bloom filter for the expected capacity and target
// false-positive rate using the standard formulas:
// m = -n*ln(p)/ln(2)^2, k = m/n*ln(2)
func NewBloomFilter(expectedCapacity uint64, falsePositiveRate float64) *BloomFilter {
	if expectedCapacity == 0 {
		expectedCapacity = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	m := uint64(math.Ceil(-float64(expectedCapacity) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := uint64(math.Round(float64(m) / float64(expectedCapacity) * math.Ln2))
	if k < 1 {
		k = 1
	}

	return &BloomFilter{
		bits:      make([]uint64, (m+63)/64),
		size:      m,
		hashCount: k,
		builtAt:   time.Now().UTC(),
	}
}

var _ MembershipFilter = (*BloomFilter)(nil)

// Initialize resets the bit array and loads the snapshot
func (bf *BloomFilter) Initialize(numbers []string) {
	bf.mu.Lock()
	for i := range bf.bits {
		bf.bits[i] = 0
	}
	bf.count = 0
	bf.builtAt = time.Now().UTC()
	bf.mu.Unlock()

	bf.BulkAdd(numbers)
}

// Add records one number
func (bf *BloomFilter) Add(number string) {
	h1, h2 := baseHashes(number)

	bf.mu.Lock()
	defer bf.mu.Unlock()

	for i := uint64(0); i < bf.hashCount; i++ {
		pos := (h1 + i*h2) % bf.size
		bf.bits[pos/64] |= 1 << (pos % 64)
	}
	bf.count++
}

// BulkAdd records many numbers under a single lock acquisition
func (bf *BloomFilter) BulkAdd(numbers []string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	for _, number := range numbers {
		h1, h2 := baseHashes(number)
		for i := uint64(0); i < bf.hashCount; i++ {
			pos := (h1 + i*h2) % bf.size
			bf.bits[pos/64] |= 1 << (pos % 64)
		}
		bf.count++
	}
}

// MayContain returns false only when the number is definitely absent
func (bf *BloomFilter) MayContain(number string) bool {
	h1, h2 := baseHashes(number)

	bf.mu.RLock()
	defer bf.mu.RUnlock()

	for i := uint64(0); i < bf.hashCount; i++ {
		pos := (h1 + i*h2) % bf.size
		if bf.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Stats reports size, count and the estimated false-positive rate
// (1 - e^(-kn/m))^k for the current load
func (bf *BloomFilter) Stats() FilterStats {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	fpRate := math.Pow(1-math.Exp(-float64(bf.hashCount)*float64(bf.count)/float64(bf.size)), float64(bf.hashCount))

	return FilterStats{
		Implementation:             "bloom",
		Count:                      bf.count,
		SizeBits:                   bf.size,
		HashCount:                  bf.hashCount,
		EstimatedFalsePositiveRate: fpRate,
		InitializedAt:              bf.builtAt,
	}
}

// baseHashes derives two independent 64-bit hashes for double hashing
func baseHashes(item string) (uint64, uint64) {
	h := fnv.New64a()
	h.Write([]byte(item))
	h1 := h.Sum64()

	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], h1)
	h.Reset()
	h.Write(seed[:])
	h.Write([]byte(item))
	h2 := h.Sum64()
	if h2 == 0 {
		h2 = 1
	}

	return h1, h2
}

// ExactFilter is the exact-membership fallback used when the probabilistic
// backing is disabled. It supports deletion, which the bloom backing cannot.
type ExactFilter struct {
	mu      sync.RWMutex
	numbers map[string]struct{}
	builtAt time.Time
}

// NewExactFilter creates an empty exact-membership filter
func NewExactFilter() *ExactFilter {
	return &ExactFilter{
		numbers: make(map[string]struct{}),
		builtAt: time.Now().UTC(),
	}
}

var _ MembershipFilter = (*ExactFilter)(nil)

// Initialize replaces the set with the snapshot
func (ef *ExactFilter) Initialize(numbers []string) {
	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		set[n] = struct{}{}
	}

	ef.mu.Lock()
	ef.numbers = set
	ef.builtAt = time.Now().UTC()
	ef.mu.Unlock()
}

// Add records one number
func (ef *ExactFilter) Add(number string) {
	ef.mu.Lock()
	ef.numbers[number] = struct{}{}
	ef.mu.Unlock()
}

// BulkAdd records many numbers
func (ef *ExactFilter) BulkAdd(numbers []string) {
	ef.mu.Lock()
	for _, n := range numbers {
		ef.numbers[n] = struct{}{}
	}
	ef.mu.Unlock()
}

// MayContain is exact for this backing
func (ef *ExactFilter) MayContain(number string) bool {
	ef.mu.RLock()
	_, ok := ef.numbers[number]
	ef.mu.RUnlock()
	return ok
}

// Remove deletes one number. Only the exact backing supports this.
func (ef *ExactFilter) Remove(number string) {
	ef.mu.Lock()
	delete(ef.numbers, number)
	ef.mu.Unlock()
}

// Stats reports the exact count; the false-positive rate is zero
func (ef *ExactFilter) Stats() FilterStats {
	ef.mu.RLock()
	defer ef.mu.RUnlock()

	return FilterStats{
		Implementation:             "exact",
		Count:                      int64(len(ef.numbers)),
		EstimatedFalsePositiveRate: 0,
		InitializedAt:              ef.builtAt,
	}
}
