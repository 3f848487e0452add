package eviction

const (
	// DefaultHighWater is the fraction of MaxBytes at which eviction starts.
	DefaultHighWater = 0.8
	// DefaultLowWater is the fraction of MaxBytes eviction drives the size below.
	DefaultLowWater = 0.7
)

// Budget is the ceiling a cache must stay under.
// A zero MaxBytes or MaxEntries disables that dimension.
type Budget struct {
	MaxBytes   int64
	MaxEntries int
	HighWater  float64
	LowWater   float64
}

// NewBudget returns a budget with the default 80%/70% hysteresis band.
func NewBudget(maxBytes int64, maxEntries int) Budget {
	return Budget{
		MaxBytes:   maxBytes,
		MaxEntries: maxEntries,
		HighWater:  DefaultHighWater,
		LowWater:   DefaultLowWater,
	}
}

// Exceeded reports whether size or count is over the hard limit.
func (b Budget) Exceeded(size int64, count int) bool {
	if b.MaxBytes > 0 && size > b.MaxBytes {
		return true
	}
	return b.MaxEntries > 0 && count > b.MaxEntries
}

// Plan selects the keys to evict from candidates, whose sizes add up to size.
//
// Nothing is selected while size is below the high-water mark and the entry
// count is within MaxEntries. Otherwise candidates are ranked by strategy and
// taken in order until size is at or below the low-water mark and the count
// fits. Plan sorts candidates in place.
func (b Budget) Plan(strategy Strategy, candidates []Candidate, size int64) []string {
	high, low := b.marks()
	count := len(candidates)

	overBytes := b.MaxBytes > 0 && float64(size) >= high
	overCount := b.MaxEntries > 0 && count > b.MaxEntries
	if !overBytes && !overCount {
		return nil
	}

	strategy.Rank(candidates)

	var victims []string
	for _, c := range candidates {
		needBytes := overBytes && float64(size) > low
		needCount := b.MaxEntries > 0 && count > b.MaxEntries
		if !needBytes && !needCount {
			break
		}

		victims = append(victims, c.Key)
		size -= c.Size
		count--
	}

	return victims
}

func (b Budget) marks() (high, low float64) {
	hw, lw := b.HighWater, b.LowWater
	if hw <= 0 || hw > 1 {
		hw = DefaultHighWater
	}
	if lw <= 0 || lw > hw {
		lw = DefaultLowWater
		if lw > hw {
			lw = hw
		}
	}
	return hw * float64(b.MaxBytes), lw * float64(b.MaxBytes)
}
