// Package eviction decides which cache entries to drop when a cache grows past
// its byte or entry-count budget.
//
// The package is pure: it never touches cache state. Callers describe their
// entries as Candidates, a Strategy orders them from first-to-evict to
// last-to-evict, and a Budget turns that order into a list of victims.
package eviction

import (
	"sort"
	"time"

	"github.com/jmgilman/go/errors"
)

const (
	// NameFrequencyRecency selects the FrequencyRecency strategy.
	NameFrequencyRecency = "frequency-recency"
	// NameLRU selects the LeastRecentlyUsed strategy.
	NameLRU = "lru"
)

// Candidate is the accounting snapshot of one entry.
type Candidate struct {
	Key         string
	Size        int64
	AccessCount int64
	LastAccess  time.Time
}

// Strategy orders candidates for eviction.
type Strategy interface {
	// Name returns the configuration name of the strategy.
	Name() string
	// Rank sorts candidates in place, first victim first.
	Rank(candidates []Candidate)
}

// FrequencyRecency evicts the least frequently used entries first and breaks
// ties by evicting the least recently used one.
type FrequencyRecency struct{}

// Name implements Strategy.
func (FrequencyRecency) Name() string { return NameFrequencyRecency }

// Rank sorts ascending by (AccessCount, LastAccess, Key).
func (FrequencyRecency) Rank(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.Before(b.LastAccess)
		}
		return a.Key < b.Key
	})
}

// LeastRecentlyUsed evicts the entry that was read longest ago, ignoring frequency.
type LeastRecentlyUsed struct{}

// Name implements Strategy.
func (LeastRecentlyUsed) Name() string { return NameLRU }

// Rank sorts ascending by (LastAccess, Key).
func (LeastRecentlyUsed) Rank(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.Before(b.LastAccess)
		}
		return a.Key < b.Key
	})
}

// ByName returns the strategy registered under name.
// An empty name selects FrequencyRecency.
func ByName(name string) (Strategy, error) {
	switch name {
	case "", NameFrequencyRecency:
		return FrequencyRecency{}, nil
	case NameLRU:
		return LeastRecentlyUsed{}, nil
	default:
		return nil, errors.Newf(errors.CodeInvalidConfig, "unknown eviction strategy %q", name)
	}
}
