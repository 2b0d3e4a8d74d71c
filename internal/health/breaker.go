// Package health gates chronically failing sources behind a failure counter.
package health

import "sync"

const defaultFailureThreshold = 3

// Breaker counts consecutive failures per source. A source at or above the
// threshold is skipped until a single success resets its counter; there is
// no time-based recovery and no half-open probe state.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	failures  map[string]int
}

// NewBreaker builds a breaker; threshold <= 0 selects the default of 3.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	return &Breaker{threshold: threshold, failures: map[string]int{}}
}

// CanCall reports whether the source is still below the failure threshold.
func (b *Breaker) CanCall(source string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[source] < b.threshold
}

// RecordSuccess resets the source's counter, reopening the circuit.
func (b *Breaker) RecordSuccess(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[source] = 0
}

// RecordFailure increments the source's counter.
func (b *Breaker) RecordFailure(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[source]++
}

// Tripped lists sources currently at or above the threshold, with their
// counts, for health reporting.
func (b *Breaker) Tripped() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := map[string]int{}
	for source, count := range b.failures {
		if count >= b.threshold {
			out[source] = count
		}
	}
	return out
}
