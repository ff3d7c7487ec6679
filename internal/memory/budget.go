package memory

import (
	"context"
	"sync"
)

// Budget tracks memory for exactly one fetch. It records the first and the
// peak resident size seen by Check; the peak never decreases. A nil *Budget
// always reports StatusOK.
type Budget struct {
	sampler   Sampler
	limitMB   float64
	warnRatio float64

	mu      sync.Mutex
	sampled bool
	initial float64
	peak    float64
	last    Sample
}

// NewBudget creates a budget. Create a fresh one per fetch.
func NewBudget(sampler Sampler, limitMB, warnRatio float64) *Budget {
	if warnRatio <= 0 || warnRatio > 1 {
		warnRatio = DefaultWarnRatio
	}
	return &Budget{sampler: sampler, limitMB: limitMB, warnRatio: warnRatio}
}

// Check samples memory and classifies it. Sampling failures are returned for
// logging but classify as StatusOK: the budget is advisory.
func (b *Budget) Check(ctx context.Context) (Status, Sample, error) {
	if b == nil || b.sampler == nil {
		return StatusOK, Sample{}, nil
	}
	sample, err := b.sampler.Sample(ctx)
	if err != nil {
		return StatusOK, Sample{}, err
	}

	b.mu.Lock()
	if !b.sampled {
		b.sampled = true
		b.initial = sample.ResidentMB
	}
	if sample.ResidentMB > b.peak {
		b.peak = sample.ResidentMB
	}
	b.last = sample
	b.mu.Unlock()

	return Classify(sample, b.limitMB, b.warnRatio), sample, nil
}

// LimitMB returns the configured limit.
func (b *Budget) LimitMB() float64 {
	if b == nil {
		return 0
	}
	return b.limitMB
}

// Initial returns the first resident size observed, or 0 before any Check.
func (b *Budget) Initial() float64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initial
}

// Peak returns the highest resident size observed.
func (b *Budget) Peak() float64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

// Last returns the most recent successful sample.
func (b *Budget) Last() Sample {
	if b == nil {
		return Sample{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
