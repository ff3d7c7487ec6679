// Package loader drives a browser session to a readable state by trying an
// ordered list of page load strategies under a memory budget.
package loader

import (
	"fmt"
	"strings"
	"time"
)

// Strategy identifies one way of getting a page into a readable state.
type Strategy int

const (
	// StrategyDirect navigates with the driver and waits for the load event.
	StrategyDirect Strategy = iota + 1
	// StrategyScript assigns window.location from page script and polls.
	StrategyScript
	// StrategyEarlyStop stops loading and accepts whatever has rendered.
	StrategyEarlyStop
	// StrategyRawFetch fetches the document in-page and writes it directly.
	StrategyRawFetch
)

var strategyNames = map[Strategy]string{
	StrategyDirect:    "direct_navigation",
	StrategyScript:    "script_navigation",
	StrategyEarlyStop: "early_stop",
	StrategyRawFetch:  "raw_fetch",
}

// String implements fmt.Stringer.
func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy resolves a configured strategy name.
func ParseStrategy(name string) (Strategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for s, n := range strategyNames {
		if n == normalized {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown load strategy %q", name)
}

// DefaultStrategies is the full fallback order.
func DefaultStrategies() []Strategy {
	return []Strategy{StrategyDirect, StrategyScript, StrategyEarlyStop, StrategyRawFetch}
}

// Verdict is the tri-state result of one strategy attempt.
type Verdict int

const (
	// VerdictRetryable means try the next strategy.
	VerdictRetryable Verdict = iota
	// VerdictSuccess means content is available.
	VerdictSuccess
	// VerdictFatal means the session is unusable.
	VerdictFatal
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictFatal:
		return "fatal"
	default:
		return "retryable"
	}
}

// Attempt records one strategy run, including its in-place transient retries.
type Attempt struct {
	Strategy       Strategy
	Verdict        Verdict
	PartialContent bool
	Err            error
	Retries        int
	Duration       time.Duration
}

// Succeeded reports whether the attempt made content available.
func (a Attempt) Succeeded() bool {
	return a.Verdict == VerdictSuccess
}

// Result summarizes a Load call.
type Result struct {
	ContentAvailable bool
	Strategy         Strategy
	Attempts         []Attempt
	StoppedByMemory  bool
	LastErr          error
}
