package memory

// DefaultWarnRatio is the fraction of the limit at which Classify reports StatusWarning.
const DefaultWarnRatio = 0.8

// Status classifies a sample against a budget.
type Status int

const (
	// StatusOK means work may continue.
	StatusOK Status = iota
	// StatusWarning means usage is close to the limit.
	StatusWarning
	// StatusStop means usage reached the limit and expensive work must stop.
	StatusStop
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Classify compares sample against limitMB. A non-positive limit disables the
// budget. warnRatio outside (0, 1] falls back to DefaultWarnRatio.
func Classify(sample Sample, limitMB, warnRatio float64) Status {
	if limitMB <= 0 {
		return StatusOK
	}
	if warnRatio <= 0 || warnRatio > 1 {
		warnRatio = DefaultWarnRatio
	}
	switch {
	case sample.ResidentMB >= limitMB:
		return StatusStop
	case sample.ResidentMB >= limitMB*warnRatio:
		return StatusWarning
	default:
		return StatusOK
	}
}
