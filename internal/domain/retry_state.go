package domain

// RetryState is the per-job retry bookkeeping. It is serialized with the
// job so resuming after a restart preserves attempt counters exactly.
type RetryState struct {
	Attempts map[Stage]int `json:"attempts"`
	TightenLevel map[Stage]int `json:"tightenLevel"`
	LastFailedStage Stage `json:"lastFailedStage,omitempty"`
	FailedFinal bool `json:"failedFinal"`
	FailureReasons []string `json:"failureReasons"`
}

// NewRetryState returns a zero-valued RetryState ready to track attempts
// for a freshly created job.
func NewRetryState() RetryState {
	return RetryState{
		Attempts: map[Stage]int{},
		TightenLevel: map[Stage]int{},
	}
}

// RetryDecision is the retry controller's output for one attempt.
type RetryDecision struct {
	ShouldRetry bool
	TightenLevel int
	GiveUp bool
}

// StrictRetry reports whether any stage in the state has a nonzero tighten
// level, i.e. some retry happened at tighten level >= 1 (GLOSSARY:
// "Strict retry").
func (rs RetryState) StrictRetry() bool {
	for _, lvl := range rs.TightenLevel {
		if lvl >= 1 {
			return true
		}
	}
	return false
}
