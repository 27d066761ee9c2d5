// Package retrycontrol decides, after one stage attempt's validator report
// comes back, whether to retry at a tightened sampling level or give up.
// It is a pure function of the job's persisted RetryState: no I/O, no
// clock reads, so the same (state, stage, pass) triple always yields the
// same decision — a restart replays it identically.
package retrycontrol

import "github.com/realestate-ai/enhance-pipeline/internal/domain"

const maxTightenLevel = 3

// Decide applies one stage attempt's outcome to the retry state and
// returns both the updated state and the resulting decision. The caller
// persists the returned state regardless of the decision, since attempts
// advance and FailedFinal is set on the give-up path; the tighten level is
// left as it was there.
func Decide(rs domain.RetryState, stage domain.Stage, pass bool, maxAttemptsPerStage int) (domain.RetryState, domain.RetryDecision) {
	rs = cloneState(rs)

	if pass {
		rs.TightenLevel[stage] = 0
		return rs, domain.RetryDecision{ShouldRetry: false, TightenLevel: 0, GiveUp: false}
	}

	rs.Attempts[stage]++
	if rs.Attempts[stage] > maxAttemptsPerStage {
		rs.LastFailedStage = stage
		rs.FailedFinal = true
		return rs, domain.RetryDecision{ShouldRetry: false, TightenLevel: rs.TightenLevel[stage], GiveUp: true}
	}

	level := clampLevel(rs.Attempts[stage])
	if level < rs.TightenLevel[stage] {
		// Tighten level never decreases across consecutive attempts (P4);
		// this only matters if a caller re-derives attempts from a stale
		// state, since Attempts[stage] is monotone non-decreasing on its own.
		level = rs.TightenLevel[stage]
	}
	rs.TightenLevel[stage] = level

	return rs, domain.RetryDecision{ShouldRetry: true, TightenLevel: level, GiveUp: false}
}

func clampLevel(attemptNumber int) int {
	if attemptNumber < 0 {
		return 0
	}
	if attemptNumber > maxTightenLevel {
		return maxTightenLevel
	}
	return attemptNumber
}

func cloneState(rs domain.RetryState) domain.RetryState {
	out := domain.RetryState{
		LastFailedStage: rs.LastFailedStage,
		FailedFinal:     rs.FailedFinal,
		Attempts:        make(map[domain.Stage]int, len(rs.Attempts)),
		TightenLevel:    make(map[domain.Stage]int, len(rs.TightenLevel)),
	}
	for k, v := range rs.Attempts {
		out.Attempts[k] = v
	}
	for k, v := range rs.TightenLevel {
		out.TightenLevel[k] = v
	}
	out.FailureReasons = append(out.FailureReasons, rs.FailureReasons...)
	return out
}

// RecordFailureReasons appends human-readable reasons from a failed
// attempt's triggers/checks, used when a stage ultimately gives up so the
// status API and failure analyzer have something to show beyond the
// error code.
func RecordFailureReasons(rs domain.RetryState, reasons ...string) domain.RetryState {
	rs = cloneState(rs)
	rs.FailureReasons = append(rs.FailureReasons, reasons...)
	return rs
}
