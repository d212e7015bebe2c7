// Package aging implements the delayed-rollout decision engine.
//
// A repository candidate version must remain the unchanged candidate for a
// configured number of days before an upgrade is authorized. The engine is a
// pure function over the observed versions, the previously persisted aging
// state and the current time; it performs no I/O.
package aging

import (
	"fmt"
	"time"

	debversion "github.com/knqyf263/go-deb-version"
)

// Decision is the outcome of one evaluation. Exactly one decision is produced
// per run, in the priority order the constants are declared in.
type Decision int

const (
	// DecisionNotInstalled means the package is not installed, so there is no
	// upgrade path. State is left untouched.
	DecisionNotInstalled Decision = iota

	// DecisionNoCandidate means the repositories offer no version. State is
	// left untouched.
	DecisionNoCandidate

	// DecisionAlreadyCurrent means the installed version already meets or
	// exceeds the candidate. Any stored aging state is stale and is cleared.
	DecisionAlreadyCurrent

	// DecisionNewCandidate means the offered candidate differs from the
	// tracked one (or nothing was tracked). Aging restarts from now; the
	// superseded version's progress is discarded, even on rollback to an
	// older candidate.
	DecisionNewCandidate

	// DecisionStillAging means the tracked candidate is unchanged but has not
	// yet settled for the configured delay.
	DecisionStillAging

	// DecisionMature means the tracked candidate has settled for at least the
	// configured delay and the upgrade is authorized.
	DecisionMature
)

// String returns the journal/log token for the decision.
func (d Decision) String() string {
	switch d {
	case DecisionNotInstalled:
		return "not-installed"
	case DecisionNoCandidate:
		return "no-candidate"
	case DecisionAlreadyCurrent:
		return "already-current"
	case DecisionNewCandidate:
		return "new-candidate"
	case DecisionStillAging:
		return "still-aging"
	case DecisionMature:
		return "mature"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// State is the persistent aging record for the managed package.
type State struct {
	// CandidateVersion is the version string being aged.
	CandidateVersion string

	// FirstSeenAt is when this exact version was first observed as the
	// repository candidate. It is only ever reset, never advanced, and only
	// when CandidateVersion changes.
	FirstSeenAt time.Time

	// LastCheckAt is when the most recent evaluation happened. Diagnostic
	// only; it does not influence decisions.
	LastCheckAt time.Time
}

// Age returns how long the tracked candidate has been the unchanged offer.
// A stored FirstSeenAt in the future (backward clock jump) yields zero,
// never a negative duration.
func (s *State) Age(now time.Time) time.Duration {
	if s == nil || now.Before(s.FirstSeenAt) {
		return 0
	}
	return now.Sub(s.FirstSeenAt)
}

// Decide maps the observed versions and prior state to a decision and the
// state to persist afterwards.
//
// Empty installed/candidate strings mean "absent". The returned next state is
// nil when no state should remain stored (DecisionAlreadyCurrent) and equal
// to prior when state must be left untouched (DecisionNotInstalled,
// DecisionNoCandidate). A failed upgrade after DecisionMature needs no
// special handling here: FirstSeenAt is preserved, so the next run decides
// mature again and retries without re-aging.
func Decide(installed, candidate string, prior *State, now time.Time, delayDays int) (Decision, *State, error) {
	if installed == "" {
		return DecisionNotInstalled, prior, nil
	}
	if candidate == "" {
		return DecisionNoCandidate, prior, nil
	}

	current, err := isAtLeast(installed, candidate)
	if err != nil {
		return 0, nil, err
	}
	if current {
		return DecisionAlreadyCurrent, nil, nil
	}

	if prior == nil || prior.CandidateVersion != candidate {
		next := &State{
			CandidateVersion: candidate,
			FirstSeenAt:      now.UTC(),
			LastCheckAt:      now.UTC(),
		}
		return DecisionNewCandidate, next, nil
	}

	next := &State{
		CandidateVersion: prior.CandidateVersion,
		FirstSeenAt:      prior.FirstSeenAt,
		LastCheckAt:      now.UTC(),
	}

	delay := time.Duration(delayDays) * 24 * time.Hour
	if prior.Age(now) >= delay {
		return DecisionMature, next, nil
	}
	return DecisionStillAging, next, nil
}

// isAtLeast reports whether installed >= candidate under dpkg version
// ordering (epoch, upstream version and Debian revision aware). Lexicographic
// comparison would misorder versions such as 0.9.0 and 0.10.0.
func isAtLeast(installed, candidate string) (bool, error) {
	vi, err := debversion.NewVersion(installed)
	if err != nil {
		return false, fmt.Errorf("invalid installed version %q: %w", installed, err)
	}
	vc, err := debversion.NewVersion(candidate)
	if err != nil {
		return false, fmt.Errorf("invalid candidate version %q: %w", candidate, err)
	}
	return !vi.LessThan(vc), nil
}
