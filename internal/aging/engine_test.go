package aging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return now.Add(-time.Duration(d) * 24 * time.Hour)
}

func TestDecideNotInstalled(t *testing.T) {
	prior := &State{CandidateVersion: "1.2.3", FirstSeenAt: daysAgo(5), LastCheckAt: daysAgo(1)}

	decision, next, err := Decide("", "1.2.3", prior, now, 3)

	require.NoError(t, err)
	assert.Equal(t, DecisionNotInstalled, decision)
	assert.Same(t, prior, next, "state must be left untouched")
}

func TestDecideNoCandidate(t *testing.T) {
	prior := &State{CandidateVersion: "1.2.3", FirstSeenAt: daysAgo(5), LastCheckAt: daysAgo(1)}

	decision, next, err := Decide("1.2.2", "", prior, now, 3)

	require.NoError(t, err)
	assert.Equal(t, DecisionNoCandidate, decision)
	assert.Same(t, prior, next)
}

func TestDecideAlreadyCurrentClearsState(t *testing.T) {
	tests := []struct {
		name      string
		installed string
		candidate string
	}{
		{"equal versions", "1.2.3-1", "1.2.3-1"},
		{"installed newer", "1.2.4-1", "1.2.3-1"},
		{"installed newer by revision", "1.2.3-2", "1.2.3-1"},
		{"installed newer by epoch", "1:0.9.0", "1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prior := &State{CandidateVersion: tt.candidate, FirstSeenAt: daysAgo(10), LastCheckAt: daysAgo(1)}

			decision, next, err := Decide(tt.installed, tt.candidate, prior, now, 3)

			require.NoError(t, err)
			assert.Equal(t, DecisionAlreadyCurrent, decision)
			assert.Nil(t, next, "stale aging state must be cleared")
		})
	}
}

func TestDecideNewCandidate(t *testing.T) {
	tests := []struct {
		name  string
		prior *State
	}{
		{"no prior state", nil},
		{"different tracked version", &State{CandidateVersion: "1.2.2", FirstSeenAt: daysAgo(9), LastCheckAt: daysAgo(1)}},
		// The repository reverted to an older version than the tracked one.
		// The engine never assumes monotonically increasing candidates.
		{"rollback to older candidate", &State{CandidateVersion: "1.2.9", FirstSeenAt: daysAgo(9), LastCheckAt: daysAgo(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, next, err := Decide("1.2.2", "1.2.3", tt.prior, now, 3)

			require.NoError(t, err)
			assert.Equal(t, DecisionNewCandidate, decision)
			require.NotNil(t, next)
			assert.Equal(t, "1.2.3", next.CandidateVersion)
			assert.True(t, next.FirstSeenAt.Equal(now))
			assert.True(t, next.LastCheckAt.Equal(now))
		})
	}
}

func TestDecideStillAging(t *testing.T) {
	prior := &State{CandidateVersion: "1.2.3", FirstSeenAt: daysAgo(1), LastCheckAt: daysAgo(1)}

	decision, next, err := Decide("1.2.2", "1.2.3", prior, now, 3)

	require.NoError(t, err)
	assert.Equal(t, DecisionStillAging, decision)
	require.NotNil(t, next)
	assert.True(t, next.FirstSeenAt.Equal(prior.FirstSeenAt), "FirstSeenAt must not move")
	assert.True(t, next.LastCheckAt.Equal(now))
}

func TestDecideMature(t *testing.T) {
	tests := []struct {
		name      string
		firstSeen time.Time
		delayDays int
	}{
		{"age exactly at delay", daysAgo(3), 3},
		{"age beyond delay", daysAgo(10), 3},
		{"zero delay is immediately mature", now, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prior := &State{CandidateVersion: "1.2.3", FirstSeenAt: tt.firstSeen, LastCheckAt: tt.firstSeen}

			decision, next, err := Decide("1.2.2", "1.2.3", prior, now, tt.delayDays)

			require.NoError(t, err)
			assert.Equal(t, DecisionMature, decision)
			require.NotNil(t, next)
			assert.True(t, next.FirstSeenAt.Equal(tt.firstSeen), "retry after a failed upgrade must not re-age")
			assert.True(t, next.LastCheckAt.Equal(now))
		})
	}
}

func TestDecideInvalidVersion(t *testing.T) {
	_, _, err := Decide("not a version!", "1.2.3", nil, now, 3)
	require.Error(t, err)

	_, _, err = Decide("1.2.3", "also bad!", nil, now, 3)
	require.Error(t, err)
}

func TestAgeClampsBackwardClockJump(t *testing.T) {
	s := &State{CandidateVersion: "1.2.3", FirstSeenAt: now.Add(time.Hour)}

	assert.Equal(t, time.Duration(0), s.Age(now))

	var nilState *State
	assert.Equal(t, time.Duration(0), nilState.Age(now))
}

func TestVersionOrdering(t *testing.T) {
	tests := []struct {
		installed string
		candidate string
		atLeast   bool
	}{
		{"0.9.0", "0.10.0", false},
		{"0.10.0", "0.10.1", false},
		{"0.10.1", "0.10.0", true},
		{"0.10.0", "0.9.0", true},
		{"1.2.0-1", "1.2.1-1", false},
		{"1.2.1-1", "1.2.0-1", true},
		{"1.2.3-1", "1.2.3-1+deb12u1", false},
		{"2:1.0", "1:9.9", true},
	}

	for _, tt := range tests {
		got, err := isAtLeast(tt.installed, tt.candidate)
		require.NoError(t, err)
		assert.Equalf(t, tt.atLeast, got, "%s >= %s", tt.installed, tt.candidate)
	}
}

// TestDecideScenarioWalk follows one candidate through its whole lifecycle:
// detection, aging, supersession, maturity and the post-upgrade cleanup.
func TestDecideScenarioWalk(t *testing.T) {
	const delay = 3
	day := func(d int) time.Time { return now.Add(time.Duration(d) * 24 * time.Hour) }

	// Day 0: a fresh candidate appears.
	decision, st, err := Decide("1.2.2", "1.2.3", nil, day(0), delay)
	require.NoError(t, err)
	require.Equal(t, DecisionNewCandidate, decision)

	// Day 1: unchanged, still settling.
	decision, st, err = Decide("1.2.2", "1.2.3", st, day(1), delay)
	require.NoError(t, err)
	require.Equal(t, DecisionStillAging, decision)
	require.True(t, st.FirstSeenAt.Equal(day(0)))

	// Day 2: 1.2.3 is superseded before maturity and is never installed.
	decision, st, err = Decide("1.2.2", "1.2.4", st, day(2), delay)
	require.NoError(t, err)
	require.Equal(t, DecisionNewCandidate, decision)
	require.Equal(t, "1.2.4", st.CandidateVersion)
	require.True(t, st.FirstSeenAt.Equal(day(2)))

	// Day 5: 1.2.4 has settled for the full delay.
	decision, st, err = Decide("1.2.2", "1.2.4", st, day(5), delay)
	require.NoError(t, err)
	require.Equal(t, DecisionMature, decision)

	// After the upgrade the state is cleared.
	decision, st, err = Decide("1.2.4", "1.2.4", st, day(5), delay)
	require.NoError(t, err)
	require.Equal(t, DecisionAlreadyCurrent, decision)
	require.Nil(t, st)
}
