package runner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptsettle/aptsettle/internal/aging"
	"github.com/aptsettle/aptsettle/internal/apt"
	"github.com/aptsettle/aptsettle/internal/config"
	"github.com/aptsettle/aptsettle/internal/history"
	"github.com/aptsettle/aptsettle/internal/lockfile"
	"github.com/aptsettle/aptsettle/internal/selfupdate"
)

var testNow = time.Date(2024, 5, 14, 6, 0, 0, 0, time.UTC)

type fakeSource struct {
	versions apt.Versions
	err      error
}

func (f *fakeSource) Versions(string) (apt.Versions, error) { return f.versions, f.err }

type fakeUpgrader struct {
	upgradeCalls   [][]string
	restartedUnits []string
	failUpgrade    bool
}

func (f *fakeUpgrader) UpgradeWithFallback(primary, reduced []string) error {
	f.upgradeCalls = append(f.upgradeCalls, primary)
	if f.failUpgrade {
		return fmt.Errorf("apt-get failed")
	}
	return nil
}

func (f *fakeUpgrader) RestartService(unit string) error {
	f.restartedUnits = append(f.restartedUnits, unit)
	return nil
}

type fakeStore struct {
	state   *aging.State
	saved   []aging.State
	cleared int
	saveErr error
}

func (f *fakeStore) Load() (*aging.State, error) { return f.state, nil }
func (f *fakeStore) Save(st aging.State) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, st)
	f.state = &st
	return nil
}
func (f *fakeStore) Clear() error {
	f.cleared++
	f.state = nil
	return nil
}

type fakeGuard struct {
	acquireErr error
	acquired   int
	released   int
}

func (f *fakeGuard) Acquire() error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired++
	return nil
}
func (f *fakeGuard) Release() error { f.released++; return nil }

type fakeJournal struct {
	events []*history.Event
	pruned []time.Time
}

func (f *fakeJournal) RecordEvent(ev *history.Event) error { f.events = append(f.events, ev); return nil }
func (f *fakeJournal) Prune(cutoff time.Time) (int64, error) {
	f.pruned = append(f.pruned, cutoff)
	return 0, nil
}

type fakeSelfUpdater struct {
	result selfupdate.Result
	err    error
	calls  int
}

func (f *fakeSelfUpdater) CheckAndApply(context.Context) (selfupdate.Result, error) {
	f.calls++
	return f.result, f.err
}

type fixture struct {
	cfg      config.Config
	source   *fakeSource
	upgrader *fakeUpgrader
	store    *fakeStore
	guard    *fakeGuard
	journal  *fakeJournal
	updater  *fakeSelfUpdater
}

func newFixture(versions apt.Versions, prior *aging.State) *fixture {
	cfg := config.Default()
	cfg.Packages = []string{"zabbix-agent2", "zabbix-agent2-plugin-mongodb"}
	cfg.DelayDays = 3
	cfg.ServiceUnit = "zabbix-agent2"

	return &fixture{
		cfg:      cfg,
		source:   &fakeSource{versions: versions},
		upgrader: &fakeUpgrader{},
		store:    &fakeStore{state: prior},
		guard:    &fakeGuard{},
		journal:  &fakeJournal{},
		updater:  &fakeSelfUpdater{result: selfupdate.Result{Outcome: selfupdate.OutcomeUpToDate, Tag: "v0.3.0"}},
	}
}

func (f *fixture) runner() *Runner {
	return New(f.cfg, Deps{
		Source:      f.source,
		Upgrader:    f.upgrader,
		SelfUpdater: f.updater,
		Store:       f.store,
		Guard:       f.guard,
		Journal:     f.journal,
		Now:         func() time.Time { return testNow },
	})
}

func TestRunNewCandidate(t *testing.T) {
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.3"}, nil)

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, aging.DecisionNewCandidate, res.Decision)
	assert.False(t, res.Upgraded)
	assert.Empty(t, f.upgrader.upgradeCalls, "nothing may be upgraded before maturity")
	require.Len(t, f.store.saved, 1)
	assert.Equal(t, "1.2.3", f.store.saved[0].CandidateVersion)
	assert.True(t, f.store.saved[0].FirstSeenAt.Equal(testNow))
	assert.Equal(t, 1, f.updater.calls, "self-update runs before the decision")
	assert.Equal(t, 1, f.guard.released)
}

func TestRunStillAging(t *testing.T) {
	prior := &aging.State{CandidateVersion: "1.2.3", FirstSeenAt: testNow.Add(-24 * time.Hour), LastCheckAt: testNow.Add(-24 * time.Hour)}
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.3"}, prior)

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, aging.DecisionStillAging, res.Decision)
	assert.Empty(t, f.upgrader.upgradeCalls)
	require.Len(t, f.store.saved, 1)
	assert.True(t, f.store.saved[0].FirstSeenAt.Equal(prior.FirstSeenAt))
	assert.True(t, f.store.saved[0].LastCheckAt.Equal(testNow))
}

func TestRunMatureUpgrades(t *testing.T) {
	prior := &aging.State{CandidateVersion: "1.2.4", FirstSeenAt: testNow.Add(-4 * 24 * time.Hour), LastCheckAt: testNow.Add(-24 * time.Hour)}
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.4"}, prior)

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, aging.DecisionMature, res.Decision)
	assert.True(t, res.Upgraded)
	require.Len(t, f.upgrader.upgradeCalls, 1)
	assert.Equal(t, f.cfg.Packages, f.upgrader.upgradeCalls[0])
	assert.Equal(t, []string{"zabbix-agent2"}, f.upgrader.restartedUnits)
	require.Len(t, f.store.saved, 1, "state is persisted after a successful upgrade")
}

func TestRunAlreadyCurrentClearsState(t *testing.T) {
	prior := &aging.State{CandidateVersion: "1.2.4", FirstSeenAt: testNow.Add(-10 * 24 * time.Hour), LastCheckAt: testNow}
	f := newFixture(apt.Versions{Installed: "1.2.4", Candidate: "1.2.4"}, prior)

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, aging.DecisionAlreadyCurrent, res.Decision)
	assert.Equal(t, 1, f.store.cleared)
	assert.Empty(t, f.store.saved)
	assert.Empty(t, f.upgrader.upgradeCalls)
}

func TestRunNotInstalledLeavesStateAlone(t *testing.T) {
	prior := &aging.State{CandidateVersion: "1.2.4", FirstSeenAt: testNow, LastCheckAt: testNow}
	f := newFixture(apt.Versions{Candidate: "1.2.4"}, prior)

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, aging.DecisionNotInstalled, res.Decision)
	assert.Empty(t, f.store.saved)
	assert.Zero(t, f.store.cleared)
}

func TestRunLockBusyIsBenign(t *testing.T) {
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.3"}, nil)
	f.guard.acquireErr = lockfile.ErrAlreadyLocked

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err, "lock contention must not be an error")

	assert.True(t, res.LockBusy)
	assert.Zero(t, f.updater.calls, "nothing runs without the lock")
	assert.Empty(t, f.journal.events)
}

func TestRunUpgradeFailureStillSavesState(t *testing.T) {
	prior := &aging.State{CandidateVersion: "1.2.4", FirstSeenAt: testNow.Add(-5 * 24 * time.Hour), LastCheckAt: testNow}
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.4"}, prior)
	f.upgrader.failUpgrade = true

	res, err := f.runner().Run(context.Background())
	require.Error(t, err, "an exhausted upgrade is an actionable failure")

	assert.False(t, res.Upgraded)
	require.Len(t, f.store.saved, 1, "state must be saved so the retry does not re-age")
	assert.True(t, f.store.saved[0].FirstSeenAt.Equal(prior.FirstSeenAt))

	require.Len(t, f.journal.events, 1)
	assert.Equal(t, "upgrade-failed", f.journal.events[0].Decision)
}

func TestRunSelfUpdateFailureDoesNotAbort(t *testing.T) {
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.3"}, nil)
	f.updater.result = selfupdate.Result{Outcome: selfupdate.OutcomeSkipped, Reason: "release metadata unavailable"}
	f.updater.err = fmt.Errorf("connection refused")

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err, "self-update failure must never abort the run")
	assert.Equal(t, aging.DecisionNewCandidate, res.Decision)
	require.Len(t, f.store.saved, 1, "lastCheck bookkeeping proceeds after a self-update failure")
}

func TestRunSelfUpdateDisabled(t *testing.T) {
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.3"}, nil)
	f.cfg.SelfUpdate = false

	_, err := f.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.updater.calls)
}

func TestRunStateSaveFailureIsNotFatal(t *testing.T) {
	prior := &aging.State{CandidateVersion: "1.2.4", FirstSeenAt: testNow.Add(-5 * 24 * time.Hour), LastCheckAt: testNow}
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.4"}, prior)
	f.store.saveErr = fmt.Errorf("read-only filesystem")

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err, "a failed save must not fail an otherwise successful upgrade")
	assert.True(t, res.Upgraded)
}

func TestRunJournalsDecisionsAndPrunes(t *testing.T) {
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.3"}, nil)
	f.cfg.LogRetentionDays = 30

	_, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.journal.events, 1)
	ev := f.journal.events[0]
	assert.Equal(t, "zabbix-agent2", ev.Package)
	assert.Equal(t, "new-candidate", ev.Decision)
	assert.Equal(t, "1.2.3", ev.Candidate)

	require.Len(t, f.journal.pruned, 1)
	assert.True(t, f.journal.pruned[0].Equal(testNow.Add(-30*24*time.Hour)))
}

// TestRunFullLifecycle walks a candidate through its whole life: detect,
// settle, supersede, mature, upgrade, clear.
func TestRunFullLifecycle(t *testing.T) {
	f := newFixture(apt.Versions{Installed: "1.2.2", Candidate: "1.2.3"}, nil)
	now := testNow
	deps := Deps{
		Source:      f.source,
		Upgrader:    f.upgrader,
		SelfUpdater: f.updater,
		Store:       f.store,
		Guard:       f.guard,
		Journal:     f.journal,
		Now:         func() time.Time { return now },
	}
	r := New(f.cfg, deps)
	ctx := context.Background()

	// Day 0: new candidate detected.
	res, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, aging.DecisionNewCandidate, res.Decision)

	// Day 1: still settling.
	now = testNow.Add(24 * time.Hour)
	res, err = r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, aging.DecisionStillAging, res.Decision)

	// Day 2: candidate superseded before maturity; 1.2.3 is never installed.
	now = testNow.Add(2 * 24 * time.Hour)
	f.source.versions = apt.Versions{Installed: "1.2.2", Candidate: "1.2.4"}
	res, err = r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, aging.DecisionNewCandidate, res.Decision)
	require.Empty(t, f.upgrader.upgradeCalls)

	// Day 5: 1.2.4 settled for the full delay; upgrade happens.
	now = testNow.Add(5 * 24 * time.Hour)
	res, err = r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, aging.DecisionMature, res.Decision)
	require.True(t, res.Upgraded)
	require.Len(t, f.upgrader.upgradeCalls, 1)

	// After the upgrade the installed version matches; state is cleared.
	f.source.versions = apt.Versions{Installed: "1.2.4", Candidate: "1.2.4"}
	res, err = r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, aging.DecisionAlreadyCurrent, res.Decision)
	require.Equal(t, 1, f.store.cleared)
	require.Nil(t, f.store.state)
}
