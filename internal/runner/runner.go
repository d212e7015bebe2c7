// Package runner wires one aptsettle invocation together: take the run lock,
// self-update best-effort, query apt, evaluate the aging decision, upgrade if
// mature, persist state, journal the outcome.
//
// Every benign "nothing to do" path is reported as a Result value; only the
// caller at the top level turns results and errors into a process exit code.
package runner

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aptsettle/aptsettle/internal/aging"
	"github.com/aptsettle/aptsettle/internal/apt"
	"github.com/aptsettle/aptsettle/internal/config"
	"github.com/aptsettle/aptsettle/internal/history"
	"github.com/aptsettle/aptsettle/internal/lockfile"
	"github.com/aptsettle/aptsettle/internal/selfupdate"
)

// VersionSource reports the installed and candidate versions of a package.
type VersionSource interface {
	Versions(pkg string) (apt.Versions, error)
}

// Upgrader applies the package upgrade and restarts the managed service.
type Upgrader interface {
	UpgradeWithFallback(primary, reduced []string) error
	RestartService(unit string) error
}

// SelfUpdater replaces the running executable with a newer release.
type SelfUpdater interface {
	CheckAndApply(ctx context.Context) (selfupdate.Result, error)
}

// StateStore persists the aging record between invocations.
type StateStore interface {
	Load() (*aging.State, error)
	Save(st aging.State) error
	Clear() error
}

// Guard serializes invocations on one host.
type Guard interface {
	Acquire() error
	Release() error
}

// Journal records decision outcomes for the history command.
type Journal interface {
	RecordEvent(ev *history.Event) error
	Prune(cutoff time.Time) (int64, error)
}

// Deps are the collaborators of one run. SelfUpdater and Journal may be nil.
type Deps struct {
	Source      VersionSource
	Upgrader    Upgrader
	SelfUpdater SelfUpdater
	Store       StateStore
	Guard       Guard
	Journal     Journal
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result summarizes what one invocation did.
type Result struct {
	// LockBusy means another run held the lock and nothing was evaluated.
	LockBusy bool
	Decision aging.Decision
	Versions apt.Versions
	// State is the aging state after the run; nil when cleared or untracked.
	State    *aging.State
	Upgraded bool
}

// Runner executes gated upgrade cycles.
type Runner struct {
	cfg  config.Config
	deps Deps
}

// New returns a Runner for the given configuration and collaborators.
func New(cfg config.Config, deps Deps) *Runner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Run performs one decision-and-upgrade cycle. The returned error is
// non-nil only for actionable failures: a failed version query, unusable
// version strings, or an upgrade whose fallback was also exhausted. Even
// then the aging state has already been persisted, so the next run retries
// without re-aging.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if err := r.deps.Guard.Acquire(); err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			log.Infof("Another aptsettle run is active, skipping this invocation")
			return Result{LockBusy: true}, nil
		}
		return Result{}, err
	}
	defer func() {
		if err := r.deps.Guard.Release(); err != nil {
			log.Warnf("Failed to release run lock: %v", err)
		}
	}()

	r.selfUpdate(ctx)

	pkg := r.cfg.ManagedPackage()
	versions, err := r.deps.Source.Versions(pkg)
	if err != nil {
		return Result{}, err
	}

	prior, err := r.deps.Store.Load()
	if err != nil {
		// Corrupt content is already handled in the store; this is a read
		// failure. Re-aging is the safe, self-correcting recovery either way.
		log.Warnf("Could not load aging state, starting aging over: %v", err)
		prior = nil
	}

	now := r.deps.Now()
	decision, next, err := aging.Decide(versions.Installed, versions.Candidate, prior, now, r.cfg.DelayDays)
	if err != nil {
		return Result{Versions: versions}, err
	}

	res := Result{Decision: decision, Versions: versions, State: next}

	var upgradeErr error
	switch decision {
	case aging.DecisionNotInstalled:
		log.Infof("Package %s is not installed, nothing to upgrade", pkg)
	case aging.DecisionNoCandidate:
		log.Infof("No version offered for %s, nothing to do", pkg)
	case aging.DecisionAlreadyCurrent:
		log.Infof("Package %s is already current at %s", pkg, versions.Installed)
		if err := r.deps.Store.Clear(); err != nil {
			log.Warnf("Failed to clear stale aging state: %v", err)
		}
	case aging.DecisionNewCandidate:
		log.Infof("New candidate %s for %s, settling for %d day(s) before upgrading",
			versions.Candidate, pkg, r.cfg.DelayDays)
	case aging.DecisionStillAging:
		log.Infof("Candidate %s for %s has settled %.1f of %d day(s), deferring",
			versions.Candidate, pkg, days(next.Age(now)), r.cfg.DelayDays)
	case aging.DecisionMature:
		log.Infof("Candidate %s for %s settled %.1f day(s) (delay %d), upgrading %v",
			versions.Candidate, pkg, days(next.Age(now)), r.cfg.DelayDays, r.cfg.Packages)
		upgradeErr = r.upgrade()
		res.Upgraded = upgradeErr == nil
	}

	// Persist after deciding, even when the upgrade failed, so the next
	// run sees the same FirstSeenAt and retries the mature candidate. A save
	// failure only risks re-aging, which is acceptable; it must not turn a
	// successful upgrade into a process failure.
	if next != nil && decision != aging.DecisionNotInstalled && decision != aging.DecisionNoCandidate {
		if err := r.deps.Store.Save(*next); err != nil {
			log.Warnf("Failed to save aging state (candidate may re-age next run): %v", err)
		}
	}

	r.journal(pkg, versions, decision, upgradeErr, now)

	return res, upgradeErr
}

func (r *Runner) selfUpdate(ctx context.Context) {
	if r.deps.SelfUpdater == nil || !r.cfg.SelfUpdate {
		return
	}

	res, err := r.deps.SelfUpdater.CheckAndApply(ctx)
	switch {
	case err != nil:
		log.Warnf("Self-update skipped (%s): %v", res.Reason, err)
	case res.Outcome == selfupdate.OutcomeUpdated:
		log.Infof("Self-update installed release %s, effective on the next run", res.Tag)
	case res.Outcome == selfupdate.OutcomeSkipped:
		log.Infof("Self-update skipped: %s", res.Reason)
	default:
		log.Debugf("Self-update: already running the latest release (%s)", res.Tag)
	}
}

func (r *Runner) upgrade() error {
	// The fallback set keeps only the managed package; optional companions
	// are dropped on retry.
	if err := r.deps.Upgrader.UpgradeWithFallback(r.cfg.Packages, r.cfg.Packages[:1]); err != nil {
		return err
	}
	if r.cfg.ServiceUnit != "" {
		if err := r.deps.Upgrader.RestartService(r.cfg.ServiceUnit); err != nil {
			log.Warnf("Upgrade succeeded but restarting %s failed: %v", r.cfg.ServiceUnit, err)
		}
	}
	return nil
}

func (r *Runner) journal(pkg string, versions apt.Versions, decision aging.Decision, upgradeErr error, now time.Time) {
	if r.deps.Journal == nil {
		return
	}

	ev := &history.Event{
		Package:   pkg,
		Installed: versions.Installed,
		Candidate: versions.Candidate,
		Decision:  decision.String(),
		CreatedAt: now,
	}
	if upgradeErr != nil {
		ev.Decision = "upgrade-failed"
		ev.Detail = upgradeErr.Error()
	}
	if err := r.deps.Journal.RecordEvent(ev); err != nil {
		log.Warnf("Failed to journal decision: %v", err)
	}

	if r.cfg.LogRetentionDays > 0 {
		cutoff := now.Add(-time.Duration(r.cfg.LogRetentionDays) * 24 * time.Hour)
		if _, err := r.deps.Journal.Prune(cutoff); err != nil {
			log.Warnf("Failed to prune journal: %v", err)
		}
	}
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}
