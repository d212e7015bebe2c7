package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aptsettle/aptsettle/internal/aging"
	"github.com/aptsettle/aptsettle/internal/apt"
	"github.com/aptsettle/aptsettle/internal/config"
	"github.com/aptsettle/aptsettle/internal/history"
	"github.com/aptsettle/aptsettle/internal/lockfile"
	"github.com/aptsettle/aptsettle/internal/runner"
	"github.com/aptsettle/aptsettle/internal/selfupdate"
	"github.com/aptsettle/aptsettle/internal/state"
	"github.com/aptsettle/aptsettle/internal/version"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one gated upgrade check",
	Long: `Run one full decision cycle: query the installed and candidate versions of
the managed package, age the candidate against the configured delay, and
upgrade once the candidate has settled. A benign skip (lock busy, package not
installed, candidate still aging) exits 0; only upgrade or query failures
exit non-zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}
		return runCheck(cmd, cfg)
	},
}

func init() {
	RootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, cfg config.Config) error {
	client, err := apt.NewClient()
	if err != nil {
		return err
	}

	journal, err := history.New(cfg.HistoryPath)
	if err != nil {
		// History is observability, not correctness. The run proceeds.
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: decision history unavailable: %v\n", err)
	} else {
		defer journal.Close()
	}

	deps := runner.Deps{
		Source:   client,
		Upgrader: client,
		Store:    state.NewStore(cfg.StatePath),
		Guard:    lockfile.New(cfg.LockPath),
	}
	if journal != nil {
		deps.Journal = journal
	}
	if cfg.SelfUpdate {
		deps.SelfUpdater = selfupdate.New(cfg.ReleaseRepo, version.Version())
	}

	res, err := runner.New(cfg, deps).Run(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case res.LockBusy:
		fmt.Fprintln(out, "Another aptsettle run is active, skipped.")
	case res.Upgraded:
		fmt.Fprintf(out, "Upgraded %s to %s.\n", cfg.ManagedPackage(), res.Versions.Candidate)
	case res.Decision == aging.DecisionStillAging || res.Decision == aging.DecisionNewCandidate:
		fmt.Fprintf(out, "Candidate %s for %s is settling (%s).\n",
			res.Versions.Candidate, cfg.ManagedPackage(), res.Decision)
	default:
		fmt.Fprintf(out, "Nothing to do for %s (%s).\n", cfg.ManagedPackage(), res.Decision)
	}
	return nil
}
