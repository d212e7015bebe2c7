package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aptsettle/aptsettle/internal/aging"
	"github.com/aptsettle/aptsettle/internal/apt"
	"github.com/aptsettle/aptsettle/internal/output"
	"github.com/aptsettle/aptsettle/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current aging state without changing anything",
	Long: `Query the installed and candidate versions of the managed package and
report how far the candidate has settled. Read-only: no state is written, no
lock is taken and no upgrade is attempted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}

		client, err := apt.NewClient()
		if err != nil {
			return err
		}

		pkg := cfg.ManagedPackage()
		versions, err := client.Versions(pkg)
		if err != nil {
			return err
		}

		prior, err := state.NewStore(cfg.StatePath).Load()
		if err != nil {
			return err
		}

		now := time.Now()
		decision, next, err := aging.Decide(versions.Installed, versions.Candidate, prior, now, cfg.DelayDays)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Package:    %s\n", pkg)
		fmt.Fprintf(out, "Installed:  %s\n", orNone(versions.Installed))
		fmt.Fprintf(out, "Candidate:  %s\n", orNone(versions.Candidate))
		fmt.Fprintf(out, "Decision:   %s\n", decision)

		switch decision {
		case aging.DecisionNewCandidate:
			fmt.Fprintf(out, "Settling:   candidate not yet tracked, a check run starts the %d day delay\n",
				cfg.DelayDays)
		case aging.DecisionStillAging:
			delay := time.Duration(cfg.DelayDays) * 24 * time.Hour
			fmt.Fprintf(out, "Settled:    %s of %dd (remaining %s)\n",
				output.FormatAge(next.Age(now)), cfg.DelayDays, output.FormatAge(delay-next.Age(now)))
		case aging.DecisionMature:
			fmt.Fprintf(out, "Settled:    %s, upgrade authorized on the next check run\n",
				output.FormatAge(next.Age(now)))
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func orNone(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}
