package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aptsettle/aptsettle/internal/selfupdate"
	"github.com/aptsettle/aptsettle/internal/version"
)

var selfUpdateCmd = &cobra.Command{
	Use:   "self-update",
	Short: "Replace this binary with the latest published release",
	Long: `Query the release repository and, when a strictly newer release exists,
replace the aptsettle executable on disk. The new version takes effect on the
next invocation. check runs do this automatically unless --self-update=false.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		updater := selfupdate.New(flagReleaseRepo, version.Version())
		res, err := updater.CheckAndApply(cmd.Context())
		if err != nil {
			return fmt.Errorf("self-update failed (%s): %w", res.Reason, err)
		}

		out := cmd.OutOrStdout()
		switch res.Outcome {
		case selfupdate.OutcomeUpdated:
			fmt.Fprintf(out, "Updated to release %s, effective on the next run.\n", res.Tag)
		case selfupdate.OutcomeSkipped:
			fmt.Fprintf(out, "Skipped: %s.\n", res.Reason)
		default:
			fmt.Fprintf(out, "Already up to date (%s, running %s).\n", res.Tag, version.Version())
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(selfUpdateCmd)
}
