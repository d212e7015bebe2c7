package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aptsettle/aptsettle/internal/history"
	"github.com/aptsettle/aptsettle/internal/output"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent upgrade decisions",
	Long: `List the most recent decisions recorded by check runs on this host,
newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		journal, err := history.New(flagHistoryPath)
		if err != nil {
			return fmt.Errorf("failed to open decision history: %w", err)
		}
		defer journal.Close()

		events, err := journal.ListRecent(historyLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No decisions recorded yet.")
			return nil
		}

		fmt.Fprint(cmd.OutOrStdout(), output.RenderHistoryTable(events))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of entries to show")
	RootCmd.AddCommand(historyCmd)
}
