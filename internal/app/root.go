// Package app contains the aptsettle command-line interface.
package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aptsettle/aptsettle/internal/config"
	"github.com/aptsettle/aptsettle/internal/logging"
	"github.com/aptsettle/aptsettle/internal/version"
)

var (
	flagPackages         []string
	flagDelayDays        int
	flagServiceUnit      string
	flagStatePath        string
	flagLockPath         string
	flagHistoryPath      string
	flagLogFile          string
	flagLogLevel         string
	flagLogRetentionDays int
	flagSelfUpdate       bool
	flagReleaseRepo      string

	// RootCmd is the root command for aptsettle.
	RootCmd = &cobra.Command{
		Use:   "aptsettle",
		Short: "Delay apt upgrades until a candidate version has settled",
		Long: `aptsettle gates automatic upgrades of an apt package: a new repository
candidate is only installed after it has remained the unchanged candidate for
a configurable number of days. Short-lived releases that get superseded
quickly are never installed.

State is tracked per host under ` + config.DefaultDir + `. A run is typically
triggered by the generated systemd timer (see 'aptsettle install-timer'), but
'aptsettle watch --daemon' can instead react to apt metadata changes.

Examples:
  # One gated check: upgrade zabbix-agent2 once its candidate is 3 days old
  aptsettle check --package zabbix-agent2 --delay-days 3 --service zabbix-agent2

  # Show how far the current candidate has settled
  aptsettle status --package zabbix-agent2 --delay-days 3

  # Install the daily systemd timer with up to 1h of start jitter
  aptsettle install-timer --package zabbix-agent2 --delay-days 3 --jitter 3600

  # Review recent decisions
  aptsettle history`,
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(flagLogLevel, flagLogFile, flagLogRetentionDays)
		},
	}
)

func init() {
	defaults := config.Default()

	pf := RootCmd.PersistentFlags()
	pf.StringArrayVar(&flagPackages, "package", nil,
		"package to upgrade; repeat for optional companion packages (first is the managed package)")
	pf.IntVar(&flagDelayDays, "delay-days", 3,
		"days a candidate must remain unchanged before it is installed")
	pf.StringVar(&flagServiceUnit, "service", "",
		"systemd unit to restart after a successful upgrade")
	pf.StringVar(&flagStatePath, "state-file", defaults.StatePath, "aging state file")
	pf.StringVar(&flagLockPath, "lock-file", defaults.LockPath, "run lock file")
	pf.StringVar(&flagHistoryPath, "history-db", defaults.HistoryPath, "decision history database")
	pf.StringVar(&flagLogFile, "log-file", "", "log to this rotated file instead of stderr")
	pf.StringVar(&flagLogLevel, "log-level", defaults.LogLevel, "log level (trace, debug, info, warn, error)")
	pf.IntVar(&flagLogRetentionDays, "log-retention-days", defaults.LogRetentionDays,
		"days to keep rotated logs and journal entries")
	pf.BoolVar(&flagSelfUpdate, "self-update", defaults.SelfUpdate,
		"check for a newer aptsettle release before each run")
	pf.StringVar(&flagReleaseRepo, "release-repo", defaults.ReleaseRepo,
		"GitHub repository queried for aptsettle releases")

	RootCmd.SuggestionsMinimumDistance = 2
}

// buildConfig assembles the immutable run configuration from the flags.
func buildConfig() (config.Config, error) {
	cfg := config.Default()
	cfg.Packages = flagPackages
	cfg.DelayDays = flagDelayDays
	cfg.ServiceUnit = flagServiceUnit
	cfg.StatePath = flagStatePath
	cfg.LockPath = flagLockPath
	cfg.HistoryPath = flagHistoryPath
	cfg.LogFile = flagLogFile
	cfg.LogLevel = flagLogLevel
	cfg.LogRetentionDays = flagLogRetentionDays
	cfg.SelfUpdate = flagSelfUpdate
	cfg.ReleaseRepo = flagReleaseRepo

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}
