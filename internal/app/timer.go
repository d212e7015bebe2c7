package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aptsettle/aptsettle/internal/config"
	"github.com/aptsettle/aptsettle/internal/systemd"
)

var (
	timerJitter int
	timerPrint  bool
)

var installTimerCmd = &cobra.Command{
	Use:   "install-timer",
	Short: "Install a daily systemd timer that runs check",
	Long: `Generate a systemd service and timer pair that runs 'aptsettle check' once
a day with the configured packages and delay, install them under
` + systemd.UnitDir + ` and enable the timer. --print writes the units to stdout
instead of installing them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}

		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve executable path: %w", err)
		}
		exe, err = filepath.EvalSymlinks(exe)
		if err != nil {
			return fmt.Errorf("failed to resolve executable path: %w", err)
		}

		unitCfg := unitConfigFrom(cfg, exe, timerJitter)

		if timerPrint {
			service, err := systemd.RenderService(unitCfg)
			if err != nil {
				return err
			}
			timer, err := systemd.RenderTimer(unitCfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s.service\n%s\n# %s.timer\n%s",
				systemd.UnitName, service, systemd.UnitName, timer)
			return nil
		}

		if err := systemd.Install(unitCfg); err != nil {
			return err
		}
		servicePath, timerPath := systemd.UnitPaths()
		fmt.Fprintf(cmd.OutOrStdout(), "Installed %s and %s; timer enabled.\n", servicePath, timerPath)
		return nil
	},
}

var uninstallTimerCmd = &cobra.Command{
	Use:   "uninstall-timer",
	Short: "Disable and remove the systemd timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := systemd.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Timer disabled and units removed.")
		return nil
	},
}

func init() {
	installTimerCmd.Flags().IntVar(&timerJitter, "jitter", 3600,
		"maximum random start delay in seconds applied by the timer")
	installTimerCmd.Flags().BoolVar(&timerPrint, "print", false,
		"print the generated units instead of installing them")
	RootCmd.AddCommand(installTimerCmd)
	RootCmd.AddCommand(uninstallTimerCmd)
}

// unitConfigFrom maps the run configuration onto the unit templates. Path and
// retention overrides are forwarded only when they differ from the defaults,
// so a timer-driven check uses exactly the files a manual check would.
func unitConfigFrom(cfg config.Config, execPath string, jitterSeconds int) systemd.UnitConfig {
	defaults := config.Default()

	unitCfg := systemd.UnitConfig{
		ExecPath:         execPath,
		Packages:         cfg.Packages,
		DelayDays:        cfg.DelayDays,
		ServiceUnit:      cfg.ServiceUnit,
		LogFile:          timerLogFile(cfg),
		LogRetentionDays: -1,
		JitterSeconds:    jitterSeconds,
	}
	if cfg.StatePath != defaults.StatePath {
		unitCfg.StatePath = cfg.StatePath
	}
	if cfg.LockPath != defaults.LockPath {
		unitCfg.LockPath = cfg.LockPath
	}
	if cfg.HistoryPath != defaults.HistoryPath {
		unitCfg.HistoryPath = cfg.HistoryPath
	}
	if cfg.LogRetentionDays != defaults.LogRetentionDays {
		unitCfg.LogRetentionDays = cfg.LogRetentionDays
	}
	return unitCfg
}

// timerLogFile returns the log file the generated service should use. Timer
// runs have no terminal, so an explicit file is substituted when none is
// configured.
func timerLogFile(cfg config.Config) string {
	if cfg.LogFile != "" {
		return cfg.LogFile
	}
	return filepath.Join(config.DefaultDir, "aptsettle.log")
}
