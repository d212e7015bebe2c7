package app

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aptsettle/aptsettle/internal/config"
	"github.com/aptsettle/aptsettle/internal/watcher"
)

var (
	watchDaemon      bool
	watchStop        bool
	watchDaemonChild bool
	watchInterval    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run check whenever apt metadata changes",
	Long: `Watch ` + watcher.DefaultListsDir + ` for repository metadata updates and run
a gated upgrade check after each one (debounced), plus a periodic fallback
check. Runs in the foreground by default; --daemon detaches into the
background and --stop terminates a running daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pidFile := filepath.Join(config.DefaultDir, "watch.pid")

		if watchStop {
			if err := watcher.StopDaemon(pidFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Watch daemon stopped.")
			return nil
		}

		cfg, err := buildConfig()
		if err != nil {
			return err
		}

		if watchDaemon {
			// Re-launch ourselves detached, replaying every flag but swapping
			// --daemon for the hidden child marker.
			childArgs := []string{"watch", "--daemon-child"}
			childArgs = append(childArgs, configArgs(cfg)...)
			childArgs = append(childArgs, "--interval", watchInterval.String())
			if err := watcher.StartDaemon(pidFile, childArgs); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Watch daemon started.")
			return nil
		}

		w, err := watcher.New(watcher.DefaultListsDir, watchInterval, func() error {
			return runCheck(cmd, cfg)
		})
		if err != nil {
			return err
		}

		if watchDaemonChild {
			return w.RunDaemon(pidFile)
		}

		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (interval %s), Ctrl-C to stop.\n",
			watcher.DefaultListsDir, watchInterval)
		waitForInterrupt()
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "detach into the background")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop a running watch daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "")
	watchCmd.Flags().MarkHidden("daemon-child")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 6*time.Hour,
		"fallback check interval when no metadata change is seen")
	RootCmd.AddCommand(watchCmd)
}

// configArgs serializes the effective configuration back into flags for the
// detached child process.
func configArgs(cfg config.Config) []string {
	args := make([]string, 0, 2*len(cfg.Packages)+20)
	for _, pkg := range cfg.Packages {
		args = append(args, "--package", pkg)
	}
	args = append(args,
		"--delay-days", fmt.Sprint(cfg.DelayDays),
		"--state-file", cfg.StatePath,
		"--lock-file", cfg.LockPath,
		"--history-db", cfg.HistoryPath,
		"--log-level", cfg.LogLevel,
		"--log-retention-days", fmt.Sprint(cfg.LogRetentionDays),
		// Boolean flags do not consume the next argument, so the value must be
		// attached with "=".
		fmt.Sprintf("--self-update=%t", cfg.SelfUpdate),
		"--release-repo", cfg.ReleaseRepo,
	)
	if cfg.ServiceUnit != "" {
		args = append(args, "--service", cfg.ServiceUnit)
	}
	if cfg.LogFile != "" {
		args = append(args, "--log-file", cfg.LogFile)
	} else {
		// A detached child has no terminal to log to.
		args = append(args, "--log-file", filepath.Join(config.DefaultDir, "watch.log"))
	}
	return args
}

func waitForInterrupt() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
