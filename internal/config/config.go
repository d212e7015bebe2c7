// Package config holds the immutable run configuration for aptsettle.
//
// The configuration is assembled once from command-line flags at startup and
// passed explicitly to the components that need it. Nothing in this package
// mutates after construction.
package config

import (
	"fmt"
	"path/filepath"
)

// DefaultDir is the directory that holds aptsettle's durable host-local
// files (state record, lock file, decision history).
const DefaultDir = "/var/lib/aptsettle"

// DefaultReleaseRepo is the GitHub repository queried for new releases of
// aptsettle itself.
const DefaultReleaseRepo = "aptsettle/aptsettle"

// Config is the complete configuration for one aptsettle invocation.
type Config struct {
	// Packages to upgrade, in order. The first entry is the managed package
	// whose candidate version is aged; the remaining entries are optional
	// companion packages that are dropped on the fallback upgrade attempt.
	Packages []string

	// DelayDays is the minimum number of days a candidate version must
	// remain the unchanged repository candidate before it is applied.
	DelayDays int

	// ServiceUnit is the systemd unit restarted after a successful upgrade.
	// Empty means no restart.
	ServiceUnit string

	StatePath   string
	LockPath    string
	HistoryPath string

	LogFile          string
	LogLevel         string
	LogRetentionDays int

	// SelfUpdate enables the best-effort self-update check that runs before
	// the upgrade decision.
	SelfUpdate  bool
	ReleaseRepo string
}

// Default returns a Config with all paths under DefaultDir and self-update
// enabled. Packages and DelayDays must still be supplied by the caller.
func Default() Config {
	return Config{
		StatePath:        filepath.Join(DefaultDir, "state.json"),
		LockPath:         filepath.Join(DefaultDir, "run.lock"),
		HistoryPath:      filepath.Join(DefaultDir, "history.db"),
		LogLevel:         "info",
		LogRetentionDays: 30,
		SelfUpdate:       true,
		ReleaseRepo:      DefaultReleaseRepo,
	}
}

// ManagedPackage returns the package whose candidate version is aged.
func (c Config) ManagedPackage() string {
	if len(c.Packages) == 0 {
		return ""
	}
	return c.Packages[0]
}

// Validate checks the invariants the rest of the program relies on.
func (c Config) Validate() error {
	if len(c.Packages) == 0 {
		return fmt.Errorf("no package configured: pass at least one --package")
	}
	for _, pkg := range c.Packages {
		if pkg == "" {
			return fmt.Errorf("empty package name")
		}
	}
	if c.DelayDays < 0 {
		return fmt.Errorf("delay days must not be negative, got %d", c.DelayDays)
	}
	if c.LogRetentionDays < 0 {
		return fmt.Errorf("log retention days must not be negative, got %d", c.LogRetentionDays)
	}
	if c.StatePath == "" || c.LockPath == "" {
		return fmt.Errorf("state and lock paths must not be empty")
	}
	return nil
}
