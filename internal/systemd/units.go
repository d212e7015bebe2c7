// Package systemd renders and installs the timer and service units that
// drive periodic aptsettle checks.
package systemd

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const (
	// UnitName is the base name of both generated units.
	UnitName = "aptsettle"

	// UnitDir is where the generated units are installed.
	UnitDir = "/etc/systemd/system"
)

// UnitConfig carries everything the unit templates need.
type UnitConfig struct {
	// ExecPath is the absolute path of the aptsettle binary.
	ExecPath string
	// Packages are passed through as repeated --package flags.
	Packages []string
	// DelayDays is the settling delay forwarded to the check.
	DelayDays int
	// ServiceUnit is the managed service restarted after upgrades (optional).
	ServiceUnit string
	// LogFile, when set, routes check output to a rotated log file.
	LogFile string
	// StatePath, LockPath and HistoryPath forward non-default host-local
	// paths to the check. Empty leaves the built-in default.
	StatePath   string
	LockPath    string
	HistoryPath string
	// LogRetentionDays forwards a retention override to the check. Negative
	// leaves the built-in default; zero is a valid "never prune".
	LogRetentionDays int
	// JitterSeconds is the maximum random startup delay applied by the
	// timer, spreading repository load across a fleet.
	JitterSeconds int
}

const serviceTemplate = `[Unit]
Description=Delayed apt upgrade check
After=network-online.target
Wants=network-online.target

[Service]
Type=oneshot
ExecStart={{.CheckCommand}}
`

const timerTemplate = `[Unit]
Description=Run the delayed apt upgrade check daily

[Timer]
OnCalendar=daily
RandomizedDelaySec={{.JitterSeconds}}
Persistent=true

[Install]
WantedBy=timers.target
`

// CheckCommand builds the full command line the service unit executes.
func (c UnitConfig) CheckCommand() string {
	args := []string{c.ExecPath, "check"}
	for _, pkg := range c.Packages {
		args = append(args, "--package", pkg)
	}
	args = append(args, "--delay-days", fmt.Sprintf("%d", c.DelayDays))
	if c.ServiceUnit != "" {
		args = append(args, "--service", c.ServiceUnit)
	}
	if c.LogFile != "" {
		args = append(args, "--log-file", c.LogFile)
	}
	if c.StatePath != "" {
		args = append(args, "--state-file", c.StatePath)
	}
	if c.LockPath != "" {
		args = append(args, "--lock-file", c.LockPath)
	}
	if c.HistoryPath != "" {
		args = append(args, "--history-db", c.HistoryPath)
	}
	if c.LogRetentionDays >= 0 {
		args = append(args, "--log-retention-days", fmt.Sprintf("%d", c.LogRetentionDays))
	}
	return strings.Join(args, " ")
}

func validate(cfg UnitConfig) error {
	if cfg.ExecPath == "" {
		return fmt.Errorf("unit config needs the aptsettle executable path")
	}
	if len(cfg.Packages) == 0 {
		return fmt.Errorf("unit config needs at least one package")
	}
	if cfg.JitterSeconds < 0 {
		return fmt.Errorf("jitter must not be negative, got %d", cfg.JitterSeconds)
	}
	return nil
}

// RenderService renders the oneshot service unit.
func RenderService(cfg UnitConfig) (string, error) {
	if err := validate(cfg); err != nil {
		return "", err
	}
	return render("service", serviceTemplate, cfg)
}

// RenderTimer renders the timer unit.
func RenderTimer(cfg UnitConfig) (string, error) {
	if err := validate(cfg); err != nil {
		return "", err
	}
	return render("timer", timerTemplate, cfg)
}

func render(name, text string, cfg UnitConfig) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", fmt.Errorf("failed to render %s unit: %w", name, err)
	}
	return buf.String(), nil
}
