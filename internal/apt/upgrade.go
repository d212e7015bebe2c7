package apt

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Upgrade upgrades the given packages in place via
// apt-get install --only-upgrade. Packages that are not installed are left
// alone by apt rather than freshly installed.
func (c *Client) Upgrade(pkgs []string) error {
	if len(pkgs) == 0 {
		return fmt.Errorf("no packages to upgrade")
	}

	args := append([]string{"install", "--only-upgrade", "-y"}, pkgs...)
	output, err := c.run("apt-get", args...)
	if err != nil {
		return fmt.Errorf("apt-get install --only-upgrade %v failed: %w (output: %s)", pkgs, err, string(output))
	}
	return nil
}

// UpgradeWithFallback attempts the full package set first and, on failure,
// retries once with the reduced set (optional companion packages dropped).
// A companion package can lag in the repository without blocking the managed
// package's upgrade.
func (c *Client) UpgradeWithFallback(primary, reduced []string) error {
	err := c.Upgrade(primary)
	if err == nil {
		return nil
	}
	if len(reduced) == 0 || len(reduced) >= len(primary) {
		return err
	}

	log.Warnf("Upgrade of %v failed, retrying with reduced set %v: %v", primary, reduced, err)
	if retryErr := c.Upgrade(reduced); retryErr != nil {
		return fmt.Errorf("upgrade failed for full set (%v) and reduced set: %w", err, retryErr)
	}
	return nil
}

// RestartService restarts a systemd unit. Callers treat a failure here as
// best-effort: the upgrade itself already succeeded.
func (c *Client) RestartService(unit string) error {
	if unit == "" {
		return nil
	}
	output, err := c.run("systemctl", "restart", unit)
	if err != nil {
		return fmt.Errorf("systemctl restart %s failed: %w (output: %s)", unit, err, string(output))
	}
	return nil
}
