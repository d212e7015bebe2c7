package systemd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// UnitPaths returns the install locations of the service and timer units.
func UnitPaths() (servicePath, timerPath string) {
	servicePath = filepath.Join(UnitDir, UnitName+".service")
	timerPath = filepath.Join(UnitDir, UnitName+".timer")
	return servicePath, timerPath
}

// Install writes both units and enables the timer. Requires root.
func Install(cfg UnitConfig) error {
	service, err := RenderService(cfg)
	if err != nil {
		return err
	}
	timer, err := RenderTimer(cfg)
	if err != nil {
		return err
	}

	servicePath, timerPath := UnitPaths()
	if err := os.WriteFile(servicePath, []byte(service), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", servicePath, err)
	}
	if err := os.WriteFile(timerPath, []byte(timer), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", timerPath, err)
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	if err := systemctl("enable", "--now", UnitName+".timer"); err != nil {
		return err
	}

	log.Infof("Installed and enabled %s.timer (jitter %ds)", UnitName, cfg.JitterSeconds)
	return nil
}

// Uninstall disables the timer and removes both units. Missing units are not
// an error, so uninstall is idempotent.
func Uninstall() error {
	if err := systemctl("disable", "--now", UnitName+".timer"); err != nil {
		log.Warnf("Could not disable %s.timer (already removed?): %v", UnitName, err)
	}

	servicePath, timerPath := UnitPaths()
	for _, path := range []string{timerPath, servicePath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	return systemctl("daemon-reload")
}

func systemctl(args ...string) error {
	output, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %v failed: %w (output: %s)", args, err, string(output))
	}
	return nil
}
