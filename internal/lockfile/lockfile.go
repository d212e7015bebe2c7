// Package lockfile guards against overlapping aptsettle runs on one host.
//
// The guard takes an exclusive advisory flock on a well-known file without
// blocking. Contention is a benign skip for the caller, and the kernel drops
// the lock when the holding process exits for any reason, so a crashed run
// never wedges future checks.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyLocked is returned when another run holds the lock.
var ErrAlreadyLocked = errors.New("another aptsettle run is already active")

// Guard is an advisory exclusive lock on a well-known file.
type Guard struct {
	lock *flock.Flock
}

// New returns a Guard for the given lock file path.
func New(path string) *Guard {
	return &Guard{lock: flock.New(path)}
}

// Path returns the lock file location.
func (g *Guard) Path() string {
	return g.lock.Path()
}

// Acquire attempts to take the lock without waiting. It returns
// ErrAlreadyLocked when another process holds it.
func (g *Guard) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(g.lock.Path()), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := g.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to take lock %s: %w", g.lock.Path(), err)
	}
	if !locked {
		return ErrAlreadyLocked
	}
	return nil
}

// Release drops the lock. Safe to call after a failed Acquire.
func (g *Guard) Release() error {
	return g.lock.Unlock()
}
