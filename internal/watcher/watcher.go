// Package watcher runs delayed-upgrade checks continuously instead of from a
// scheduler: a check fires shortly after the apt package lists change (an
// `apt update` landed new metadata) and on a periodic fallback ticker. Every
// triggered check still goes through the run lock, so watch-driven and
// timer-driven invocations never overlap.
package watcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultListsDir is where apt stores downloaded package lists.
const DefaultListsDir = "/var/lib/apt/lists"

// debounceDelay batches the burst of list-file writes one `apt update`
// produces into a single check.
const debounceDelay = 2 * time.Minute

// CheckFunc runs one gated upgrade cycle.
type CheckFunc func() error

// Watcher triggers checks on apt metadata changes and on a fallback ticker.
type Watcher struct {
	listsDir string
	interval time.Duration
	check    CheckFunc
	debounce time.Duration

	fs     *fsnotify.Watcher
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Watcher that runs check on changes under listsDir and at
// least every interval.
func New(listsDir string, interval time.Duration, check CheckFunc) (*Watcher, error) {
	if check == nil {
		return nil, fmt.Errorf("check function cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}
	if listsDir == "" {
		listsDir = DefaultListsDir
	}
	return &Watcher{
		listsDir: listsDir,
		interval: interval,
		check:    check,
		debounce: debounceDelay,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. An immediate check runs on startup so a long-down
// host catches up right away.
func (w *Watcher) Start() error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fs.Add(w.listsDir); err != nil {
		fs.Close()
		return fmt.Errorf("failed to watch %s: %w", w.listsDir, err)
	}
	w.fs = fs
	w.ticker = time.NewTicker(w.interval)

	w.runCheck("startup")

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop halts the watcher and waits for an in-flight check to finish.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.wg.Wait()

	w.ticker.Stop()
	if err := w.fs.Close(); err != nil {
		return fmt.Errorf("failed to close filesystem watcher: %w", err)
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	// pending is armed by list-directory activity and fires once the burst
	// of writes has settled.
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				pending = time.After(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warnf("Filesystem watcher error: %v", err)
		case <-pending:
			pending = nil
			w.runCheck("apt lists changed")
		case <-w.ticker.C:
			w.runCheck("periodic")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) runCheck(reason string) {
	log.Debugf("Running check (%s)", reason)
	if err := w.check(); err != nil {
		log.Errorf("Check failed (%s): %v", reason, err)
	}
}
