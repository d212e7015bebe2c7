// Package selfupdate lets the running automation replace its own executable
// with a newer published release.
//
// The replacement is written to a temporary file in the executable's
// directory and moved into place with an atomic rename, so the binary on disk
// is never half-written. The new code only runs on the next invocation; the
// current process keeps its already-loaded logic. Every failure degrades to a
// skip so the upgrade check that follows is never blocked.
package selfupdate

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Outcome classifies the result of one self-update attempt.
type Outcome int

const (
	// OutcomeUpToDate means the running binary is already the newest release.
	OutcomeUpToDate Outcome = iota
	// OutcomeUpdated means the executable on disk was replaced; the new
	// version takes effect on the next invocation.
	OutcomeUpdated
	// OutcomeSkipped means the update was not attempted or not completed;
	// Result.Reason says why.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpToDate:
		return "up-to-date"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes what a CheckAndApply run did.
type Result struct {
	Outcome Outcome
	// Tag is the latest published release tag, when one was fetched.
	Tag string
	// Reason explains an OutcomeSkipped.
	Reason string
}

// Updater checks the release source for a newer aptsettle and applies it.
type Updater struct {
	repo    string // "owner/name"
	current string // compiled-in version of the running binary
	client  *http.Client

	apiBase      string
	downloadBase string

	// execPath resolves the running executable; swappable in tests.
	execPath func() (string, error)
	// gitUpdate runs the fast-forward update of a working copy.
	gitUpdate func(dir string) error
}

// New returns an Updater for the given release repository and the version of
// the currently running binary.
func New(repo, current string) *Updater {
	return &Updater{
		repo:         repo,
		current:      current,
		client:       &http.Client{Timeout: 30 * time.Second},
		apiBase:      defaultAPIBase,
		downloadBase: defaultDownloadBase,
		execPath:     os.Executable,
		gitUpdate:    gitPullFastForward,
	}
}

// CheckAndApply queries the latest release and, when it is strictly newer
// than the running version, replaces the executable on disk. Callers must
// treat a returned error as "skipped for this run", never as fatal.
func (u *Updater) CheckAndApply(ctx context.Context) (Result, error) {
	tag, err := u.latestReleaseTag(ctx)
	if err != nil {
		return Result{Outcome: OutcomeSkipped, Reason: "release metadata unavailable"}, err
	}

	if err := validateTag(tag); err != nil {
		// A malformed or hostile tag must reach neither the version
		// comparison nor a download URL.
		return Result{Outcome: OutcomeSkipped, Tag: tag, Reason: "implausible release tag"}, err
	}

	newer, err := u.isNewer(tag)
	if err != nil {
		return Result{Outcome: OutcomeSkipped, Tag: tag, Reason: "version comparison failed"}, err
	}
	if !newer {
		return Result{Outcome: OutcomeUpToDate, Tag: tag}, nil
	}

	exe, err := u.execPath()
	if err != nil {
		return Result{Outcome: OutcomeSkipped, Tag: tag, Reason: "executable path unknown"}, err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return Result{Outcome: OutcomeSkipped, Tag: tag, Reason: "executable path unresolvable"}, err
	}

	if unix.Access(exe, unix.W_OK) != nil {
		return Result{Outcome: OutcomeSkipped, Tag: tag, Reason: "executable not writable"}, nil
	}

	// Strategy one: a development install inside a git working copy is
	// fast-forwarded in place. Failure falls through to the binary download.
	if dir, ok := gitWorkingCopy(filepath.Dir(exe)); ok {
		gitErr := u.gitUpdate(dir)
		if gitErr == nil {
			log.Infof("Self-update: fast-forwarded working copy %s to %s", dir, tag)
			return Result{Outcome: OutcomeUpdated, Tag: tag}, nil
		}
		log.Warnf("Self-update: git fast-forward failed, falling back to binary download: %v", gitErr)
	}

	data, err := u.downloadAsset(ctx, tag, assetName())
	if err != nil {
		return Result{Outcome: OutcomeSkipped, Tag: tag, Reason: "download failed"}, err
	}

	if err := replaceExecutable(exe, data); err != nil {
		return Result{Outcome: OutcomeSkipped, Tag: tag, Reason: "install failed"}, err
	}

	log.Infof("Self-update: installed %s over %s, effective on the next run", tag, exe)
	return Result{Outcome: OutcomeUpdated, Tag: tag}, nil
}

// isNewer reports whether tag is strictly newer than the running version
// under semantic ordering. A leading "v" on either side is ignored.
func (u *Updater) isNewer(tag string) (bool, error) {
	remote, err := goversion.NewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return false, fmt.Errorf("unparseable release tag %q: %w", tag, err)
	}
	current, err := goversion.NewVersion(strings.TrimPrefix(u.current, "v"))
	if err != nil {
		return false, fmt.Errorf("unparseable current version %q: %w", u.current, err)
	}
	return remote.GreaterThan(current), nil
}

// validateTag rejects tags that cannot be a plain version token. The tag is
// later interpolated into a download path, so path separators and URL shapes
// are refused outright.
func validateTag(tag string) error {
	switch {
	case tag == "":
		return fmt.Errorf("empty release tag")
	case len(tag) > 64:
		return fmt.Errorf("release tag too long (%d bytes)", len(tag))
	case strings.ContainsAny(tag, "/\\ \t\r\n"):
		return fmt.Errorf("release tag %q contains a path separator or whitespace", tag)
	case strings.Contains(tag, "://"), strings.HasPrefix(tag, "."):
		return fmt.Errorf("release tag %q does not look like a version", tag)
	}
	return nil
}

// assetName is the release asset for this platform.
func assetName() string {
	return fmt.Sprintf("aptsettle_%s_%s", runtime.GOOS, runtime.GOARCH)
}

// replaceExecutable writes data next to exe and renames it into place, then
// restores the executable bit. The rename is atomic because the temporary
// file lives on the same filesystem.
func replaceExecutable(exe string, data []byte) error {
	dir := filepath.Dir(exe)
	tmp, err := os.CreateTemp(dir, ".aptsettle-update-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write update: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync update: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close update: %w", err)
	}

	if err := os.Chmod(tmpName, 0755); err != nil {
		return fmt.Errorf("failed to set executable bit: %w", err)
	}
	if err := os.Rename(tmpName, exe); err != nil {
		return fmt.Errorf("failed to move update into place: %w", err)
	}
	return nil
}

// gitWorkingCopy walks up from dir looking for a .git entry.
func gitWorkingCopy(dir string) (string, bool) {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func gitPullFastForward(dir string) error {
	cmd := exec.Command("git", "-C", dir, "pull", "--ff-only")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git pull --ff-only in %s failed: %w (output: %s)", dir, err, string(output))
	}
	return nil
}
