// Package apt drives the host package manager. All interaction goes through
// the stock apt command-line tools so behavior matches what an administrator
// would see running the same commands by hand.
package apt

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// noneSentinel is what apt-cache policy prints for an absent version.
const noneSentinel = "(none)"

// runFunc executes an external command and returns its combined output.
// Swappable in tests.
type runFunc func(name string, args ...string) ([]byte, error)

func runCombined(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive", "LC_ALL=C")
	return cmd.CombinedOutput()
}

// Client queries and upgrades packages via apt.
type Client struct {
	run runFunc
}

// NewClient verifies the apt tooling is present and returns a Client.
// Missing tools are a fatal condition for the caller: without them no
// decision can be made or applied.
func NewClient() (*Client, error) {
	for _, tool := range []string{"apt-cache", "apt-get"} {
		if _, err := exec.LookPath(tool); err != nil {
			return nil, fmt.Errorf("required tool %s not found in PATH: %w", tool, err)
		}
	}
	return &Client{run: runCombined}, nil
}

// Versions returns the installed and candidate versions for pkg as reported
// by apt-cache policy. A package unknown to apt yields two empty versions,
// not an error.
func (c *Client) Versions(pkg string) (Versions, error) {
	output, err := c.run("apt-cache", "policy", pkg)
	if err != nil {
		return Versions{}, fmt.Errorf("apt-cache policy %s failed: %w (output: %s)", pkg, err, string(output))
	}
	return parsePolicy(string(output)), nil
}

// parsePolicy extracts the Installed:/Candidate: lines from apt-cache policy
// output. Both "(none)" and a missing line mean "absent".
func parsePolicy(output string) Versions {
	var v Versions
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Installed:"):
			v.Installed = cleanPolicyValue(strings.TrimPrefix(line, "Installed:"))
		case strings.HasPrefix(line, "Candidate:"):
			v.Candidate = cleanPolicyValue(strings.TrimPrefix(line, "Candidate:"))
		}
	}
	return v
}

func cleanPolicyValue(value string) string {
	value = strings.TrimSpace(value)
	if value == noneSentinel {
		return ""
	}
	return value
}
