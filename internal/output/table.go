// Package output renders aptsettle's terminal output: the decision history
// table and the current settling status. Color is applied only on a TTY and
// respects NO_COLOR.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/aptsettle/aptsettle/internal/history"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// RenderHistoryTable renders journal events, newest first.
func RenderHistoryTable(events []*history.Event) string {
	return renderHistoryTable(events, IsColorEnabled())
}

func renderHistoryTable(events []*history.Event, color bool) string {
	if len(events) == 0 {
		return "No recorded decisions yet.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-19s %-18s %-22s %-22s %s\n",
		"When (UTC)", "Decision", "Installed", "Candidate", "Detail"))
	sb.WriteString(strings.Repeat("─", 100))
	sb.WriteString("\n")

	for _, ev := range events {
		sb.WriteString(fmt.Sprintf("%-19s %-18s %-22s %-22s %s\n",
			ev.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			decisionCell(ev.Decision, color),
			orDash(ev.Installed),
			orDash(ev.Candidate),
			truncate(ev.Detail, 40)))
	}
	return sb.String()
}

// decisionCell pads before coloring so ANSI escapes do not break alignment.
func decisionCell(decision string, color bool) string {
	padded := fmt.Sprintf("%-18s", decision)
	if !color {
		return padded
	}
	switch decision {
	case "mature":
		return colorGreen + padded + colorReset
	case "upgrade-failed":
		return colorRed + padded + colorReset
	case "new-candidate", "still-aging":
		return colorYellow + padded + colorReset
	default:
		return colorGray + padded + colorReset
	}
}

// FormatAge renders a duration as whole days and hours, e.g. "2d 7h".
func FormatAge(age time.Duration) string {
	days := int(age.Hours()) / 24
	hours := int(age.Hours()) % 24
	if days == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dd %dh", days, hours)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
