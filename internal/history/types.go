package history

import "time"

// Event records the outcome of one evaluation for one package.
type Event struct {
	ID        int64
	Package   string
	Installed string
	Candidate string
	// Decision is the engine's decision token, or "upgrade-failed" when a
	// mature candidate's installation did not complete.
	Decision  string
	Detail    string
	CreatedAt time.Time
}
