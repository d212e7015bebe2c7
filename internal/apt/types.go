package apt

// Versions reports what dpkg has installed and what the repositories
// currently offer for one package. Empty strings mean "absent": the package
// is not installed, or no candidate is offered.
type Versions struct {
	Installed string
	Candidate string
}
