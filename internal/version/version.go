// Package version exposes the compiled-in aptsettle version.
package version

// version is overridden at release time via
// -ldflags "-X github.com/aptsettle/aptsettle/internal/version.version=X.Y.Z".
var version = "0.3.0"

// Version returns the version of the running binary.
func Version() string {
	return version
}
