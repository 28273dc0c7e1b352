// Package version exposes the council build version.
package version

// version is stamped at build time:
//
//	go build -ldflags "-X council/internal/version.version=v1.2.3"
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the stamped version, or "dev" for local builds.
func String() string {
	return version
}
