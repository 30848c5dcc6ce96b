// Package version exposes build-time version information.
package version

// Version is the service version, overridden at build time via
// -ldflags "-X github.com/storyloom/storyloom/pkg/version.Version=...".
var Version = "dev"
