// Package buildinfo describes the build of the ddflow binary.
package buildinfo

import "fmt"

// BuildInfo is stamped into the binary with -ldflags at build time.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String returns the build info as a string.
func (i BuildInfo) String() string {
	return fmt.Sprintf("ddflow %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
