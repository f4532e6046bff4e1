// Package version exposes the sonata release version, embedded from the
// VERSION file at build time so the binary and the repository never drift.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the release version with surrounding whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}
