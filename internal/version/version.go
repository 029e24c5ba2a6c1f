// Package version reports the fleet build version.
package version

import (
	"runtime/debug"
	"strings"
)

// version is set at build time with
// -ldflags "-X github.com/ShayCichocki/fleet/internal/version.version=v1.2.3".
var version = ""

// Get returns the build version, falling back to the module version and then "dev".
func Get() string {
	if v := strings.TrimSpace(version); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}
