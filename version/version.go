package version //nolint:revive // package name intentionally matches build-info convention

import (
	"fmt"
	"runtime/debug"
)

//nolint:gochecknoglobals //version information is set at build time
var (
	Repository string
	Version    string
	Commit     string
	Date       string
)

// String describes the running build. Values not injected at link time are read from the
// module build info.
func String() string {
	version, commit := Version, Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "" {
			version = info.Main.Version
		}
		for _, setting := range info.Settings {
			if commit == "" && setting.Key == "vcs.revision" {
				commit = setting.Value
			}
		}
	}
	if version == "" {
		version = "(devel)"
	}
	if commit == "" {
		return version
	}
	if Date != "" {
		return fmt.Sprintf("%s (%s, %s)", version, commit, Date)
	}
	return fmt.Sprintf("%s (%s)", version, commit)
}
