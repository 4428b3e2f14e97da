// Package version reports the build version of the binary.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/guildgate/guildgate/internal/version.Version=...".
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

var readVCS sync.Once

// GetInfo returns the version followed by the short commit hash when known.
func GetInfo() string {
	readVCS.Do(fillFromBuildInfo)
	return format(Version, CommitHash)
}

func fillFromBuildInfo() {
	if CommitHash != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			CommitHash = s.Value
		case "vcs.time":
			BuildTime = s.Value
		}
	}
}

func format(version, commit string) string {
	if commit == "" {
		return version
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (%s)", version, commit)
}
