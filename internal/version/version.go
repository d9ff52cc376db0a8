// Package version reports the build version of the smartplug binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/smartplug/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/smartplug/internal/version.Commit=abc1234"
//
// Unset values are filled from the embedded VCS build info when present.
var (
	Version = ""
	Commit  = ""
)

const shortCommit = 7

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(info)
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fillFromBuildInfo(info *debug.BuildInfo) {
	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	if Commit != "" {
		return
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return
	}
	if len(revision) > shortCommit {
		revision = revision[:shortCommit]
	}
	if dirty {
		revision += "-dirty"
	}
	Commit = revision
}

// Info is the version information printed by the version command.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the current version information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Full returns the version and commit on one line.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}
