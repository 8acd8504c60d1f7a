package buildinfo

import (
	"runtime"
	"runtime/debug"
)

// BinaryVersion is set at build time via -ldflags. Defaults to "dev".
var BinaryVersion = "dev"

// Commit and BuildDate are set at build time via -ldflags.
var (
	Commit    = ""
	BuildDate = ""
)

// Info is the version payload printed by `exportsync version --json`
// and recorded in the source stamp.
type Info struct {
	Version   string `json:"version"`
	Module    string `json:"module,omitempty"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// ModuleVersion returns the module version embedded by the Go toolchain (when available).
func ModuleVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return ""
}

// vcsRevision falls back to the revision stamped by `go build` when Commit
// was not injected.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

// Current collects build metadata for the running binary.
func Current() Info {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	return Info{
		Version:   BinaryVersion,
		Module:    ModuleVersion(),
		Commit:    commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
