// Package version reports build metadata. Release builds stamp the
// variables with -ldflags, e.g.
//
//	-X github.com/dl-alexandre/dbxbackup/pkg/version.Version=v1.2.0
//
// Builds without ldflags fall back to the module and VCS data the Go
// toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Name is the program name printed in version strings
const Name = "dbxbackup"

const (
	unsetVersion = "dev"
	unsetValue   = "unknown"
)

var (
	Version   = unsetVersion
	GitCommit = unsetValue
	BuildTime = unsetValue
)

// Info is the build metadata of the running binary
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() *Info {
	info := &Info{
		Name:      Name,
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fill(bi)
	}
	return info
}

// fill copies module and VCS settings into fields ldflags left unset
func (i *Info) fill(bi *debug.BuildInfo) {
	if i.Version == unsetVersion && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == unsetValue {
				i.GitCommit = shortRevision(s.Value)
			}
		case "vcs.time":
			if i.BuildTime == unsetValue {
				i.BuildTime = s.Value
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func (i *Info) String() string {
	commit := i.GitCommit
	if i.Modified {
		commit += ", modified"
	}
	return fmt.Sprintf("%s %s (%s) built %s %s", i.Name, i.Version, commit, i.BuildTime, i.Platform)
}

// UserAgent identifies the binary to the remote API
func (i *Info) UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", i.Name, i.Version, i.Platform, i.GoVersion)
}

func (i *Info) Short() string {
	return i.Version
}
