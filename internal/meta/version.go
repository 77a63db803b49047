package meta

import (
	"fmt"
	"runtime"
)

// Info describes the build of a beacon binary, as stamped in by the linker.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// These will be filled in using the linker -X flag, e.g.
//
//   go build -ldflags "-X github.com/luma/beacon/internal/meta.Version=1.2.0"
var (
	// Version as an arbitrary string
	Version string

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	// GoTag is the Go build tags the binary was built with
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

const unknown = "dev"

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   orUnknown(Version),
		Build:     orUnknown(Build),
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

func (i Info) String() string {
	s := fmt.Sprintf("beacon %s (%s) %s %s", i.Version, i.Build, i.GoVersion, i.Platform)
	if i.BuildTime != "" {
		s += ", built " + i.BuildTime
	}

	return s
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}

	return s
}
