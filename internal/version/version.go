package version

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time via -ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
	CommitID  = "unknown"
)

// Info describes the running avsync binary.
type Info struct {
	Version       string
	GoVersion     string
	GitCommit     string
	BuildTime     string
	FormattedTime string
	OS            string
	Arch          string
}

func formatBuildTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}

// ClientInfo returns the build information of this binary.
func ClientInfo() Info {
	return Info{
		Version:       Version,
		GoVersion:     runtime.Version(),
		GitCommit:     CommitID,
		BuildTime:     BuildTime,
		FormattedTime: formatBuildTime(BuildTime),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}
}

// Short is the one-line form printed by --version.
func (i Info) Short() string {
	return fmt.Sprintf("avsync version %s, build %s", i.Version, i.GitCommit)
}
