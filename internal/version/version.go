// Package version carries the build identity of the postforge binaries.
// Values are injected at build time:
//
//	go build -ldflags "-X github.com/jmylchreest/postforge-api/internal/version.Version=1.4.0 -X .../version.Commit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"log/slog"
	"runtime"
)

// ServiceName identifies the API in traces and outbound requests.
const ServiceName = "postforge-api"

// Set via ldflags.
var (
	Version = "0.0.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
	Dirty   = "false"
)

// Info is the build identity reported at startup and in /api/v1/health.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Dirty     bool   `json:"dirty"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build identity.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		Dirty:     Dirty == "true",
		GoVersion: runtime.Version(),
	}
}

// Short is the version as shown in the X-API-Version header and health body.
func (i Info) Short() string {
	if i.Dirty {
		return i.Version + "-dirty"
	}
	return i.Version
}

// LogAttrs returns the startup log attributes.
func (i Info) LogAttrs() []any {
	return []any{
		slog.String("version", i.Short()),
		slog.String("commit", i.Commit),
		slog.String("built", i.Date),
		slog.String("go_version", i.GoVersion),
	}
}

// UserAgent is sent on every request to LLM providers and publishing
// platforms, e.g. "postforge-api/1.4.0 (abc1234)".
func UserAgent() string {
	i := Get()
	if i.Commit == "" || i.Commit == "unknown" {
		return fmt.Sprintf("%s/%s", ServiceName, i.Short())
	}
	return fmt.Sprintf("%s/%s (%s)", ServiceName, i.Short(), i.Commit)
}
