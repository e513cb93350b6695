// Package buildinfo exposes version metadata stamped in with -ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/nugget/hearth/internal/buildinfo.Version=v0.3.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Uptime reports how long the process has been running, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent is the value sent on every outbound HTTP request.
func UserAgent() string {
	return "Hearth/" + Version
}

// RuntimeInfo describes the running binary for the status endpoint and
// the version subcommand.
func RuntimeInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// String is a one-line banner for startup logs.
func String() string {
	return fmt.Sprintf("Hearth %s (%s) built %s", Version, GitCommit, BuildTime)
}
