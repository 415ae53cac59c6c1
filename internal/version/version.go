// Package version reports the stepci build, set through -ldflags by the build task.
package version

var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)
