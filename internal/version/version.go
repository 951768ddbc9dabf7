// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/inzamrzn918/checkerq-sub000/internal/version.Version=1.0.0"
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
