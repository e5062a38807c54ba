// Package version holds build metadata for the ragchat binary, injected
// with -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/ragchat-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/ragchat-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/ragchat-go/internal/version.BuildDate=2026-01-01"
package version

import "fmt"

// Version is the semantic version, "dev" for local builds.
var Version = "dev"

// Commit is the short git SHA, "unknown" when not injected.
var Commit = "unknown"

// BuildDate is the UTC build date, "unknown" when not injected.
var BuildDate = "unknown"

// String renders all three values on one line.
func String() string {
	return fmt.Sprintf("ragchat %s (commit %s, built %s)", Version, Commit, BuildDate)
}
