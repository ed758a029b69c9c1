// Package version carries build information set with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/matiasleandrokruk/xlmsession/internal/version.Version=v0.3.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the release version.
	Version = "dev"
	// Commit is the short git SHA of the build.
	Commit = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// String returns the one-line version banner for binary.
func String(binary string) string {
	return fmt.Sprintf("%s version %s (%s, built %s, %s %s/%s)",
		binary, Version, Commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
