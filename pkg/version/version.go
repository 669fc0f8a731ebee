// Package version reports the build identity of a soorma binary, shown in
// startup logs and health responses.
package version

import (
	"runtime/debug"
	"sync"
)

// Release is the human-facing version, stamped by the release pipeline:
//
//	go build -ldflags "-X github.com/soorma-ai/soorma/pkg/version.Release=v0.3.0"
//
// Unstamped builds (go run, go test, local checkouts) report "devel".
var Release = "devel"

var commit = sync.OnceValue(func() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 8 {
		rev = rev[:8]
	}
	if rev != "" && dirty {
		rev += "+dirty"
	}
	return rev
})

// Commit returns the short VCS revision the binary was built from, suffixed
// with "+dirty" for builds from a modified tree. Empty when the toolchain
// embedded no VCS info.
func Commit() string { return commit() }

// Full combines release and commit into the identity string the services
// log and serve, e.g. "soorma/v0.3.0 (a3f8c2d1)" or "soorma/devel".
func Full() string {
	if c := commit(); c != "" {
		return "soorma/" + Release + " (" + c + ")"
	}
	return "soorma/" + Release
}
