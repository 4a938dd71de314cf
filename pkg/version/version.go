// Package version derives the build identity reported in health responses
// and the startup log.
//
// Resolution order: -ldflags override, then VCS metadata from the build
// info, then the "dev" fallback used by go test and non-git builds.
package version

import "runtime/debug"

// commitOverride is injected with -ldflags for container builds that
// compile without a .git directory.
var commitOverride string

// GitCommit is the short (8-char) commit hash, or "dev".
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, kv := range info.Settings {
		if kv.Key == "vcs.revision" && kv.Value != "" {
			return shorten(kv.Value)
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
