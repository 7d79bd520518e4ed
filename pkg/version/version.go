// Package version derives the build identity from the VCS metadata the
// Go toolchain embeds in the binary.
package version

import "runtime/debug"

// AppName is the service name reported on the HTTP surface and in logs.
const AppName = "pointandclick"

// GitCommit is the short commit hash of the build, or "dev" when no VCS
// info is embedded (go test, source tarballs).
var GitCommit = fromBuildInfo()

func fromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns "pointandclick/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
