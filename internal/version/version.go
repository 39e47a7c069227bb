// Package version reports the build identity shown by `quicksave version`
// and sent as the upload User-Agent.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	AppName         = "QuickSave"
	devVersion      = "0.1.0-dev"
	unknownRevision = "HEAD"
)

// Release builds set these with -ldflags -X.
var (
	Version   = devVersion
	Revision  = unknownRevision
	BuildDate = ""
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		settings := make(map[string]string, len(info.Settings))
		for _, s := range info.Settings {
			settings[s.Key] = s.Value
		}
		applyBuildInfo(info.Main.Version, settings)
	}
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}

// applyBuildInfo fills in whatever ldflags left at its default from the
// module version and the vcs.* build settings.
func applyBuildInfo(mainVersion string, settings map[string]string) {
	if (Version == devVersion || Version == "") && mainVersion != "" && mainVersion != "(devel)" {
		Version = strings.TrimPrefix(mainVersion, "v")
	}

	if rev := settings["vcs.revision"]; rev != "" && (Revision == unknownRevision || Revision == "") {
		if settings["vcs.modified"] == "true" {
			rev += "-dirty"
		}
		Revision = rev
	}

	if BuildDate == "" {
		BuildDate = settings["vcs.time"]
	}
}

// ShortWithApp is the one-line form, e.g. `QuickSave 0.1.0 (5e23a4)`.
func ShortWithApp() string {
	return fmt.Sprintf("%s %s (%s)", AppName, Version, Revision)
}

// Detailed adds toolchain, platform and build date, e.g.
// `0.1.0 (5e23a4; go1.23.6; linux/amd64; 2026-05-01T09:00:00Z)`.
func Detailed() string {
	return fmt.Sprintf("%s (%s; %s; %s/%s; %s)", Version, Revision, runtime.Version(), runtime.GOOS, runtime.GOARCH, BuildDate)
}

// UserAgent identifies uploads to the webhook endpoint, e.g. `QuickSave/0.1.0 (linux; amd64)`.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", AppName, Version, runtime.GOOS, runtime.GOARCH)
}
