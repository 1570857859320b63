// Package version reports the build of the image-promoter binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	apimachineryversion "k8s.io/apimachinery/pkg/version"
)

// Name is the program name used in version output and as registry user agent.
const Name = "image-promoter"

// Set with -ldflags "-X github.com/openmcp-project/image-promoter/internal/version.<var>=...".
// Values left empty are filled from the build info embedded by the Go toolchain.
var (
	buildVersion = ""
	gitCommit    = ""
	gitTreeState = ""
	buildDate    = ""
)

// GetVersion returns the version information of the build.
func GetVersion() *apimachineryversion.Info {
	info := &apimachineryversion.Info{
		GitVersion:   buildVersion,
		GitCommit:    gitCommit,
		GitTreeState: gitTreeState,
		BuildDate:    buildDate,
		GoVersion:    runtime.Version(),
		Compiler:     runtime.Compiler,
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(info, bi)
	}
	info.Major, info.Minor = majorMinor(info.GitVersion)
	return info
}

// UserAgent identifies the build in requests to registries.
func UserAgent() string {
	v := GetVersion().GitVersion
	if v == "" {
		return Name
	}
	return Name + "/" + v
}

func fillFromBuildInfo(info *apimachineryversion.Info, bi *debug.BuildInfo) {
	if info.GitVersion == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.GitVersion = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			if info.GitTreeState == "" {
				info.GitTreeState = "clean"
				if s.Value == "true" {
					info.GitTreeState = "dirty"
				}
			}
		}
	}
}

func majorMinor(version string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) < 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
