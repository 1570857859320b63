package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	apimachineryversion "k8s.io/apimachinery/pkg/version"
)

func TestMajorMinor(t *testing.T) {
	tests := []struct {
		version string
		major   string
		minor   string
	}{
		{version: "v0.4.2", major: "0", minor: "4"},
		{version: "1.12.0-rc.1", major: "1", minor: "12"},
		{version: "v2", major: "", minor: ""},
		{version: "", major: "", minor: ""},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			major, minor := majorMinor(tt.version)
			assert.Equal(t, tt.major, major)
			assert.Equal(t, tt.minor, minor)
		})
	}
}

func TestFillFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	info := &apimachineryversion.Info{}
	fillFromBuildInfo(info, bi)
	assert.Equal(t, "v0.3.0", info.GitVersion)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, "2026-10-01T12:00:00Z", info.BuildDate)
	assert.Equal(t, "dirty", info.GitTreeState)

	info = &apimachineryversion.Info{GitVersion: "v1.0.0", GitCommit: "fedcba"}
	bi.Main.Version = "(devel)"
	fillFromBuildInfo(info, bi)
	assert.Equal(t, "v1.0.0", info.GitVersion, "ldflags values win")
	assert.Equal(t, "fedcba", info.GitCommit)
}

func TestUserAgent(t *testing.T) {
	assert.Contains(t, UserAgent(), Name)
}
