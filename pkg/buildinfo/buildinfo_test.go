package buildinfo

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinaryVersionDefault(t *testing.T) {
	assert.Equal(t, "dev", BinaryVersion)
}

func TestModuleVersionMatchesBuildInfo(t *testing.T) {
	expected := ""
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		expected = info.Main.Version
	}
	assert.Equal(t, expected, ModuleVersion())
}

func TestCurrent(t *testing.T) {
	orig := Commit
	Commit = "abc123"
	defer func() { Commit = orig }()

	info := Current()
	assert.Equal(t, BinaryVersion, info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}
