package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resetVersion(t *testing.T) {
	origVersion, origRevision, origBuildDate := Version, Revision, BuildDate
	t.Cleanup(func() {
		Version, Revision, BuildDate = origVersion, origRevision, origBuildDate
	})
}

func TestVersionStrings(t *testing.T) {
	resetVersion(t)
	Version, Revision, BuildDate = "1.0.0", "abc123", ""

	assert.Equal(t, "1.0.0 (abc123)", Short())
	assert.Equal(t, "1.0.0 (abc123; "+runtime.Version()+"; "+runtime.GOOS+"/"+runtime.GOARCH+")", Detailed())
	assert.True(t, strings.HasPrefix(DetailedWithApp(), "syftxfer 1.0.0 "))
	assert.Equal(t, "syftxfer/1.0.0", UserAgent())

	BuildDate = "2025-01-01T00:00:00Z"
	assert.True(t, strings.HasSuffix(Detailed(), "; 2025-01-01T00:00:00Z)"))

	info := Get()
	assert.Equal(t, "syftxfer", info.App)
	assert.Equal(t, "abc123", info.Revision)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestApplyBuildInfo_PopulatesDefaults(t *testing.T) {
	resetVersion(t)
	Version, Revision, BuildDate = devVersion, "HEAD", ""

	applyBuildInfo("v9.9.9", map[string]string{
		"vcs.revision": "abcdef1234567890",
		"vcs.modified": "true",
		"vcs.time":     "2025-12-12T01:00:00Z",
	})

	assert.Equal(t, "9.9.9", Version)
	assert.Equal(t, "abcdef123456-dirty", Revision)
	assert.Equal(t, "2025-12-12T01:00:00Z", BuildDate)
}

func TestApplyBuildInfo_DevelKeepsDefault(t *testing.T) {
	resetVersion(t)
	Version, Revision, BuildDate = devVersion, "HEAD", ""

	applyBuildInfo("(devel)", map[string]string{})

	assert.Equal(t, devVersion, Version)
	assert.Equal(t, "HEAD", Revision)
	assert.Empty(t, BuildDate)
}

func TestApplyBuildInfo_DoesNotOverrideLdflags(t *testing.T) {
	resetVersion(t)
	Version, Revision, BuildDate = "1.2.3", "deadbeef", "from-ldflags"

	applyBuildInfo("v9.9.9", map[string]string{
		"vcs.revision": "abcdef",
		"vcs.time":     "2025-12-12T01:00:00Z",
	})

	assert.Equal(t, "1.2.3", Version)
	assert.Equal(t, "deadbeef", Revision)
	assert.Equal(t, "from-ldflags", BuildDate)
}
