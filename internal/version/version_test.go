package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	assert.Contains(t, Short(), Version)
	assert.Contains(t, Short(), Revision)

	detailed := Detailed()
	assert.Contains(t, detailed, Version)
	assert.Contains(t, detailed, "/")
	assert.True(t, strings.HasPrefix(DetailedWithApp(), AppName+" "))
}

func TestFillFromBuildInfo(t *testing.T) {
	origVersion, origRevision, origBuildDate := Version, Revision, BuildDate
	t.Cleanup(func() {
		Version, Revision, BuildDate = origVersion, origRevision, origBuildDate
	})

	Version, Revision, BuildDate = devVersion, "HEAD", "unknown"
	fillFromBuildInfo("v1.2.3", map[string]string{
		"vcs.revision": "0123456789abcdef",
		"vcs.modified": "true",
		"vcs.time":     "2025-01-02T03:04:05Z",
	})

	assert.Equal(t, "1.2.3", Version)
	assert.Equal(t, "0123456789ab-dirty", Revision)
	assert.Equal(t, "2025-01-02T03:04:05Z", BuildDate)
}

func TestFillFromBuildInfo_KeepsLdflags(t *testing.T) {
	origVersion, origRevision, origBuildDate := Version, Revision, BuildDate
	t.Cleanup(func() {
		Version, Revision, BuildDate = origVersion, origRevision, origBuildDate
	})

	Version, Revision, BuildDate = "9.9.9", "cafe", "yesterday"
	fillFromBuildInfo("(devel)", map[string]string{"vcs.revision": "beef", "vcs.time": "now"})

	assert.Equal(t, "9.9.9", Version)
	assert.Equal(t, "cafe", Revision)
	assert.Equal(t, "yesterday", BuildDate)
}
