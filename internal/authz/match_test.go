package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPathLiteral(t *testing.T) {
	assert.True(t, MatchPath("/system/user", "/system/user"))
	assert.False(t, MatchPath("/system/user", "/system/users"))
	assert.False(t, MatchPath("/system/user", "/system/user/1"))
}

func TestMatchPathQuestionMark(t *testing.T) {
	assert.True(t, MatchPath("/files/report-?.csv", "/files/report-1.csv"))
	assert.False(t, MatchPath("/files/report-?.csv", "/files/report-10.csv"))
	assert.False(t, MatchPath("/files/report-?.csv", "/files/report-.csv"))
}

func TestMatchPathSingleStar(t *testing.T) {
	// * stays inside one segment.
	assert.True(t, MatchPath("/v1/orgs/*/users", "/v1/orgs/42/users"))
	assert.True(t, MatchPath("/v1/orgs/*/users", "/v1/orgs//users"))
	assert.False(t, MatchPath("/v1/orgs/*/users", "/v1/orgs/42/users/7"))
	assert.False(t, MatchPath("/v1/orgs/*", "/v1/orgs/42/users"))

	// mixed literal and star within a segment
	assert.True(t, MatchPath("/files/*.csv", "/files/report.csv"))
	assert.False(t, MatchPath("/files/*.csv", "/files/report.json"))
}

func TestMatchPathDoubleStar(t *testing.T) {
	// ** matches zero or more whole segments.
	assert.True(t, MatchPath("/system/user/**", "/system/user"))
	assert.True(t, MatchPath("/system/user/**", "/system/user/1"))
	assert.True(t, MatchPath("/system/user/**", "/system/user/1/roles"))
	assert.False(t, MatchPath("/system/user/**", "/system/role"))

	// ** in the middle requires the suffix to match somewhere.
	assert.True(t, MatchPath("/a/**/c", "/a/c"))
	assert.True(t, MatchPath("/a/**/c", "/a/b/c"))
	assert.True(t, MatchPath("/a/**/c", "/a/b/b2/c"))
	assert.False(t, MatchPath("/a/**/c", "/a/b/d"))
}

func TestMatchPathRoot(t *testing.T) {
	assert.True(t, MatchPath("/**", "/anything/at/all"))
	assert.True(t, MatchPath("/", "/"))
	assert.False(t, MatchPath("/", "/a"))
}

func TestMatchPathTrailingSlashInsensitive(t *testing.T) {
	assert.True(t, MatchPath("/system/user/", "/system/user"))
	assert.True(t, MatchPath("/system/user", "/system/user/"))
}
