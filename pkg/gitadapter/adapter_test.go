package gitadapter

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/config"
)

func testConfig(t *testing.T) config.GitAdapterConfig {
	t.Helper()
	return config.GitAdapterConfig{MirrorCache: t.TempDir()}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestMirrorPathIsStableAndTwelveHexChars(t *testing.T) {
	p1 := mirrorPath("/tmp/cache", "https://example.com/repo.git")
	p2 := mirrorPath("/tmp/cache", "https://example.com/repo.git")
	assert.Equal(t, p1, p2)

	base := p1[len("/tmp/cache/"):]
	require.Len(t, base, len(".git")+12)
	assert.Equal(t, ".git", base[12:])
}

func TestMirrorPathDiffersByURL(t *testing.T) {
	a := mirrorPath("/tmp/cache", "https://example.com/a.git")
	b := mirrorPath("/tmp/cache", "https://example.com/b.git")
	assert.NotEqual(t, a, b)
}

func TestIsHex(t *testing.T) {
	assert.True(t, isHex("deadbeef0123"))
	assert.False(t, isHex("not-hex!"))
	assert.False(t, isHex("DEADBEEF"))
}

// requireGit skips tests that need a real git binary when none is on PATH,
// matching the self-check battery's own PATH-missing skip semantics.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH")
	}
}

func TestEnsureMirrorRejectsUnreachableRemote(t *testing.T) {
	requireGit(t)
	a := New(testConfig(t))
	_, err := a.ensureMirror(testContext(t), "https://invalid.invalid/does-not-exist.git")
	assert.Error(t, err)
}
