package cirunner

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/models"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH")
	}
}

func TestTarballProducesReadableGzipArchive(t *testing.T) {
	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(repoDir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))

	r := New("https://example.com/r.git", t.TempDir())
	path, err := r.tarball(repoDir, "deadbeef")
	require.NoError(t, err)
	assert.FileExists(t, path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	assert.Contains(t, names, "repo/main.go")
	for _, n := range names {
		assert.NotContains(t, n, ".git/")
	}
}

func TestParseCoverageTotalReturnsZeroWhenProfileMissing(t *testing.T) {
	cov := parseCoverageTotal(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "missing.out"))
	assert.Equal(t, 0.0, cov)
}

func TestBuildFailsFastOnCloneError(t *testing.T) {
	requireGit(t)
	r := New("https://invalid.invalid/does-not-exist.git", t.TempDir())
	_, err := r.Build(context.Background(), models.CommitResult{BranchName: "main", CommitSHA: "deadbeef"})
	assert.Error(t, err)
}
