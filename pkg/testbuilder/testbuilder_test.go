package testbuilder

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/gitadapter"
	"github.com/aibozo/codeurv2/pkg/llmgateway"
	"github.com/aibozo/codeurv2/pkg/models"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH")
	}
}

func initGitRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	run("init")
	run("config", "user.email", "tester@example.com")
	run("config", "user.name", "tester")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.go"), []byte("package foo\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "init")
	return dir
}

type fakeCheckout struct {
	result gitadapter.CheckoutResult
	err    error
}

func (f *fakeCheckout) Checkout(_ context.Context, _, _ string) (gitadapter.CheckoutResult, error) {
	return f.result, f.err
}

type fakeSnippets struct{}

func (f *fakeSnippets) Snippet(_ context.Context, _ uint64, _ int) (string, error) {
	return "package foo\n", nil
}

type fakeChat struct {
	content string
}

func (f *fakeChat) Chat(_ context.Context, _ string, _ []llmgateway.Message, _ llmgateway.ChatOptions) (llmgateway.ChatResponse, error) {
	return llmgateway.ChatResponse{Content: f.content}, nil
}

func TestBuildSucceedsAndCommitsOnCleanPatch(t *testing.T) {
	dir := initGitRepo(t)
	remote := t.TempDir()
	for _, args := range [][]string{{"init", "--bare", remote}, {"-C", dir, "remote", "add", "origin", remote}} {
		require.NoError(t, exec.Command("git", args...).Run())
	}
	git := &fakeCheckout{result: gitadapter.CheckoutResult{WorkDir: dir, CommitSHA: "deadbeef"}}
	chat := &fakeChat{content: `{"diff":"--- a/foo.go\n+++ b/foo.go\n@@ -1,1 +1,3 @@\n package foo\n+\n+var _ = 1\n","files":["foo_test.go"],"reasoning":"cover foo"}`}
	b := New(git, &fakeSnippets{}, chat, Config{Model: "m", RemoteRepo: "https://example.com/r.git", MaxRetries: 1})

	spec := models.TestSpec{ID: "spec-1", TargetPaths: []string{"foo.go"}, Scenarios: []models.TestScenario{{Name: "happy", Description: "covers foo"}}}
	result, err := b.Build(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "spec-1", result.ParentTestSpecID)
	assert.NotEmpty(t, result.CommitSHA)
	assert.Equal(t, []string{"foo_test.go"}, result.Files)
}

func TestBuildFailsAfterExhaustingRetriesOnGarbageDiff(t *testing.T) {
	dir := initGitRepo(t)
	git := &fakeCheckout{result: gitadapter.CheckoutResult{WorkDir: dir, CommitSHA: "deadbeef"}}
	chat := &fakeChat{content: `{"diff":"not a diff","files":[],"reasoning":"oops"}`}
	b := New(git, &fakeSnippets{}, chat, Config{Model: "m", RemoteRepo: "https://example.com/r.git", MaxRetries: 1})

	_, err := b.Build(context.Background(), models.TestSpec{ID: "spec-2", TargetPaths: []string{"foo.go"}})
	assert.Error(t, err)
}

func TestBuildReturnsErrorWhenCheckoutFails(t *testing.T) {
	git := &fakeCheckout{err: assert.AnError}
	b := New(git, &fakeSnippets{}, &fakeChat{}, Config{Model: "m", RemoteRepo: "https://example.com/r.git"})

	_, err := b.Build(context.Background(), models.TestSpec{ID: "spec-3"})
	assert.Error(t, err)
}
