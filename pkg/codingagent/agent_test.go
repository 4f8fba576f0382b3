package codingagent

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
	run("config", "user.email", "agent@example.com")
	run("config", "user.name", "agent")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "init")
	return dir
}

func TestApplyPatchRejectsEmptyDiff(t *testing.T) {
	requireGit(t)
	result := applyPatch(context.Background(), t.TempDir(), "")
	assert.Equal(t, ApplyInvalidDiff, result.Outcome)
}

func TestApplyPatchAppliesWellFormedDiff(t *testing.T) {
	dir := initGitRepo(t)
	diff := "--- a/README.md\n+++ b/README.md\n@@ -1,1 +1,2 @@\n # hello\n+world\n"
	result := applyPatch(context.Background(), dir, diff)
	assert.Equal(t, ApplyApplied, result.Outcome)
	content, err := os.ReadFile(filepath.Join(dir, "README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "world")
}

func TestApplyPatchRejectsGarbageDiff(t *testing.T) {
	dir := initGitRepo(t)
	result := applyPatch(context.Background(), dir, "this is not a diff at all")
	assert.Equal(t, ApplyInvalidDiff, result.Outcome)
}

func TestHasGoFilesDetectsNestedSources(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, hasGoFiles(dir))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "main.go"), []byte("package sub\n"), 0o644))
	assert.True(t, hasGoFiles(dir))
}

func TestRunSelfCheckBatteryPassesVacuouslyWithNoGoFiles(t *testing.T) {
	dir := t.TempDir()
	result := runSelfCheckBattery(context.Background(), dir)
	assert.True(t, result.Passed)
}

type fakeCheckout struct {
	result gitadapter.CheckoutResult
	err    error
}

func (f *fakeCheckout) Checkout(_ context.Context, _, _ string) (gitadapter.CheckoutResult, error) {
	return f.result, f.err
}

type fakeSnippets struct {
	byID map[uint64]string
}

func (f *fakeSnippets) Snippet(_ context.Context, pointID uint64, _ int) (string, error) {
	return f.byID[pointID], nil
}

type fakeChat struct {
	content string
}

func (f *fakeChat) Chat(_ context.Context, _ string, _ []llmgateway.Message, _ llmgateway.ChatOptions) (llmgateway.ChatResponse, error) {
	return llmgateway.ChatResponse{Content: f.content}, nil
}

type fakeClaimer struct {
	claimed []string
}

func (f *fakeClaimer) Claim(_ context.Context, leaseID, _ string) (models.SymbolRecord, error) {
	f.claimed = append(f.claimed, leaseID)
	return models.SymbolRecord{}, nil
}

func TestProcessSucceedsAndClaimsLeasesOnCleanPatch(t *testing.T) {
	dir := initGitRepo(t)
	remote := t.TempDir()
	for _, args := range [][]string{{"init", "--bare", remote}, {"-C", dir, "remote", "add", "origin", remote}} {
		require.NoError(t, exec.Command("git", args...).Run())
	}
	git := &fakeCheckout{result: gitadapter.CheckoutResult{WorkDir: dir, CommitSHA: "deadbeef"}}
	chat := &fakeChat{content: `{"diff":"--- a/README.md\n+++ b/README.md\n@@ -1,1 +1,2 @@\n # hello\n+world\n","reasoning":"add a line"}`}
	claimer := &fakeClaimer{}
	agent := New(git, &fakeSnippets{}, chat, claimer, Config{Model: "m", RemoteRepo: "https://example.com/r.git", MaxRetries: 1})

	task := models.CodingTask{ID: "task-1", Goal: "add line", Kind: models.StepModify, ReservedLeaseIDs: []string{"lease-1"}}
	result := agent.Process(context.Background(), task)

	require.Equal(t, models.CommitSuccess, result.Status)
	assert.NotEmpty(t, result.CommitSHA)
	assert.Equal(t, "agt/task-1", result.BranchName)
	assert.Equal(t, []string{"lease-1"}, claimer.claimed)
}

func TestProcessSoftFailsWhenDiffNeverApplies(t *testing.T) {
	dir := initGitRepo(t)
	git := &fakeCheckout{result: gitadapter.CheckoutResult{WorkDir: dir, CommitSHA: "deadbeef"}}
	chat := &fakeChat{content: `{"diff":"not a real diff","reasoning":"oops"}`}
	agent := New(git, &fakeSnippets{}, chat, &fakeClaimer{}, Config{Model: "m", RemoteRepo: "https://example.com/r.git", MaxRetries: 1})

	result := agent.Process(context.Background(), models.CodingTask{ID: "task-2", Goal: "x", Kind: models.StepModify})
	assert.Equal(t, models.CommitSoftFail, result.Status)
	assert.NotEmpty(t, result.Notes)
}

func TestProcessHardFailsWhenCheckoutErrors(t *testing.T) {
	git := &fakeCheckout{err: assert.AnError}
	agent := New(git, &fakeSnippets{}, &fakeChat{}, &fakeClaimer{}, Config{Model: "m", RemoteRepo: "https://example.com/r.git"})

	result := agent.Process(context.Background(), models.CodingTask{ID: "task-3"})
	assert.Equal(t, models.CommitHardFail, result.Status)
}
