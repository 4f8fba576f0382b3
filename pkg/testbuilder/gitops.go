package testbuilder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aibozo/codeurv2/pkg/models"
)

// commitTestFiles creates branch tst/<spec.id>, stages and commits the
// working tree, pushes, and returns the resulting commit SHA, mirroring
// pkg/codingagent's commitAndPush.
func commitTestFiles(ctx context.Context, workdir string, spec models.TestSpec) (string, error) {
	branch := fmt.Sprintf("tst/%s", spec.ID)
	if _, err := runGit(ctx, workdir, "checkout", "-b", branch); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
	if _, err := runGit(ctx, workdir, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage test changes: %w", err)
	}

	message := fmt.Sprintf("test: cover %s\n\n[testspec:%s]", strings.Join(spec.TargetPaths, ", "), spec.ID)
	if _, err := runGit(ctx, workdir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit tests: %w", err)
	}

	sha, err := runGit(ctx, workdir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve commit sha: %w", err)
	}
	sha = strings.TrimSpace(sha)

	if _, err := runGit(ctx, workdir, "push", "origin", branch); err != nil {
		return "", fmt.Errorf("push %s: %w", branch, err)
	}
	return sha, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}
