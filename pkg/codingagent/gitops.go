package codingagent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aibozo/codeurv2/pkg/models"
)

// commitAndPush creates branch agt/<task.id>, commits the working tree's
// staged changes, and pushes, mirroring
// original_source's process_task: repo.git.checkout("-b", ...),
// repo.git.add(all=True), repo.git.commit, repo.git.push.
func commitAndPush(ctx context.Context, workdir string, task models.CodingTask) (string, error) {
	branch := fmt.Sprintf("agt/%s", task.ID)
	if _, err := runGit(ctx, workdir, "checkout", "-b", branch); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
	if _, err := runGit(ctx, workdir, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}

	message := fmt.Sprintf("%s: %s\n\n[agent:%s]", strings.ToLower(string(task.Kind)), task.Goal, task.ID)
	if _, err := runGit(ctx, workdir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
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
