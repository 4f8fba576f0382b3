// Package cirunner implements the CI runner (component I): given a
// CommitResult{SUCCESS}, it clones the branch, checks out the commit,
// installs dependencies, runs the format/lint/test battery, tarballs the
// repo, and emits a BuildReport.
//
// Grounded on original_source/apps/ci_runner/run.py's build() function for
// the clone -> checkout -> deps -> format/lint -> test+coverage -> tarball
// sequence; re-expressed with os/exec subprocess calls and
// archive/tar+compress/gzip for the artefact, matching tarsy's general
// comfort with os/exec-driven external tooling elsewhere in the repo
// (pkg/version's use of runtime/debug aside, tarsy has no literal build
// runner, so the subprocess-orchestration shape is grounded on
// original_source and idiomatic stdlib tar/gzip usage).
package cirunner

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/aibozo/codeurv2/pkg/models"
)

// Runner is the component I service object.
type Runner struct {
	remoteRepo   string
	artefactRoot string
}

// New constructs a Runner targeting remoteRepo, writing tarballs under
// artefactRoot.
func New(remoteRepo, artefactRoot string) *Runner {
	return &Runner{remoteRepo: remoteRepo, artefactRoot: artefactRoot}
}

// Build clones the commit's branch, installs dependencies, runs the
// format/lint/test battery with coverage, and tarballs the result.
func (r *Runner) Build(ctx context.Context, commit models.CommitResult) (models.BuildReport, error) {
	work, err := os.MkdirTemp("", "cirunner-*")
	if err != nil {
		return models.BuildReport{}, fmt.Errorf("create build workdir: %w", err)
	}
	defer os.RemoveAll(work)

	repoDir := filepath.Join(work, "repo")
	if _, err := runCmd(ctx, work, "git", "clone", "--depth", "1", "--branch", commit.BranchName, r.remoteRepo, repoDir); err != nil {
		return models.BuildReport{}, fmt.Errorf("clone %s: %w", commit.BranchName, err)
	}
	if _, err := runCmd(ctx, repoDir, "git", "checkout", commit.CommitSHA); err != nil {
		return models.BuildReport{}, fmt.Errorf("checkout %s: %w", commit.CommitSHA, err)
	}

	if err := installDependencies(ctx, repoDir); err != nil {
		return models.BuildReport{}, fmt.Errorf("install dependencies: %w", err)
	}

	lintErrors := runFormatAndLint(ctx, repoDir)
	failedTests, coverage := runTestsWithCoverage(ctx, repoDir)

	artefactURL, err := r.tarball(repoDir, commit.CommitSHA)
	if err != nil {
		return models.BuildReport{}, fmt.Errorf("tarball artefact: %w", err)
	}

	status := models.BuildFailed
	if len(lintErrors) == 0 && len(failedTests) == 0 {
		status = models.BuildPassed
	}

	return models.BuildReport{
		CommitSHA:    commit.CommitSHA,
		Status:       status,
		FailedTests:  failedTests,
		LintErrors:   lintErrors,
		LineCoverage: coverage,
		ArtefactURL:  artefactURL,
	}, nil
}

// installDependencies installs the project's manifest-declared
// dependencies, mirroring original_source's requirements.txt/pyproject.toml
// branch with this repo's own go.mod/go.sum equivalent.
func installDependencies(ctx context.Context, repoDir string) error {
	if !fileExists(filepath.Join(repoDir, "go.mod")) {
		return nil
	}
	if _, err := exec.LookPath("go"); err != nil {
		return nil
	}
	_, err := runCmd(ctx, repoDir, "go", "mod", "download")
	return err
}

// runFormatAndLint runs gofmt -l and go vet, collecting combined output for
// any that fail, skipping tools not on PATH exactly as the self-check
// battery in pkg/codingagent does.
func runFormatAndLint(ctx context.Context, repoDir string) []string {
	var errs []string
	if _, err := exec.LookPath("gofmt"); err == nil {
		if out, runErr := runCmd(ctx, repoDir, "gofmt", "-l", "."); runErr != nil || strings.TrimSpace(out) != "" {
			errs = append(errs, "gofmt: "+out)
		}
	}
	if _, err := exec.LookPath("go"); err == nil {
		if out, runErr := runCmd(ctx, repoDir, "go", "vet", "./..."); runErr != nil {
			errs = append(errs, "go vet: "+out)
		}
	}
	return errs
}

// runTestsWithCoverage runs `go test` with a coverage profile. A missing
// coverage report yields 0.0.
func runTestsWithCoverage(ctx context.Context, repoDir string) (failedTests []string, coverage float64) {
	if _, err := exec.LookPath("go"); err != nil {
		return nil, 0.0
	}
	coverProfile := filepath.Join(repoDir, "cover.out")
	out, err := runCmd(ctx, repoDir, "go", "test", "-coverprofile="+coverProfile, "./...")
	if err != nil {
		for _, line := range strings.Split(out, "\n") {
			if strings.Contains(line, "FAIL") {
				failedTests = append(failedTests, strings.TrimSpace(line))
			}
		}
	}
	coverage = parseCoverageTotal(ctx, repoDir, coverProfile)
	return failedTests, coverage
}

func parseCoverageTotal(ctx context.Context, repoDir, coverProfile string) float64 {
	if !fileExists(coverProfile) {
		return 0.0
	}
	out, err := runCmd(ctx, repoDir, "go", "tool", "cover", "-func="+coverProfile)
	if err != nil {
		return 0.0
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 {
		return 0.0
	}
	last := lines[len(lines)-1]
	fields := strings.Fields(last)
	if len(fields) == 0 {
		return 0.0
	}
	pctField := fields[len(fields)-1]
	var pct float64
	if _, err := fmt.Sscanf(pctField, "%f%%", &pct); err != nil {
		return 0.0
	}
	return pct
}

// tarball writes repoDir into <artefact_root>/<sha>.tar.gz.
func (r *Runner) tarball(repoDir, sha string) (string, error) {
	if err := os.MkdirAll(r.artefactRoot, 0o755); err != nil {
		return "", fmt.Errorf("create artefact root: %w", err)
	}
	dest := filepath.Join(r.artefactRoot, sha+".tar.gz")
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create artefact file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	err = filepath.WalkDir(repoDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(repoDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join("repo", rel))
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("walk repo for tarball: %w", err)
	}
	return dest, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func runCmd(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}
