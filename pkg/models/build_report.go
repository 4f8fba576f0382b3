package models

import "time"

// BuildStatus is the CI runner's (component I) tagged result for a commit.
type BuildStatus string

const (
	BuildPassed BuildStatus = "PASSED"
	BuildFailed BuildStatus = "FAILED"
)

// BuildReport is the artefact the CI runner emits for a commit SHA, driving
// the orchestrator's BUILD1/BUILD2 transitions.
type BuildReport struct {
	CommitSHA    string      `json:"commit_sha"`
	Status       BuildStatus `json:"status"`
	FailedTests  []string    `json:"failed_tests,omitempty"`
	LintErrors   []string    `json:"lint_errors,omitempty"`
	LineCoverage float64     `json:"line_coverage"`
	ArtefactURL  string      `json:"artefact_url,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// TestScenario is one behavior the test planner wants a GeneratedTests file
// to cover (original_source's planner emits scenario descriptions alongside
// target paths).
type TestScenario struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TestSpec is the test planner's output for a Plan: which paths need
// coverage and what scenarios those tests should exercise.
type TestSpec struct {
	ID           string         `json:"id"`
	ParentPlanID string         `json:"parent_plan_id"`
	TargetPaths  []string       `json:"target_paths"`
	Scenarios    []TestScenario `json:"scenarios"`
	CreatedAt    time.Time      `json:"created_at"`
}

// GeneratedTests is the test builder's (pkg/testbuilder) output for a
// TestSpec: the test files it wrote and the commit that carries them.
type GeneratedTests struct {
	ID               string    `json:"id"`
	ParentTestSpecID string    `json:"parent_test_spec_id"`
	CommitSHA        string    `json:"commit_sha"`
	Files            []string  `json:"files"`
	CreatedAt        time.Time `json:"created_at"`
}
