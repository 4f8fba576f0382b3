package models

import "time"

// Complexity is the code planner's (component G) triage label, memoized via
// go-cache keyed on the task's goal+path (see pkg/codeplanner).
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// CodingTask is a single unit of work handed to the coding agent (component
// H): one Step, hydrated with the blob IDs a hybrid-search context pull
// surfaced and the symbol leases reserved on its behalf.
type CodingTask struct {
	ID               string     `json:"id"`
	ParentPlanID     string     `json:"parent_plan_id"`
	StepNumber       int        `json:"step_number"`
	Goal             string     `json:"goal"`
	Path             string     `json:"path,omitempty"`
	Kind             StepKind   `json:"kind"`
	BlobIDs          []int64    `json:"blob_ids"`
	Complexity       Complexity `json:"complexity"`
	ReservedLeaseIDs []string   `json:"reserved_lease_ids"`
	CreatedAt        time.Time  `json:"created_at"`
}

// CommitStatus is the coding agent's tagged result for a CodingTask: a
// tagged variant, not an exception.
type CommitStatus string

const (
	CommitSuccess  CommitStatus = "SUCCESS"
	CommitSoftFail CommitStatus = "SOFT_FAIL"
	CommitHardFail CommitStatus = "HARD_FAIL"
)

// CommitResult is what the coding agent reports back to the orchestrator
// once it has exhausted its bounded retry loop for a CodingTask.
type CommitResult struct {
	TaskID     string       `json:"task_id"`
	CommitSHA  string       `json:"commit_sha,omitempty"`
	Status     CommitStatus `json:"status"`
	BranchName string       `json:"branch_name,omitempty"`
	Notes      []string     `json:"notes,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}
