package models

import "time"

// StepKind enumerates the kind of filesystem change a Step/CodingTask makes.
type StepKind string

const (
	StepAdd      StepKind = "ADD"
	StepModify   StepKind = "MODIFY"
	StepRemove   StepKind = "REMOVE"
	StepRefactor StepKind = "REFACTOR"
)

// Plan is the request planner's (component F) output: an ordered list of
// Steps plus the rationale lines the LLM returned with them.
type Plan struct {
	ID              string    `json:"id"`
	ParentRequestID string    `json:"parent_request_id"`
	Rationale       []string  `json:"rationale"`
	Steps           []Step    `json:"steps"`
	CreatedAt       time.Time `json:"created_at"`
}

// Step is one ordered unit of a Plan. It does not carry reserved symbols or
// retrieval context directly; that hydration happens when the code planner
// (component G) expands a Step into a CodingTask.
type Step struct {
	Order int      `json:"order"`
	Goal  string   `json:"goal"`
	Kind  StepKind `json:"kind"`
	Path  string   `json:"path,omitempty"`
}
