// Package orchestrator implements one finite state machine per
// ChangeRequest, persisted to fsm_states on every transition so a restarted
// process can resume in-flight requests.
//
// The "poll → claim → drive a
// durable state machine → publish" shape is grounded on tarsy's
// queue.Worker/WorkerPool, which is the closest tarsy gets to an
// explicit state machine even though it has no literal FSM type; the
// in-memory instance registry below is tarsy's WorkerPool.activeSessions
// shape (map guarded by a mutex) generalized to hold *FSM instead of a
// session handle.
package orchestrator

import (
	"fmt"

	"github.com/aibozo/codeurv2/pkg/models"
)

// Event is the label on an FSM transition edge.
type Event string

const (
	EventCRQ        Event = "crq"
	EventPlan       Event = "plan"
	EventCodeOK     Event = "code_ok"
	EventBuildOK    Event = "build_ok"
	EventTSpec      Event = "tspec"
	EventGTOK       Event = "gt_ok"
	EventGTFail     Event = "gt_fail"
	EventBuild2OK   Event = "build2_ok"
	EventBuildFail  Event = "build_fail"
	EventReset      Event = "reset"
)

// transitions holds the pipeline's state table, keyed by (fromState,
// event). The "any -> build_fail -> REGRESS" row is handled separately in
// Fire since it is not keyed on a specific from-state.
var transitions = map[models.FSMStateName]map[Event]models.FSMStateName{
	models.StateIdle:      {EventCRQ: models.StatePlan},
	models.StatePlan:      {EventPlan: models.StateCode},
	models.StateCode:      {EventCodeOK: models.StateBuild1},
	models.StateBuild1:    {EventBuildOK: models.StateTestPlan},
	models.StateTestPlan:  {EventTSpec: models.StateTestBuild},
	models.StateTestBuild: {EventGTOK: models.StateBuild2, EventGTFail: models.StateRegress},
	models.StateBuild2:    {EventBuild2OK: models.StateDone},
	models.StateDone:      {EventReset: models.StateIdle},
}

// ErrInvalidTransition is returned by Fire when event does not apply to the
// FSM's current state.
type ErrInvalidTransition struct {
	From  models.FSMStateName
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("orchestrator: event %q invalid from state %q", e.Event, e.From)
}

// FSM is one change request's in-memory pipeline state. Every State change
// goes through Fire so the transition table is the single source of truth.
type FSM struct {
	RequestID       string
	State           models.FSMStateName
	PendingTaskIDs  map[string]struct{}
	RegressionHints []string
}

// NewFSM starts a fresh FSM in IDLE for requestID.
func NewFSM(requestID string) *FSM {
	return &FSM{
		RequestID:      requestID,
		State:          models.StateIdle,
		PendingTaskIDs: map[string]struct{}{},
	}
}

// Fire applies event to the FSM's current state. build_fail always wins and
// routes to REGRESS regardless of current state.
func (f *FSM) Fire(event Event) error {
	if event == EventBuildFail {
		f.State = models.StateRegress
		return nil
	}
	next, ok := transitions[f.State][event]
	if !ok {
		return &ErrInvalidTransition{From: f.State, Event: event}
	}
	f.State = next
	return nil
}

// BeginCoding records the set of tasks a TaskBundle spawned; code_ok can
// only fire once this set has fully drained.
func (f *FSM) BeginCoding(taskIDs []string) {
	f.PendingTaskIDs = make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		f.PendingTaskIDs[id] = struct{}{}
	}
}

// ResolveTask removes taskID from the pending set. hardFail additionally
// records a regression hint: a task with HARD_FAIL is removed from pending
// and counted as a regression hint but does not itself cause build_fail.
// It returns true once the pending set has fully
// drained, at which point the caller should Fire(EventCodeOK).
func (f *FSM) ResolveTask(taskID string, hardFail bool) (drained bool) {
	delete(f.PendingTaskIDs, taskID)
	if hardFail {
		f.RegressionHints = append(f.RegressionHints, taskID)
	}
	return len(f.PendingTaskIDs) == 0
}

// Snapshot converts the live FSM into its persisted row shape.
func (f *FSM) Snapshot() models.FSMState {
	pending := make([]string, 0, len(f.PendingTaskIDs))
	for id := range f.PendingTaskIDs {
		pending = append(pending, id)
	}
	return models.FSMState{
		RequestID:       f.RequestID,
		State:           f.State,
		PendingTaskIDs:  pending,
		RegressionHints: f.RegressionHints,
	}
}

// FromSnapshot rebuilds a live FSM from a persisted row, used on restart to
// resume in-flight requests.
func FromSnapshot(s models.FSMState) *FSM {
	f := &FSM{
		RequestID:       s.RequestID,
		State:           s.State,
		PendingTaskIDs:  make(map[string]struct{}, len(s.PendingTaskIDs)),
		RegressionHints: append([]string{}, s.RegressionHints...),
	}
	for _, id := range s.PendingTaskIDs {
		f.PendingTaskIDs[id] = struct{}{}
	}
	return f
}
