package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aibozo/codeurv2/pkg/bus"
	"github.com/aibozo/codeurv2/pkg/models"
)

// Topic names for the pipeline's event bus. All are partition-keyed by
// ChangeRequest.id except where noted.
const (
	TopicChangeRequestIn  = "change.request.in"
	TopicPlanOut          = "plan.out"
	TopicTaskBundleOut    = "task.bundle.out"
	TopicCommitResultOut  = "commit.result.out"
	TopicBuildReportOut   = "build.report.out"
	TopicTestSpecOut      = "test.spec.out"
	TopicGeneratedTestsOut = "generated.tests.out"
	TopicRegressionOut    = "regression.out"
)

// ConsumerGroup is the durable consumer name the orchestrator subscribes
// under; it never competes with the planner/coding-agent/CI-runner
// consumer groups reading the same topics.
const ConsumerGroup = "orchestrator"

// TaskBundle is the code planner's output: one CodingTask per Plan step,
// published on task.bundle.out.
type TaskBundle struct {
	ParentPlanID string              `json:"parent_plan_id"`
	Tasks        []models.CodingTask `json:"tasks"`
}

// RegressionSignal is the payload published on regression.out when an FSM
// enters REGRESS.
type RegressionSignal struct {
	RequestID string   `json:"request_id"`
	FromState string   `json:"from_state"`
	Hints     []string `json:"hints"`
}

// Engine holds one *FSM per in-flight ChangeRequest (tarsy's
// WorkerPool.activeSessions shape: a map guarded by a mutex) and drives
// every instance from the pipeline's bus topics.
type Engine struct {
	bus   bus.Bus
	store *Store

	mu  sync.Mutex
	fsm map[string]*FSM
}

// New constructs an Engine and preloads any FSMs persisted from a prior run.
func New(ctx context.Context, b bus.Bus, store *Store) (*Engine, error) {
	e := &Engine{bus: b, store: store, fsm: map[string]*FSM{}}
	snaps, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("preload fsm states: %w", err)
	}
	for _, snap := range snaps {
		e.fsm[snap.RequestID] = FromSnapshot(snap)
	}
	return e, nil
}

func (e *Engine) get(requestID string) *FSM {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.fsm[requestID]
	if !ok {
		f = NewFSM(requestID)
		e.fsm[requestID] = f
	}
	return f
}

// fire applies event to requestID's FSM and persists the resulting
// snapshot. Entering REGRESS additionally publishes a RegressionSignal on
// a dedicated topic.
func (e *Engine) fire(ctx context.Context, requestID string, event Event) error {
	f := e.get(requestID)
	from := f.State
	if err := f.Fire(event); err != nil {
		return err
	}
	if err := e.store.Save(ctx, f.Snapshot()); err != nil {
		return fmt.Errorf("persist fsm transition: %w", err)
	}
	if f.State == models.StateRegress {
		payload, err := json.Marshal(RegressionSignal{RequestID: requestID, FromState: string(from), Hints: f.RegressionHints})
		if err != nil {
			return fmt.Errorf("marshal regression signal: %w", err)
		}
		if err := e.bus.Publish(ctx, TopicRegressionOut, requestID, payload); err != nil {
			return fmt.Errorf("publish regression signal: %w", err)
		}
	}
	return nil
}

// Run subscribes to every topic the orchestrator reacts to and drives FSM
// transitions until ctx is cancelled. Each topic gets its own pull
// iterator goroutine, matching the "one goroutine per consumer loop"
// shape the bus's pull-iterator model is designed for.
func (e *Engine) Run(ctx context.Context) error {
	handlers := map[string]func(context.Context, *bus.Message) error{
		TopicChangeRequestIn:   e.handleChangeRequest,
		TopicPlanOut:           e.handlePlan,
		TopicTaskBundleOut:     e.handleTaskBundle,
		TopicCommitResultOut:   e.handleCommitResult,
		TopicBuildReportOut:    e.handleBuildReport,
		TopicTestSpecOut:       e.handleTestSpec,
		TopicGeneratedTestsOut: e.handleGeneratedTests,
	}

	var wg sync.WaitGroup
	for topic, handler := range handlers {
		it, err := e.bus.Subscribe(ctx, topic, ConsumerGroup)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		wg.Add(1)
		go func(topic string, it bus.Iterator, handler func(context.Context, *bus.Message) error) {
			defer wg.Done()
			defer it.Close()
			e.consumeLoop(ctx, topic, it, handler)
		}(topic, it, handler)
	}
	wg.Wait()
	return nil
}

// consumeLoop implements the pull-iterator model's cancellation contract: it
// returns promptly once ctx is done, and never lets a single poison message
// stop the loop.
func (e *Engine) consumeLoop(ctx context.Context, topic string, it bus.Iterator, handler func(context.Context, *bus.Message) error) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := it.Next(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrNoMoreMessages) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			slog.Warn("orchestrator consume loop fetch error", "topic", topic, "error", err)
			continue
		}
		if err := handler(ctx, msg); err != nil {
			slog.Warn("orchestrator handler error, acking anyway", "topic", topic, "error", err)
		}
		if err := msg.Ack(); err != nil {
			slog.Warn("orchestrator ack failed", "topic", topic, "error", err)
		}
	}
}

func (e *Engine) handleChangeRequest(ctx context.Context, msg *bus.Message) error {
	var cr models.ChangeRequest
	if err := msg.Decode(&cr); err != nil {
		return fmt.Errorf("decode change request: %w", err)
	}
	return e.fire(ctx, cr.ID, EventCRQ)
}

func (e *Engine) handlePlan(ctx context.Context, msg *bus.Message) error {
	var plan models.Plan
	if err := msg.Decode(&plan); err != nil {
		return fmt.Errorf("decode plan: %w", err)
	}
	return e.fire(ctx, plan.ParentRequestID, EventPlan)
}

func (e *Engine) handleTaskBundle(ctx context.Context, msg *bus.Message) error {
	var bundle TaskBundle
	if err := msg.Decode(&bundle); err != nil {
		return fmt.Errorf("decode task bundle: %w", err)
	}
	requestID := msg.Key
	f := e.get(requestID)
	ids := make([]string, 0, len(bundle.Tasks))
	for _, t := range bundle.Tasks {
		ids = append(ids, t.ID)
	}
	e.mu.Lock()
	f.BeginCoding(ids)
	snap := f.Snapshot()
	e.mu.Unlock()
	return e.store.Save(ctx, snap)
}

// handleCommitResult implements the code_ok condition: it only
// fires once every task in the bundle has returned SUCCESS or a terminal
// failure (HARD_FAIL counts as terminal and adds a regression hint;
// SOFT_FAIL is resolved by whatever retried it upstream, so it is treated
// as terminal here too once the coding agent stops retrying it).
func (e *Engine) handleCommitResult(ctx context.Context, msg *bus.Message) error {
	var result models.CommitResult
	if err := msg.Decode(&result); err != nil {
		return fmt.Errorf("decode commit result: %w", err)
	}
	requestID := msg.Key
	f := e.get(requestID)

	e.mu.Lock()
	drained := f.ResolveTask(result.TaskID, result.Status == models.CommitHardFail)
	snap := f.Snapshot()
	e.mu.Unlock()

	if err := e.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("persist task resolution: %w", err)
	}
	if drained {
		return e.fire(ctx, requestID, EventCodeOK)
	}
	return nil
}

func (e *Engine) handleBuildReport(ctx context.Context, msg *bus.Message) error {
	var report models.BuildReport
	if err := msg.Decode(&report); err != nil {
		return fmt.Errorf("decode build report: %w", err)
	}
	requestID := msg.Key
	f := e.get(requestID)
	if report.Status != models.BuildPassed {
		return e.fire(ctx, requestID, EventBuildFail)
	}
	switch f.State {
	case models.StateBuild1:
		return e.fire(ctx, requestID, EventBuildOK)
	case models.StateBuild2:
		return e.fire(ctx, requestID, EventBuild2OK)
	default:
		slog.Warn("build report received outside BUILD1/BUILD2", "request_id", requestID, "state", f.State)
		return nil
	}
}

func (e *Engine) handleTestSpec(ctx context.Context, msg *bus.Message) error {
	var spec models.TestSpec
	if err := msg.Decode(&spec); err != nil {
		return fmt.Errorf("decode test spec: %w", err)
	}
	requestID := msg.Key
	return e.fire(ctx, requestID, EventTSpec)
}

func (e *Engine) handleGeneratedTests(ctx context.Context, msg *bus.Message) error {
	var gt models.GeneratedTests
	if err := msg.Decode(&gt); err != nil {
		return fmt.Errorf("decode generated tests: %w", err)
	}
	requestID := msg.Key
	if gt.CommitSHA == "" {
		return e.fire(ctx, requestID, EventGTFail)
	}
	return e.fire(ctx, requestID, EventGTOK)
}
