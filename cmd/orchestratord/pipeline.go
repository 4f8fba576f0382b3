package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aibozo/codeurv2/pkg/bus"
	"github.com/aibozo/codeurv2/pkg/cirunner"
	"github.com/aibozo/codeurv2/pkg/codeplanner"
	"github.com/aibozo/codeurv2/pkg/codingagent"
	"github.com/aibozo/codeurv2/pkg/models"
	"github.com/aibozo/codeurv2/pkg/orchestrator"
	"github.com/aibozo/codeurv2/pkg/planner"
	"github.com/aibozo/codeurv2/pkg/testbuilder"
	"github.com/aibozo/codeurv2/pkg/testplanner"
)

// pipeline runs one consumer-loop goroutine per stage (request planner, code
// planner, coding agent, CI runner, test planner, test builder), each in its
// own consumer group so they never compete with the orchestrator's own
// subscriptions or each other. Every stage forwards the bus key it received
// unchanged, so every topic stays partitioned by ChangeRequest.id end to
// end, matching orchestrator.Engine's handlers (which key every FSM lookup
// off msg.Key).
//
// Grounded on pkg/orchestrator/engine.go's consumeLoop for the
// fetch/handle/ack-regardless shape; these stages are the ambient workers
// that drive the business-logic packages (planner, codeplanner,
// codingagent, cirunner, testplanner, testbuilder) off the same bus.
type pipeline struct {
	bus bus.Bus

	planner     *planner.Planner
	codePlanner *codeplanner.Planner
	agent       *codingagent.Agent
	runner      *cirunner.Runner
	testPlanner *testplanner.Planner
	testBuilder *testbuilder.Builder

	mu           sync.Mutex
	plans        map[string]models.Plan // requestID -> Plan, for the test-planner stage's prompt context
	testPlanned  map[string]bool        // requestID -> a test spec was already generated for BUILD1's report
}

func newPipeline(
	b bus.Bus,
	p *planner.Planner,
	cp *codeplanner.Planner,
	a *codingagent.Agent,
	r *cirunner.Runner,
	tp *testplanner.Planner,
	tb *testbuilder.Builder,
) *pipeline {
	return &pipeline{
		bus:         b,
		planner:     p,
		codePlanner: cp,
		agent:       a,
		runner:      r,
		testPlanner: tp,
		testBuilder: tb,
		plans:       map[string]models.Plan{},
		testPlanned: map[string]bool{},
	}
}

func (p *pipeline) run(ctx context.Context) error {
	stages := []struct {
		topic   string
		group   string
		handler func(context.Context, *bus.Message) error
	}{
		{orchestrator.TopicChangeRequestIn, "planner", p.handleChangeRequest},
		{orchestrator.TopicPlanOut, "codeplanner", p.handlePlan},
		{orchestrator.TopicTaskBundleOut, "codingagent", p.handleTaskBundle},
		{orchestrator.TopicCommitResultOut, "cirunner-commit", p.handleCommitResult},
		{orchestrator.TopicBuildReportOut, "testplanner", p.handleBuildReport},
		{orchestrator.TopicTestSpecOut, "testbuilder", p.handleTestSpec},
		{orchestrator.TopicGeneratedTestsOut, "cirunner-tests", p.handleGeneratedTests},
	}

	var wg sync.WaitGroup
	for _, stage := range stages {
		it, err := p.bus.Subscribe(ctx, stage.topic, stage.group)
		if err != nil {
			return fmt.Errorf("subscribe %s/%s: %w", stage.topic, stage.group, err)
		}
		wg.Add(1)
		go func(topic string, it bus.Iterator, handler func(context.Context, *bus.Message) error) {
			defer wg.Done()
			defer it.Close()
			consumeLoop(ctx, topic, it, handler)
		}(stage.topic, it, stage.handler)
	}
	wg.Wait()
	return nil
}

func consumeLoop(ctx context.Context, topic string, it bus.Iterator, handler func(context.Context, *bus.Message) error) {
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
			slog.Warn("pipeline consume loop fetch error", "topic", topic, "error", err)
			continue
		}
		if err := handler(ctx, msg); err != nil {
			slog.Warn("pipeline handler error, acking anyway", "topic", topic, "error", err)
		}
		if err := msg.Ack(); err != nil {
			slog.Warn("pipeline ack failed", "topic", topic, "error", err)
		}
	}
}

func (p *pipeline) handleChangeRequest(ctx context.Context, msg *bus.Message) error {
	var cr models.ChangeRequest
	if err := msg.Decode(&cr); err != nil {
		return fmt.Errorf("decode change request: %w", err)
	}
	plan, err := p.planner.Plan(ctx, cr)
	if err != nil {
		return fmt.Errorf("plan change request %s: %w", cr.ID, err)
	}
	return p.publish(ctx, orchestrator.TopicPlanOut, cr.ID, plan)
}

func (p *pipeline) handlePlan(ctx context.Context, msg *bus.Message) error {
	var plan models.Plan
	if err := msg.Decode(&plan); err != nil {
		return fmt.Errorf("decode plan: %w", err)
	}
	requestID := msg.Key

	p.mu.Lock()
	p.plans[requestID] = plan
	p.mu.Unlock()

	tasks, err := p.codePlanner.Expand(ctx, plan)
	if err != nil {
		return fmt.Errorf("expand plan %s: %w", plan.ID, err)
	}
	bundle := orchestrator.TaskBundle{ParentPlanID: plan.ID, Tasks: tasks}
	return p.publish(ctx, orchestrator.TopicTaskBundleOut, requestID, bundle)
}

func (p *pipeline) handleTaskBundle(ctx context.Context, msg *bus.Message) error {
	var bundle orchestrator.TaskBundle
	if err := msg.Decode(&bundle); err != nil {
		return fmt.Errorf("decode task bundle: %w", err)
	}
	requestID := msg.Key
	for _, task := range bundle.Tasks {
		result := p.agent.Process(ctx, task)
		if err := p.publish(ctx, orchestrator.TopicCommitResultOut, requestID, result); err != nil {
			slog.Warn("failed to publish commit result", "task_id", task.ID, "error", err)
		}
	}
	return nil
}

func (p *pipeline) handleCommitResult(ctx context.Context, msg *bus.Message) error {
	var result models.CommitResult
	if err := msg.Decode(&result); err != nil {
		return fmt.Errorf("decode commit result: %w", err)
	}
	if result.Status != models.CommitSuccess {
		return nil // orchestrator's own handleCommitResult drives regression bookkeeping
	}
	report, err := p.runner.Build(ctx, result)
	if err != nil {
		return fmt.Errorf("build commit %s: %w", result.CommitSHA, err)
	}
	return p.publish(ctx, orchestrator.TopicBuildReportOut, msg.Key, report)
}

func (p *pipeline) handleBuildReport(ctx context.Context, msg *bus.Message) error {
	var report models.BuildReport
	if err := msg.Decode(&report); err != nil {
		return fmt.Errorf("decode build report: %w", err)
	}
	if report.Status != models.BuildPassed {
		return nil // orchestrator routes this to REGRESS; no test spec to generate
	}
	requestID := msg.Key

	p.mu.Lock()
	plan, ok := p.plans[requestID]
	alreadyPlanned := p.testPlanned[requestID]
	if ok && !alreadyPlanned {
		p.testPlanned[requestID] = true
	}
	p.mu.Unlock()
	if alreadyPlanned {
		return nil // this is BUILD2's report (post test-build); nothing more to do here
	}
	if !ok {
		return fmt.Errorf("no cached plan for request %s, cannot generate test spec", requestID)
	}

	spec, err := p.testPlanner.Plan(ctx, plan)
	if err != nil {
		return fmt.Errorf("generate test spec for plan %s: %w", plan.ID, err)
	}
	return p.publish(ctx, orchestrator.TopicTestSpecOut, requestID, spec)
}

func (p *pipeline) handleTestSpec(ctx context.Context, msg *bus.Message) error {
	var spec models.TestSpec
	if err := msg.Decode(&spec); err != nil {
		return fmt.Errorf("decode test spec: %w", err)
	}
	gt, err := p.testBuilder.Build(ctx, spec)
	if err != nil {
		slog.Warn("test builder failed, emitting empty result for gt_fail", "test_spec_id", spec.ID, "error", err)
		gt = models.GeneratedTests{ParentTestSpecID: spec.ID}
	}
	return p.publish(ctx, orchestrator.TopicGeneratedTestsOut, msg.Key, gt)
}

func (p *pipeline) handleGeneratedTests(ctx context.Context, msg *bus.Message) error {
	var gt models.GeneratedTests
	if err := msg.Decode(&gt); err != nil {
		return fmt.Errorf("decode generated tests: %w", err)
	}
	if gt.CommitSHA == "" {
		return nil // gt_fail: orchestrator routes to REGRESS, nothing to build
	}
	report, err := p.runner.Build(ctx, models.CommitResult{
		CommitSHA:  gt.CommitSHA,
		BranchName: "tst/" + gt.ParentTestSpecID,
	})
	if err != nil {
		return fmt.Errorf("build generated tests %s: %w", gt.ID, err)
	}
	return p.publish(ctx, orchestrator.TopicBuildReportOut, msg.Key, report)
}

func (p *pipeline) publish(ctx context.Context, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	return p.bus.Publish(ctx, topic, key, data)
}
