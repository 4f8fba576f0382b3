// Package testplanner implements the test-planner stage (the TESTPLAN
// state's producer): a thin specialization of the request planner
// (pkg/planner) that retrieves context for a Plan's own changed paths and
// asks the LLM gateway for test scenarios instead of code steps. It runs
// exactly like the request planner but prompts for test scenarios instead
// of code steps, reusing planner's retrieval parameters and json_mode
// shape verbatim and swapping only the prompt and the output type.
package testplanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aibozo/codeurv2/pkg/llmgateway"
	"github.com/aibozo/codeurv2/pkg/models"
)

// Retriever mirrors pkg/planner's Retriever, narrowed to what this stage
// needs from *retrieval.Engine.
type Retriever interface {
	Search(ctx context.Context, query string, k int, alpha float64) ([]models.ScoredChunk, error)
}

// ChatClient mirrors pkg/planner's ChatClient.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llmgateway.Message, opts llmgateway.ChatOptions) (llmgateway.ChatResponse, error)
}

const (
	contextK     = 8
	contextAlpha = 0.3
)

type testSpecLLMResponse struct {
	TargetPaths []string `json:"target_paths"`
	Scenarios   []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"scenarios"`
}

// Planner is the test-planner service object.
type Planner struct {
	retrieval Retriever
	gateway   ChatClient
	model     string
}

// New constructs a Planner wired to the shared retrieval engine and LLM
// gateway instances.
func New(retrievalEngine Retriever, gateway ChatClient, model string) *Planner {
	return &Planner{retrieval: retrievalEngine, gateway: gateway, model: model}
}

// Plan turns a Plan's step goals into a TestSpec: which paths need
// coverage and what scenarios those tests should exercise.
func (p *Planner) Plan(ctx context.Context, plan models.Plan) (models.TestSpec, error) {
	query := planQuery(plan)
	snippets, err := p.retrieval.Search(ctx, query, contextK, contextAlpha)
	if err != nil {
		return models.TestSpec{}, fmt.Errorf("retrieve test-plan context: %w", err)
	}

	resp, err := p.invokeLLM(ctx, plan, snippets)
	if err != nil {
		return models.TestSpec{}, fmt.Errorf("generate test spec: %w", err)
	}

	spec := models.TestSpec{
		ID:           uuid.NewString(),
		ParentPlanID: plan.ID,
		TargetPaths:  resp.TargetPaths,
	}
	for _, s := range resp.Scenarios {
		spec.Scenarios = append(spec.Scenarios, models.TestScenario{Name: s.Name, Description: s.Description})
	}
	return spec, nil
}

func planQuery(plan models.Plan) string {
	var sb strings.Builder
	for _, step := range plan.Steps {
		fmt.Fprintf(&sb, "%s (%s)\n", step.Goal, step.Path)
	}
	return sb.String()
}

func (p *Planner) invokeLLM(ctx context.Context, plan models.Plan, snippets []models.ScoredChunk) (testSpecLLMResponse, error) {
	var contextBlock strings.Builder
	for _, s := range snippets {
		fmt.Fprintf(&contextBlock, "--- %s ---\n%s\n\n", s.Path, s.Content)
	}

	messages := []llmgateway.Message{
		{Role: "system", Content: "You are a test planner. Respond with JSON matching {target_paths:[...], scenarios:[{name,description}]}."},
		{Role: "user", Content: fmt.Sprintf("Plan steps:\n%s\nRelevant context:\n%s", planQuery(plan), contextBlock.String())},
	}

	chatResp, err := p.gateway.Chat(ctx, p.model, messages, llmgateway.ChatOptions{JSONMode: true})
	if err != nil {
		return testSpecLLMResponse{}, err
	}

	var parsed testSpecLLMResponse
	if err := json.Unmarshal([]byte(chatResp.Content), &parsed); err != nil {
		return testSpecLLMResponse{}, fmt.Errorf("parse test spec json_mode response: %w", err)
	}
	return parsed, nil
}
