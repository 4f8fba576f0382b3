// Package planner implements the request planner (component F): it turns a
// ChangeRequest into a Plan by retrieving context, asking the LLM gateway
// for a structured step list in json_mode, numbering the steps densely,
// and speculatively reserving any identifier-shaped tokens the description
// names.
//
// Grounded on tarsy's pkg/agent/prompt/builder.go for the "retrieve context,
// then build a prompt around it" shape, and on
// original_source/apps/planner_service/plan.py for the exact steps: k=8/
// alpha=0.3 retrieval, the identifier regex, and the "log and continue" on
// reservation conflict.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/aibozo/codeurv2/pkg/llmgateway"
	"github.com/aibozo/codeurv2/pkg/models"
)

// Retriever is the subset of *retrieval.Engine the planner needs; narrowed
// to an interface so tests can substitute a fake context store.
type Retriever interface {
	Search(ctx context.Context, query string, k int, alpha float64) ([]models.ScoredChunk, error)
}

// ChatClient is the subset of *llmgateway.Gateway the planner needs.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llmgateway.Message, opts llmgateway.ChatOptions) (llmgateway.ChatResponse, error)
}

// SymbolReserver is the subset of *registry.Registry the planner needs.
type SymbolReserver interface {
	Reserve(ctx context.Context, planID string, sym models.SymbolRecord) (models.SymbolRecord, error)
}

// identifierPattern matches an identifier immediately followed by "(",
// treated as a function-like symbol candidate anywhere it occurs in a
// change request's description.
var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z_0-9]*\(`)

const (
	contextK     = 8
	contextAlpha = 0.3
	reserveTTLSec = 600
)

// planLLMResponse is the shape the LLM gateway is asked to emit in
// json_mode.
type planLLMResponse struct {
	Steps []struct {
		Goal string          `json:"goal"`
		Kind models.StepKind `json:"kind"`
		Path string          `json:"path"`
	} `json:"steps"`
	Rationale []string `json:"rationale"`
}

// Planner turns a ChangeRequest into a Plan.
type Planner struct {
	retrieval Retriever
	gateway   ChatClient
	registry  SymbolReserver
	model     string
}

// New constructs a Planner wired to the shared retrieval engine, LLM
// gateway, and symbol registry instances.
func New(retrievalEngine Retriever, gateway ChatClient, reg SymbolReserver, model string) *Planner {
	return &Planner{retrieval: retrievalEngine, gateway: gateway, registry: reg, model: model}
}

// Plan retrieves context, asks the LLM gateway for steps, and assembles
// the Plan ready for publication. It does not publish; callers
// (cmd/orchestratord's consumer loop) own bus I/O so Plan stays
// independently testable.
func (p *Planner) Plan(ctx context.Context, cr models.ChangeRequest) (models.Plan, error) {
	snippets, err := p.retrieval.Search(ctx, cr.Description, contextK, contextAlpha)
	if err != nil {
		return models.Plan{}, fmt.Errorf("retrieve plan context: %w", err)
	}

	resp, err := p.invokeLLM(ctx, cr, snippets)
	if err != nil {
		return models.Plan{}, fmt.Errorf("generate plan: %w", err)
	}

	plan := models.Plan{
		ID:              uuid.NewString(),
		ParentRequestID: cr.ID,
		Rationale:       resp.Rationale,
	}
	for i, s := range resp.Steps {
		plan.Steps = append(plan.Steps, models.Step{
			Order: i + 1, // dense numbering from 1
			Goal:  s.Goal,
			Kind:  s.Kind,
			Path:  s.Path,
		})
	}

	p.reserveIdentifiers(ctx, cr, plan.ID)

	return plan, nil
}

func (p *Planner) invokeLLM(ctx context.Context, cr models.ChangeRequest, snippets []models.ScoredChunk) (planLLMResponse, error) {
	var contextBlock strings.Builder
	for _, s := range snippets {
		fmt.Fprintf(&contextBlock, "--- %s ---\n%s\n\n", s.Path, s.Content)
	}

	messages := []llmgateway.Message{
		{Role: "system", Content: "You are a software change planner. Respond with JSON matching {steps:[{goal,kind,path}], rationale:[...]}."},
		{Role: "user", Content: fmt.Sprintf("Change request: %s\n\nRelevant context:\n%s", cr.Description, contextBlock.String())},
	}

	chatResp, err := p.gateway.Chat(ctx, p.model, messages, llmgateway.ChatOptions{JSONMode: true})
	if err != nil {
		return planLLMResponse{}, err
	}

	var parsed planLLMResponse
	if err := json.Unmarshal([]byte(chatResp.Content), &parsed); err != nil {
		return planLLMResponse{}, fmt.Errorf("parse plan json_mode response: %w", err)
	}
	return parsed, nil
}

// reserveIdentifiers extracts candidate function-like identifiers from the
// change request's description and speculatively reserves each one.
// Conflicts are logged and otherwise ignored: the plan still emits and
// downstream resolves the collision. Idempotence
// for re-processed ChangeRequest.ids comes for free from the registry's
// uniqueness constraint rejecting the duplicate reservation harmlessly.
func (p *Planner) reserveIdentifiers(ctx context.Context, cr models.ChangeRequest, planID string) {
	for _, match := range identifierPattern.FindAllString(cr.Description, -1) {
		name := strings.TrimSuffix(match, "(")
		sym := models.SymbolRecord{
			Repo:   cr.Repo,
			Branch: cr.Branch,
			FQName: name,
			Kind:   "function",
		}
		if _, err := p.registry.Reserve(ctx, planID, sym); err != nil {
			slog.Info("symbol reservation conflict during planning, continuing", "symbol", name, "error", err)
		}
	}
}
