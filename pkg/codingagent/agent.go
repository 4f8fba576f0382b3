// Package codingagent implements the coding agent: given a
// CodingTask, it materialises a scoped working tree, asks the LLM gateway
// for a unified diff, applies and self-checks it in a bounded retry loop,
// then commits, pushes, and claims any symbol leases the task reserved.
//
// Grounded on original_source/apps/agents/coding_agent/agent.py's
// process_task: the clone/blob-context/retry-loop/outcome shape below
// mirrors it function-for-function, re-expressed with tagged ApplyResult
// and CommitResult variants instead of Python's exception-driven control
// flow. tarsy's pkg/queue/worker.go contributes the
// "claim, process, emit terminal status" scaffolding around that core loop.
package codingagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aibozo/codeurv2/pkg/gitadapter"
	"github.com/aibozo/codeurv2/pkg/llmgateway"
	"github.com/aibozo/codeurv2/pkg/models"
)

// contextCharCap is the hard cap on concatenated read-only context handed
// to the LLM.
const contextCharCap = 3000

// Checkout is the subset of *gitadapter.Adapter the coding agent needs.
type Checkout interface {
	Checkout(ctx context.Context, repoURL, ref string) (gitadapter.CheckoutResult, error)
}

// SnippetFetcher is the subset of *retrieval.Engine the coding agent needs
// to hydrate a task's blob_ids into read-only context text.
type SnippetFetcher interface {
	Snippet(ctx context.Context, pointID uint64, radius int) (string, error)
}

// ChatClient is the subset of *llmgateway.Gateway the coding agent needs.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llmgateway.Message, opts llmgateway.ChatOptions) (llmgateway.ChatResponse, error)
}

// LeaseClaimer is the subset of *registry.Registry the coding agent needs.
type LeaseClaimer interface {
	Claim(ctx context.Context, leaseID, commitSHA string) (models.SymbolRecord, error)
}

// Agent is the component H service object.
type Agent struct {
	git        Checkout
	snippets   SnippetFetcher
	gateway    ChatClient
	registry   LeaseClaimer
	model      string
	remoteRepo string
	maxRetries int // MAX_RETRIES; total attempts = maxRetries+1
}

// Config bundles the Agent's construction-time knobs.
type Config struct {
	Model      string
	RemoteRepo string
	MaxRetries int
}

// New constructs an Agent wired to the shared git adapter, retrieval
// engine, LLM gateway, and symbol registry instances.
func New(git Checkout, snippets SnippetFetcher, gateway ChatClient, registry LeaseClaimer, cfg Config) *Agent {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	return &Agent{
		git:        git,
		snippets:   snippets,
		gateway:    gateway,
		registry:   registry,
		model:      cfg.Model,
		remoteRepo: cfg.RemoteRepo,
		maxRetries: maxRetries,
	}
}

// patchResponse is the LLM's json_mode reply.
type patchResponse struct {
	Diff      string `json:"diff"`
	Reasoning string `json:"reasoning"`
}

// Process runs one CodingTask through the full clone/retry/outcome
// pipeline and returns the CommitResult to publish. It has no error
// return: every failure mode is a CommitResult variant, a tagged result
// rather than an exception. Failures outside the retry loop (a checkout
// error or a panic) become HARD_FAIL with the error text in Notes; a
// working directory that cannot be removed is only logged.
func (a *Agent) Process(ctx context.Context, task models.CodingTask) models.CommitResult {
	result, err := a.process(ctx, task)
	if err != nil {
		return models.CommitResult{TaskID: task.ID, Status: models.CommitHardFail, Notes: []string{err.Error()}}
	}
	return result
}

func (a *Agent) process(ctx context.Context, task models.CodingTask) (result models.CommitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = models.CommitResult{TaskID: task.ID, Status: models.CommitHardFail, Notes: []string{fmt.Sprintf("panic: %v", r)}}
			err = nil
		}
	}()

	branch := "main"
	if task.Path != "" {
		if parts := strings.SplitN(task.Path, "/", 2); len(parts) == 2 {
			branch = parts[0]
		}
	}

	checkout, err := a.git.Checkout(ctx, a.remoteRepo, branch)
	if err != nil {
		return models.CommitResult{}, fmt.Errorf("checkout task repo: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(checkout.WorkDir); rmErr != nil {
			slog.Warn("coding agent failed to remove scoped workdir", "workdir", checkout.WorkDir, "error", rmErr)
		}
	}()

	contextText := a.hydrateContext(ctx, task.BlobIDs)

	var lastNotes []string
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		patch, perr := a.requestPatch(ctx, task, contextText)
		if perr != nil {
			lastNotes = []string{perr.Error()}
			continue
		}
		if patch.Diff == "" {
			lastNotes = []string{"empty diff generated"}
			continue
		}

		applyRes := applyPatch(ctx, checkout.WorkDir, patch.Diff)
		if applyRes.Outcome != ApplyApplied {
			lastNotes = []string{"invalid", string(applyRes.Outcome), applyRes.Detail}
			contextText = appendSelfCheckNotes(contextText, lastNotes)
			continue
		}

		checks := runSelfCheckBattery(ctx, checkout.WorkDir)
		if !checks.Passed {
			lastNotes = checks.Notes
			contextText = appendSelfCheckNotes(contextText, lastNotes)
			continue
		}

		commitSHA, commitErr := commitAndPush(ctx, checkout.WorkDir, task)
		if commitErr != nil {
			lastNotes = []string{fmt.Sprintf("push failed: %v", commitErr)}
			contextText = appendSelfCheckNotes(contextText, lastNotes)
			continue
		}

		a.claimLeases(ctx, task.ReservedLeaseIDs, commitSHA)
		return models.CommitResult{
			TaskID:     task.ID,
			CommitSHA:  commitSHA,
			Status:     models.CommitSuccess,
			BranchName: fmt.Sprintf("agt/%s", task.ID),
		}, nil
	}

	return models.CommitResult{TaskID: task.ID, Status: models.CommitSoftFail, Notes: lastNotes}, nil
}

func (a *Agent) hydrateContext(ctx context.Context, blobIDs []int64) string {
	var sb strings.Builder
	for _, id := range blobIDs {
		snippet, err := a.snippets.Snippet(ctx, uint64(id), 0)
		if err != nil {
			slog.Warn("coding agent failed to fetch context snippet", "blob_id", id, "error", err)
			continue
		}
		sb.WriteString(snippet)
		sb.WriteString("\n\n")
	}
	text := sb.String()
	if len(text) > contextCharCap {
		text = text[:contextCharCap]
	}
	return text
}

func (a *Agent) requestPatch(ctx context.Context, task models.CodingTask, contextText string) (patchResponse, error) {
	system := "You are a coding agent. Generate a unified diff patch to accomplish the task. Respond with JSON {diff, reasoning}."
	user := fmt.Sprintf("TASK GOAL:\n%s\n\nFILE PATH:\n%s\n\nTASK KIND:\n%s\n\nCONTEXT (read-only reference):\n%s\n\nGenerate a minimal, focused patch that accomplishes the goal.",
		task.Goal, task.Path, task.Kind, contextText)

	resp, err := a.gateway.Chat(ctx, a.model, []llmgateway.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, llmgateway.ChatOptions{JSONMode: true})
	if err != nil {
		return patchResponse{}, fmt.Errorf("request patch: %w", err)
	}

	var parsed patchResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return patchResponse{}, fmt.Errorf("parse patch json_mode response: %w", err)
	}
	return parsed, nil
}

// claimLeases attempts to claim every lease the task reserved, swallowing
// individual errors: one bad lease must never block the others or fail
// the overall SUCCESS outcome.
func (a *Agent) claimLeases(ctx context.Context, leaseIDs []string, commitSHA string) {
	for _, leaseID := range leaseIDs {
		if _, err := a.registry.Claim(ctx, leaseID, commitSHA); err != nil {
			slog.Warn("coding agent lease claim failed, continuing", "lease_id", leaseID, "error", err)
		}
	}
}

func appendSelfCheckNotes(contextText string, notes []string) string {
	if len(notes) == 0 {
		return contextText
	}
	return contextText + "\n\n# SELF-CHECK FAILURES\n" + strings.Join(notes, "\n")
}
