// Package testbuilder implements the test-builder stage (the TESTBUILD
// state's producer): a thin specialization of the coding agent
// (pkg/codingagent) that targets test files instead of production code
// and skips the self-check battery's lint step, since generated tests are
// allowed to exercise not-yet-passing code paths.
//
// Grounded on the same original_source/apps/agents/coding_agent/agent.py
// process_task shape pkg/codingagent follows; this package re-expresses the
// retry/apply/commit loop rather than importing codingagent's unexported
// helpers, since the two stages diverge on which self-checks run and on
// their output type (GeneratedTests, not CommitResult).
package testbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/aibozo/codeurv2/pkg/gitadapter"
	"github.com/aibozo/codeurv2/pkg/llmgateway"
	"github.com/aibozo/codeurv2/pkg/models"
)

const contextCharCap = 3000

// Checkout mirrors pkg/codingagent's Checkout interface.
type Checkout interface {
	Checkout(ctx context.Context, repoURL, ref string) (gitadapter.CheckoutResult, error)
}

// SnippetFetcher mirrors pkg/codingagent's SnippetFetcher interface.
type SnippetFetcher interface {
	Snippet(ctx context.Context, pointID uint64, radius int) (string, error)
}

// ChatClient mirrors pkg/codingagent's ChatClient interface.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llmgateway.Message, opts llmgateway.ChatOptions) (llmgateway.ChatResponse, error)
}

// Builder is the test-builder service object.
type Builder struct {
	git        Checkout
	snippets   SnippetFetcher
	gateway    ChatClient
	model      string
	remoteRepo string
	maxRetries int
}

// Config bundles the Builder's construction-time knobs.
type Config struct {
	Model      string
	RemoteRepo string
	MaxRetries int
}

// New constructs a Builder wired to the shared git adapter, retrieval
// engine, and LLM gateway instances.
func New(git Checkout, snippets SnippetFetcher, gateway ChatClient, cfg Config) *Builder {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	return &Builder{git: git, snippets: snippets, gateway: gateway, model: cfg.Model, remoteRepo: cfg.RemoteRepo, maxRetries: maxRetries}
}

type testPatchResponse struct {
	Diff      string   `json:"diff"`
	Files     []string `json:"files"`
	Reasoning string   `json:"reasoning"`
}

// Build runs one TestSpec through the clone/retry/outcome pipeline, skipping
// the lint self-check, and returns the GeneratedTests record once a diff
// applies, passes the reduced battery, and commits cleanly. A failure after
// exhausting retries is reported as a zero-value GeneratedTests and a
// non-nil error; unlike the coding agent's tagged CommitResult, the
// orchestrator treats any Build error here as a TESTGEN_FAIL (§4.E's
// gt_fail transition).
func (b *Builder) Build(ctx context.Context, spec models.TestSpec) (models.GeneratedTests, error) {
	checkout, err := b.git.Checkout(ctx, b.remoteRepo, "main")
	if err != nil {
		return models.GeneratedTests{}, fmt.Errorf("checkout test-spec repo: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(checkout.WorkDir); rmErr != nil {
			slog.Warn("test builder failed to remove scoped workdir", "workdir", checkout.WorkDir, "error", rmErr)
		}
	}()

	contextText := b.hydrateContext(ctx, spec)

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		patch, perr := b.requestPatch(ctx, spec, contextText)
		if perr != nil {
			lastErr = perr
			continue
		}
		if patch.Diff == "" {
			lastErr = fmt.Errorf("empty test diff generated")
			continue
		}

		applyRes := applyPatch(ctx, checkout.WorkDir, patch.Diff)
		if applyRes.Outcome != ApplyApplied {
			lastErr = fmt.Errorf("test diff did not apply: %s %s", applyRes.Outcome, applyRes.Detail)
			contextText = appendFailureNote(contextText, lastErr.Error())
			continue
		}

		// Format check only: no lint step, per the supplement's "skips the
		// self-check battery's lint step" rule.
		if note, ok := runFormatCheck(ctx, checkout.WorkDir); !ok {
			lastErr = fmt.Errorf("test format check failed: %s", note)
			contextText = appendFailureNote(contextText, lastErr.Error())
			continue
		}

		commitSHA, commitErr := commitTestFiles(ctx, checkout.WorkDir, spec)
		if commitErr != nil {
			lastErr = commitErr
			contextText = appendFailureNote(contextText, lastErr.Error())
			continue
		}

		return models.GeneratedTests{
			ID:               uuid.NewString(),
			ParentTestSpecID: spec.ID,
			CommitSHA:        commitSHA,
			Files:            patch.Files,
		}, nil
	}

	return models.GeneratedTests{}, fmt.Errorf("test builder exhausted retries for spec %s: %w", spec.ID, lastErr)
}

func (b *Builder) hydrateContext(ctx context.Context, spec models.TestSpec) string {
	var sb strings.Builder
	for _, path := range spec.TargetPaths {
		snippet, err := b.snippets.Snippet(ctx, hashPath(path), 0)
		if err != nil {
			slog.Warn("test builder failed to fetch context snippet", "path", path, "error", err)
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

// hashPath derives a stable synthetic point_id for a target path so the
// snippet fetcher can be keyed consistently without the test builder owning
// a path->point_id index of its own (that mapping belongs to the retrieval
// engine's ingest side).
func hashPath(path string) uint64 {
	var h uint64 = 1469598103934665603 // FNV offset basis
	for i := 0; i < len(path); i++ {
		h ^= uint64(path[i])
		h *= 1099511628211 // FNV prime
	}
	return h
}

func (b *Builder) requestPatch(ctx context.Context, spec models.TestSpec, contextText string) (testPatchResponse, error) {
	var scenarios strings.Builder
	for _, sc := range spec.Scenarios {
		fmt.Fprintf(&scenarios, "- %s: %s\n", sc.Name, sc.Description)
	}

	system := "You are a test-writing agent. Generate a unified diff patch that adds or updates test files covering the given scenarios. Respond with JSON {diff, files, reasoning}."
	user := fmt.Sprintf("TARGET PATHS:\n%s\n\nSCENARIOS:\n%s\nCONTEXT (read-only reference):\n%s\n\nGenerate a minimal test patch covering the scenarios.",
		strings.Join(spec.TargetPaths, "\n"), scenarios.String(), contextText)

	resp, err := b.gateway.Chat(ctx, b.model, []llmgateway.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, llmgateway.ChatOptions{JSONMode: true})
	if err != nil {
		return testPatchResponse{}, fmt.Errorf("request test patch: %w", err)
	}

	var parsed testPatchResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return testPatchResponse{}, fmt.Errorf("parse test patch json_mode response: %w", err)
	}
	return parsed, nil
}

func appendFailureNote(contextText, note string) string {
	return contextText + "\n\n# TEST BUILD FAILURE\n" + note
}
