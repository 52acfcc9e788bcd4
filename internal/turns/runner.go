// Package turns drives conversation turns against deferred-completion
// providers: persistence, deduplication by input hash, and polling.
package turns

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/modelgate/internal/advice"
	"github.com/roelfdiedericks/modelgate/internal/canonical"
	"github.com/roelfdiedericks/modelgate/internal/limits"
	"github.com/roelfdiedericks/modelgate/internal/llm"
	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
	"github.com/roelfdiedericks/modelgate/internal/store"
)

// DefaultMaxHistory bounds how many trailing messages feed the upstream
// input. Trimming never mutates the store.
const DefaultMaxHistory = 50

// DefaultOverallTimeout is the per-call poll budget when the caller does
// not pass one.
const DefaultOverallTimeout = 30 * time.Second

// Kind is the outcome variant of a turn.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindWaiting   Kind = "waiting"
	KindError     Kind = "error"
)

// TurnResult is the outcome of RunTurn or CheckOrWait.
type TurnResult struct {
	Kind               Kind
	ConversationID     int64
	RequestID          string
	ProviderResponseID string
	Text               string
	Usage              *llm.Usage
	Err                error
}

// Options carries the per-turn knobs.
type Options struct {
	ReasoningEffort string
	Verbosity       string
	Temperature     *float32
	MaxTokens       int
	OverallTimeout  time.Duration
}

// turnParams is the hashed parameter block. Identical prompts with
// different knobs must not collide.
type turnParams struct {
	ReasoningEffort string   `json:"reasoningEffort,omitempty"`
	Verbosity       string   `json:"verbosity,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxTokens       int      `json:"maxTokens,omitempty"`
}

// Runner owns the async turn lifecycle.
type Runner struct {
	store      *store.Store
	registry   *models.Registry
	generators map[models.Provider]llm.Generator
	limits     *limits.Table

	maxHistory int

	// Poll pacing, overridable in tests.
	pollInitial time.Duration
	pollFactor  float64
	pollMax     time.Duration
}

// NewRunner wires the turn runner.
func NewRunner(st *store.Store, registry *models.Registry, generators map[models.Provider]llm.Generator, table *limits.Table) *Runner {
	return &Runner{
		store:       st,
		registry:    registry,
		generators:  generators,
		limits:      table,
		maxHistory:  DefaultMaxHistory,
		pollInitial: initialPollDelay,
		pollFactor:  pollBackoffFactor,
		pollMax:     maxPollDelay,
	}
}

// SetPollPacing overrides the poll delays. Zero values keep the current
// setting.
func (r *Runner) SetPollPacing(initial, max time.Duration) {
	if initial > 0 {
		r.pollInitial = initial
	}
	if max > 0 {
		r.pollMax = max
	}
}

// RunTurn appends userText to the conversation (creating it if needed),
// deduplicates the resulting request, and drives it toward completion
// within the poll budget.
func (r *Runner) RunTurn(ctx context.Context, conversationID *int64, modelID, userText string, opts Options) (*TurnResult, error) {
	if userText == "" {
		return nil, fmt.Errorf("turns: user text cannot be empty")
	}
	desc, err := r.registry.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	gen, ok := r.generators[desc.Provider]
	if !ok {
		return nil, fmt.Errorf("turns: no client for provider %s", desc.Provider)
	}

	conv, err := r.resolveConversation(ctx, conversationID, userText)
	if err != nil {
		return nil, err
	}

	userMsg, err := r.store.AppendMessage(ctx, conv.ID, "user", userText, nil)
	if err != nil {
		return nil, err
	}

	input, err := r.buildInput(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	params := turnParams{
		ReasoningEffort: opts.ReasoningEffort,
		Verbosity:       opts.Verbosity,
		Temperature:     opts.Temperature,
		MaxTokens:       opts.MaxTokens,
	}
	// The hash covers the user's turn, not the assembled history: a
	// repeated identical turn must land on the same request row even
	// after the first one's assistant reply grew the history.
	inputHash, err := canonical.InputHash(modelID, userText, params)
	if err != nil {
		return nil, fmt.Errorf("turns: hash input: %w", err)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("turns: marshal params: %w", err)
	}
	pj := string(paramsJSON)

	req, created, err := r.store.UpsertRequest(ctx, conv.ID, userMsg.ID, modelID, &pj, inputHash)
	if err != nil {
		return nil, err
	}

	// Cache hit: an identical turn already ran to completion.
	if req.Status == store.StatusCompleted {
		L_debug("turns: dedup cache hit", "request", req.ID, "conversation", conv.ID)
		return completedResult(conv.ID, req), nil
	}

	// Someone else owns the poll; observe without taking over.
	if !created && !req.Status.Terminal() && req.ProviderResponseID != nil {
		return &TurnResult{
			Kind:               KindWaiting,
			ConversationID:     conv.ID,
			RequestID:          req.ID,
			ProviderResponseID: *req.ProviderResponseID,
		}, nil
	}

	if req.Status.Terminal() {
		return errorResult(conv.ID, req), nil
	}

	return r.drive(ctx, conv.ID, desc, gen, req, input, opts)
}

// drive owns the request: opens the upstream job and polls it.
func (r *Runner) drive(ctx context.Context, conversationID int64, desc models.Descriptor, gen llm.Generator, req *store.Request, input string, opts Options) (*TurnResult, error) {
	if err := r.store.MarkStarted(ctx, req.ID); err != nil {
		return nil, err
	}

	callOpts := llm.Options{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if desc.Reasoning {
		callOpts.ReasoningEffort = opts.ReasoningEffort
		if callOpts.ReasoningEffort == "" {
			callOpts.ReasoningEffort = desc.Defaults.ReasoningEffort
		}
		callOpts.Verbosity = opts.Verbosity
	}

	deferred, ok := gen.(llm.DeferredGenerator)
	if !ok {
		// Provider has no deferred endpoint: degrade to one synchronous
		// call wrapped in the same persistence.
		return r.runSync(ctx, conversationID, desc, gen, req, input, callOpts)
	}

	if err := r.limits.Acquire(ctx, desc.Provider); err != nil {
		return nil, err
	}
	job, err := deferred.OpenJob(ctx, desc.Name, input, callOpts)
	r.limits.Release(desc.Provider)
	if err != nil {
		return r.persistFailure(ctx, conversationID, req.ID, store.StatusFailed, err)
	}

	switch {
	case job.Status == llm.JobCompleted:
		return r.persistCompletion(ctx, conversationID, req.ID, job.Text, job.Usage, job.Raw)
	case job.Status.Terminal():
		return r.persistJobFailure(ctx, conversationID, req.ID, job)
	}

	if err := r.store.SaveInProgress(ctx, req.ID, job.ID); err != nil {
		return nil, err
	}

	budget := opts.OverallTimeout
	if budget <= 0 {
		budget = DefaultOverallTimeout
	}
	return r.poll(ctx, conversationID, req.ID, job.ID, desc.Provider, deferred, budget)
}

// runSync serves the turn with a blocking generation call.
func (r *Runner) runSync(ctx context.Context, conversationID int64, desc models.Descriptor, gen llm.Generator, req *store.Request, input string, callOpts llm.Options) (*TurnResult, error) {
	tl := advice.TimeoutsFor(desc.Name)

	if err := r.limits.Acquire(ctx, desc.Provider); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, tl.Overall)
	result, err := gen.GenerateText(cctx, desc.Name, input, callOpts)
	cancel()
	r.limits.Release(desc.Provider)

	if err != nil {
		return r.persistFailure(ctx, conversationID, req.ID, store.StatusFailed, err)
	}
	return r.persistCompletion(ctx, conversationID, req.ID, result.Text, result.Usage, result.Raw)
}

// CheckOrWait resumes observation of an existing request, polling for up
// to wait when the upstream job is still running.
func (r *Runner) CheckOrWait(ctx context.Context, requestID string, wait time.Duration) (*TurnResult, error) {
	req, err := r.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if req.Status == store.StatusCompleted {
		return completedResult(req.ConversationID, req), nil
	}
	if req.Status.Terminal() {
		return errorResult(req.ConversationID, req), nil
	}
	if req.ProviderResponseID == nil {
		// Never reached the provider; nothing to poll yet.
		return &TurnResult{Kind: KindWaiting, ConversationID: req.ConversationID, RequestID: req.ID}, nil
	}

	desc, err := r.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	deferred, ok := r.generators[desc.Provider].(llm.DeferredGenerator)
	if !ok {
		return nil, fmt.Errorf("turns: request %s has no pollable provider", requestID)
	}

	if wait <= 0 {
		wait = DefaultOverallTimeout
	}
	return r.poll(ctx, req.ConversationID, req.ID, *req.ProviderResponseID, desc.Provider, deferred, wait)
}

func (r *Runner) resolveConversation(ctx context.Context, id *int64, userText string) (*store.Conversation, error) {
	if id != nil {
		conv, err := r.store.GetConversation(ctx, *id)
		if err == nil {
			return conv, nil
		}
		if err != store.ErrNotFound {
			return nil, err
		}
		L_debug("turns: conversation not found, creating new", "requested", *id)
	}
	return r.store.CreateConversation(ctx, titleFrom(userText), nil)
}

// titleFrom derives a short conversation title from the first user turn.
func titleFrom(userText string) string {
	title := strings.TrimSpace(userText)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > 80 {
		title = title[:80]
	}
	return title
}

// buildInput flattens the trailing history window into the upstream
// input. System context before the window is not re-injected.
func (r *Runner) buildInput(ctx context.Context, conversationID int64) (string, error) {
	history, err := r.store.History(ctx, conversationID, r.maxHistory)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, m := range history {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSuffix(b.String(), "\n\n"), nil
}

func (r *Runner) persistCompletion(ctx context.Context, conversationID int64, requestID, text string, usage *llm.Usage, raw json.RawMessage) (*TurnResult, error) {
	var usageJSON, rawJSON *string
	if usage != nil {
		if data, err := json.Marshal(usage); err == nil {
			v := string(data)
			usageJSON = &v
		}
	}
	if len(raw) > 0 {
		v := string(raw)
		rawJSON = &v
	}

	if err := r.store.SaveCompletion(ctx, requestID, text, usageJSON, rawJSON); err != nil {
		return nil, err
	}
	if _, err := r.store.AppendMessage(ctx, conversationID, "assistant", text, &requestID); err != nil {
		return nil, err
	}
	L_info("turns: request completed", "request", requestID, "conversation", conversationID)
	return &TurnResult{
		Kind:           KindCompleted,
		ConversationID: conversationID,
		RequestID:      requestID,
		Text:           text,
		Usage:          usage,
	}, nil
}

func (r *Runner) persistFailure(ctx context.Context, conversationID int64, requestID string, status store.Status, cause error) (*TurnResult, error) {
	pe := llm.Classify(cause)
	payload, _ := json.Marshal(map[string]string{
		"type":    string(pe.Type),
		"message": cause.Error(),
	})
	if err := r.store.SaveFailure(ctx, requestID, status, string(payload)); err != nil {
		return nil, err
	}
	L_warn("turns: request failed", "request", requestID, "status", status, "error", cause)
	return &TurnResult{
		Kind:           KindError,
		ConversationID: conversationID,
		RequestID:      requestID,
		Err:            pe,
	}, nil
}

func (r *Runner) persistJobFailure(ctx context.Context, conversationID int64, requestID string, job *llm.Job) (*TurnResult, error) {
	status := store.StatusFailed
	switch job.Status {
	case llm.JobCancelled:
		status = store.StatusCancelled
	case llm.JobExpired:
		status = store.StatusExpired
	}
	cause := error(job.Err)
	if job.Err == nil {
		cause = fmt.Errorf("upstream job %s ended with status %s", job.ID, job.Status)
	}
	return r.persistFailure(ctx, conversationID, requestID, status, cause)
}

func completedResult(conversationID int64, req *store.Request) *TurnResult {
	result := &TurnResult{
		Kind:           KindCompleted,
		ConversationID: conversationID,
		RequestID:      req.ID,
	}
	if req.OutputText != nil {
		result.Text = *req.OutputText
	}
	if req.UsageJSON != nil {
		var usage llm.Usage
		if err := json.Unmarshal([]byte(*req.UsageJSON), &usage); err == nil {
			result.Usage = &usage
		}
	}
	return result
}

func errorResult(conversationID int64, req *store.Request) *TurnResult {
	msg := fmt.Sprintf("request %s ended with status %s", req.ID, req.Status)
	if req.ErrorJSON != nil {
		var detail struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(*req.ErrorJSON), &detail); err == nil && detail.Message != "" {
			msg = detail.Message
		}
	}
	return &TurnResult{
		Kind:           KindError,
		ConversationID: conversationID,
		RequestID:      req.ID,
		Err:            fmt.Errorf("%s", msg),
	}
}
