// Package llm provides the upstream provider clients behind a small
// generation interface, plus the error classifier that feeds the wire
// taxonomy.
package llm

import (
	"context"
	"encoding/json"

	"github.com/roelfdiedericks/modelgate/internal/models"
)

// Options carries per-call generation hints. Zero values mean "provider
// default".
type Options struct {
	SystemPrompt    string
	ReasoningEffort string // minimal, low, medium, high (reasoning models only)
	Verbosity       string // low, medium, high (gpt-5 family only)
	Temperature     *float32
	MaxTokens       int
}

// Usage reports upstream token accounting when the provider returns it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is a completed generation.
type Result struct {
	Text  string
	Raw   json.RawMessage // provider response body, when cheaply available
	Usage *Usage
}

// Generator is the unified interface over provider clients. Structured
// calls constrain the output to a JSON schema; providers without native
// schema support emulate it and report a format error when the model
// strays.
type Generator interface {
	Provider() models.Provider
	GenerateText(ctx context.Context, model, prompt string, opts Options) (*Result, error)
	GenerateStructured(ctx context.Context, model, prompt string, schema json.RawMessage, opts Options) (*Result, error)
}

// JobStatus mirrors the request state machine for deferred upstream jobs.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
	JobExpired    JobStatus = "expired"
)

// Terminal reports whether the status will never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobExpired:
		return true
	}
	return false
}

// Job is one deferred upstream completion.
type Job struct {
	ID     string // provider response id
	Status JobStatus
	Text   string
	Raw    json.RawMessage
	Usage  *Usage
	Err    *JobError
}

// JobError is the upstream failure detail for a terminal non-completed job.
type JobError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// DeferredGenerator is implemented by providers with a deferred-completion
// endpoint: OpenJob returns immediately with a job id, FetchJob polls it.
type DeferredGenerator interface {
	Generator
	OpenJob(ctx context.Context, model, input string, opts Options) (*Job, error)
	FetchJob(ctx context.Context, id string) (*Job, error)
}
