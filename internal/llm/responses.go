package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openaiv3 "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
)

// OpenAIDeferred extends the OpenAI chat generator with background jobs
// through the Responses API: OpenJob submits with background=true and
// returns immediately, FetchJob polls the job by id.
type OpenAIDeferred struct {
	*OpenAIGenerator
	responses openaiv3.Client
}

// NewOpenAIDeferred creates the OpenAI binding with deferred support.
func NewOpenAIDeferred(apiKey, baseURL string) (*OpenAIDeferred, error) {
	chat, err := NewOpenAIGenerator(models.ProviderOpenAI, apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIDeferred{
		OpenAIGenerator: chat,
		responses:       openaiv3.NewClient(opts...),
	}, nil
}

// OpenJob submits a background response and returns its id without
// waiting for completion.
func (g *OpenAIDeferred) OpenJob(ctx context.Context, model, input string, opts Options) (*Job, error) {
	params := responses.ResponseNewParams{
		Model:      shared.ResponsesModel(model),
		Input:      responses.ResponseNewParamsInputUnion{OfString: param.NewOpt(input)},
		Background: param.NewOpt(true),
	}
	if opts.SystemPrompt != "" {
		params.Instructions = param.NewOpt(opts.SystemPrompt)
	}
	if opts.MaxTokens > 0 {
		params.MaxOutputTokens = param.NewOpt(int64(opts.MaxTokens))
	}
	if opts.ReasoningEffort != "" {
		params.Reasoning.Effort = shared.ReasoningEffort(opts.ReasoningEffort)
	}

	resp, err := g.responses.Responses.New(ctx, params)
	if err != nil {
		return nil, Classify(fmt.Errorf("openai: open background response: %w", err))
	}
	L_debug("openai background response opened", "id", resp.ID, "model", model, "status", resp.Status)
	return jobFromResponse(resp), nil
}

// FetchJob retrieves the current state of a background response.
func (g *OpenAIDeferred) FetchJob(ctx context.Context, id string) (*Job, error) {
	resp, err := g.responses.Responses.Get(ctx, id, responses.ResponseGetParams{})
	if err != nil {
		return nil, Classify(fmt.Errorf("openai: fetch response %s: %w", id, err))
	}
	return jobFromResponse(resp), nil
}

func jobFromResponse(resp *responses.Response) *Job {
	job := &Job{ID: resp.ID, Status: jobStatus(resp.Status)}

	switch resp.Status {
	case responses.ResponseStatusCompleted:
		job.Text = resp.OutputText()
		if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
			job.Usage = &Usage{
				InputTokens:  int(resp.Usage.InputTokens),
				OutputTokens: int(resp.Usage.OutputTokens),
			}
		}
		if raw, err := json.Marshal(resp); err == nil {
			job.Raw = raw
		}
	case responses.ResponseStatusFailed, responses.ResponseStatusIncomplete:
		msg := resp.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("response %s ended with status %s", resp.ID, resp.Status)
		}
		job.Err = &JobError{Code: string(resp.Error.Code), Message: msg}
	case responses.ResponseStatusCancelled:
		job.Err = &JobError{Message: fmt.Sprintf("response %s was cancelled upstream", resp.ID)}
	}
	return job
}

func jobStatus(s responses.ResponseStatus) JobStatus {
	switch s {
	case responses.ResponseStatusQueued:
		return JobQueued
	case responses.ResponseStatusInProgress:
		return JobInProgress
	case responses.ResponseStatusCompleted:
		return JobCompleted
	case responses.ResponseStatusCancelled:
		return JobCancelled
	case responses.ResponseStatusFailed, responses.ResponseStatusIncomplete:
		return JobFailed
	default:
		return JobInProgress
	}
}
