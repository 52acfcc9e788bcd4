package turns

import (
	"context"
	"time"

	"github.com/roelfdiedericks/modelgate/internal/backoff"
	"github.com/roelfdiedericks/modelgate/internal/llm"
	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
)

const (
	initialPollDelay  = time.Second
	pollBackoffFactor = 1.5
	maxPollDelay      = 5 * time.Second
)

// poll watches an upstream job until it finishes or the budget runs out.
// An exhausted budget returns waiting without touching status; a later
// CheckOrWait resumes from the persisted provider response id.
func (r *Runner) poll(ctx context.Context, conversationID int64, requestID, providerResponseID string, provider models.Provider, gen llm.DeferredGenerator, budget time.Duration) (*TurnResult, error) {
	deadline := time.Now().Add(budget)
	delay := r.pollInitial

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			L_debug("turns: poll budget exhausted", "request", requestID, "budget", budget)
			return &TurnResult{
				Kind:               KindWaiting,
				ConversationID:     conversationID,
				RequestID:          requestID,
				ProviderResponseID: providerResponseID,
			}, nil
		}

		sleep := delay
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}

		job, err := r.fetchJob(ctx, provider, gen, providerResponseID)
		if err != nil {
			pe := llm.Classify(err)
			if llm.Retryable(pe.Type) {
				L_debug("turns: transient poll failure", "request", requestID, "error_type", pe.Type)
				delay = backoff.NextPollDelay(delay, r.pollFactor, r.pollMax)
				continue
			}
			return nil, pe
		}

		switch {
		case job.Status == llm.JobCompleted:
			return r.persistCompletion(ctx, conversationID, requestID, job.Text, job.Usage, job.Raw)
		case job.Status.Terminal():
			return r.persistJobFailure(ctx, conversationID, requestID, job)
		default:
			// Still running; keep the row warm and back off.
			if err := r.store.SaveInProgress(ctx, requestID, providerResponseID); err != nil {
				return nil, err
			}
			delay = backoff.NextPollDelay(delay, r.pollFactor, r.pollMax)
		}
	}
}

func (r *Runner) fetchJob(ctx context.Context, provider models.Provider, gen llm.DeferredGenerator, providerResponseID string) (*llm.Job, error) {
	if err := r.limits.Acquire(ctx, provider); err != nil {
		return nil, err
	}
	defer r.limits.Release(provider)
	return gen.FetchJob(ctx, providerResponseID)
}
