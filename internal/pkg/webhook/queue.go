package webhook

import (
	"context"

	"github.com/lensbook/backend/internal/pkg/jobqueue"
)

// QueueBinding adapts the redis job queue to the receiver's JobQueue
// interface, fixing the job type and the jobID = eventID dedup rule.
type QueueBinding struct {
	q *jobqueue.Queue
}

func NewQueueBinding(q *jobqueue.Queue) *QueueBinding {
	return &QueueBinding{q: q}
}

func (b *QueueBinding) Available(ctx context.Context) bool {
	return b.q.Available(ctx)
}

func (b *QueueBinding) EnqueueWebhook(ctx context.Context, payload jobqueue.WebhookJobPayload) (bool, error) {
	return b.q.Enqueue(ctx, jobqueue.JobTypeWebhookProcess, payload.EventID, payload.ToMap())
}

// JobHandler returns the queue handler that replays stored webhook jobs
// through the processor.
func (p *Processor) JobHandler() jobqueue.HandlerFunc {
	return func(ctx context.Context, job *jobqueue.Job) (jobqueue.Result, string) {
		payload, err := jobqueue.WebhookJobPayloadFromMap(job.Payload)
		if err != nil {
			return jobqueue.ResultPermanentFailure, "job payload did not decode"
		}
		outcome := p.ProcessRaw(ctx, []byte(payload.RawPayload), payload.Signature)
		switch outcome.Kind {
		case OutcomeSuccess:
			return jobqueue.ResultSuccess, ""
		case OutcomePermanentFailure:
			return jobqueue.ResultPermanentFailure, outcome.Reason
		default:
			return jobqueue.ResultTransientFailure, outcome.Reason
		}
	}
}
