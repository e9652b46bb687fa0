package followup

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher submits follow-up tasks. A nil *Publisher drops everything.
type Publisher struct {
	client Enqueuer
	queue  string
	logger *slog.Logger
}

// NewPublisher constructs Publisher.
func NewPublisher(client Enqueuer, queue string, logger *slog.Logger) *Publisher {
	if queue == "" {
		queue = QueueDefault
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, queue: queue, logger: logger}
}

// TheftReported enqueues a theft report.
func (p *Publisher) TheftReported(ctx context.Context, payload TheftPayload) error {
	if p == nil {
		return nil
	}
	task, err := NewTheftReportedTask(payload, p.queue)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, task)
}

// DiscrepancyDetected enqueues a discrepancy report.
func (p *Publisher) DiscrepancyDetected(ctx context.Context, payload DiscrepancyPayload) error {
	if p == nil || len(payload.Lines) == 0 {
		return nil
	}
	task, err := NewDiscrepancyDetectedTask(payload, p.queue)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, task)
}

func (p *Publisher) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}
	p.logger.Info("follow-up enqueued", slog.String("type", task.Type()), slog.String("id", info.ID), slog.String("queue", info.Queue))
	return nil
}
