package followup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Queue: QueueDefault, Type: task.Type()}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTheftReportedEnqueuesPayload(t *testing.T) {
	rec := &recordingEnqueuer{}
	pub := NewPublisher(rec, "", quietLogger())

	payload := TheftPayload{
		ResolutionID:  uuid.New(),
		StockRecordID: uuid.New(),
		Quantity:      "3",
		ReportedBy:    "auditor",
		ReportedAt:    time.Now().UTC(),
	}
	require.NoError(t, pub.TheftReported(context.Background(), payload))
	require.Len(t, rec.tasks, 1)
	require.Equal(t, TaskTheftReported, rec.tasks[0].Type())

	var got TheftPayload
	require.NoError(t, json.Unmarshal(rec.tasks[0].Payload(), &got))
	require.Equal(t, payload.ResolutionID, got.ResolutionID)
	require.Equal(t, "3", got.Quantity)
}

func TestDiscrepancyWithoutLinesIsSkipped(t *testing.T) {
	rec := &recordingEnqueuer{}
	pub := NewPublisher(rec, "alerts", quietLogger())
	require.NoError(t, pub.DiscrepancyDetected(context.Background(), DiscrepancyPayload{TransactionID: uuid.New()}))
	require.Empty(t, rec.tasks)

	require.NoError(t, pub.DiscrepancyDetected(context.Background(), DiscrepancyPayload{
		TransactionID: uuid.New(),
		Lines:         []DiscrepancyLine{{Flag: "missing", Expected: "10", Received: "7"}},
	}))
	require.Len(t, rec.tasks, 1)
	require.Equal(t, TaskDiscrepancyDetected, rec.tasks[0].Type())
}

func TestDuplicateTaskIDIsNotAnError(t *testing.T) {
	pub := NewPublisher(&recordingEnqueuer{err: asynq.ErrTaskIDConflict}, "", quietLogger())
	require.NoError(t, pub.TheftReported(context.Background(), TheftPayload{ResolutionID: uuid.New()}))

	boom := errors.New("redis down")
	pub = NewPublisher(&recordingEnqueuer{err: boom}, "", quietLogger())
	require.ErrorIs(t, pub.TheftReported(context.Background(), TheftPayload{ResolutionID: uuid.New()}), boom)
}

func TestNilPublisherDropsTasks(t *testing.T) {
	var pub *Publisher
	require.NoError(t, pub.TheftReported(context.Background(), TheftPayload{}))
	require.NoError(t, pub.DiscrepancyDetected(context.Background(), DiscrepancyPayload{Lines: []DiscrepancyLine{{}}}))
}
