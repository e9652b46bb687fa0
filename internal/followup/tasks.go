// Package followup hands discrepancy and theft reports to external collaborators
// through an Asynq queue. Delivery of the reports is not handled here.
package followup

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the queue follow-up tasks go to unless configured otherwise.
	QueueDefault = "followup"
	// TaskTheftReported is enqueued for every REPORT_THEFT resolution.
	TaskTheftReported = "transit:theft_reported"
	// TaskDiscrepancyDetected is enqueued when an acceptance flags stock.
	TaskDiscrepancyDetected = "transit:discrepancy_detected"
)

// TheftPayload describes a reported theft.
type TheftPayload struct {
	ResolutionID  uuid.UUID `json:"resolution_id"`
	StockRecordID uuid.UUID `json:"stock_record_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	ItemTypeID    uuid.UUID `json:"item_type_id"`
	Holder        string    `json:"holder"`
	Quantity      string    `json:"quantity"`
	ReportedBy    string    `json:"reported_by"`
	Notes         string    `json:"notes"`
	ReportedAt    time.Time `json:"reported_at"`
}

// DiscrepancyLine is one flagged item of an acceptance.
type DiscrepancyLine struct {
	TransactionItemID uuid.UUID `json:"transaction_item_id"`
	StockRecordID     uuid.UUID `json:"stock_record_id"`
	ItemTypeID        uuid.UUID `json:"item_type_id"`
	Flag              string    `json:"flag"`
	Expected          string    `json:"expected"`
	Received          string    `json:"received"`
}

// DiscrepancyPayload lists the flagged items of one acceptance.
type DiscrepancyPayload struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	BatchNumber   *int64            `json:"batch_number,omitempty"`
	Sender        string            `json:"sender"`
	Receiver      string            `json:"receiver"`
	AcceptedBy    string            `json:"accepted_by"`
	Lines         []DiscrepancyLine `json:"lines"`
}

// NewTheftReportedTask constructs an Asynq task. The resolution id doubles as task id
// so a retried enqueue does not report the same theft twice.
func NewTheftReportedTask(payload TheftPayload, queue string) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTheftReported, body,
		asynq.Queue(queue),
		asynq.TaskID("theft:"+payload.ResolutionID.String()),
		asynq.MaxRetry(5)), nil
}

// NewDiscrepancyDetectedTask constructs an Asynq task.
func NewDiscrepancyDetectedTask(payload DiscrepancyPayload, queue string) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDiscrepancyDetected, body,
		asynq.Queue(queue),
		asynq.TaskID("discrepancy:"+payload.TransactionID.String()),
		asynq.MaxRetry(5)), nil
}
