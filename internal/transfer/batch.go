package transfer

import "github.com/google/uuid"

// Scenario names what a party may do with a batch number.
type Scenario string

const (
	// ScenarioNotFound means no transaction carries the batch number.
	ScenarioNotFound Scenario = "not_found"
	// ScenarioAlreadyValidated means the transaction reached accepted, rejected or resolved.
	ScenarioAlreadyValidated Scenario = "already_validated"
	// ScenarioPendingSent means the requesting party initiated the transaction.
	ScenarioPendingSent Scenario = "pending_sent"
	// ScenarioIncomingValidation means the requesting party is the receiver and may accept or reject.
	ScenarioIncomingValidation Scenario = "incoming_validation"
	// ScenarioUsedByOtherEntity means the requesting party is not part of the transaction.
	ScenarioUsedByOtherEntity Scenario = "used_by_other_entity"
	// ScenarioOtherStatus covers every remaining combination.
	ScenarioOtherStatus Scenario = "other_status"
)

// BatchValidation is the classification of a batch number for a requesting party.
type BatchValidation struct {
	Scenario     Scenario     `json:"scenario"`
	CanCreateNew bool         `json:"canCreateNew"`
	CanValidate  bool         `json:"canValidate"`
	Transaction  *Transaction `json:"transaction,omitempty"`
}

// Classify decides the scenario for t (nil when the batch number is unused). Rules are
// checked in order and the first match wins.
func Classify(t *Transaction, requestingPartyID uuid.UUID) BatchValidation {
	if t == nil {
		return BatchValidation{Scenario: ScenarioNotFound, CanCreateNew: true}
	}
	res := BatchValidation{Transaction: t}
	switch {
	case t.Status == StatusAccepted || t.Status == StatusRejected || t.Status == StatusResolved:
		res.Scenario = ScenarioAlreadyValidated
	case requestingPartyID == t.SentFirst:
		res.Scenario = ScenarioPendingSent
	case requestingPartyID == t.Receiver.ID() && t.Status.Open():
		res.Scenario = ScenarioIncomingValidation
		res.CanValidate = true
	case requestingPartyID != t.Sender.ID() && requestingPartyID != t.Receiver.ID():
		res.Scenario = ScenarioUsedByOtherEntity
		res.Transaction = nil
	default:
		res.Scenario = ScenarioOtherStatus
	}
	return res
}
