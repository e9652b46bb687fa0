package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-transit/internal/platform/db"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entityId"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// ErrInvalidAuditLog indicates a record without action, entity or entity id.
var ErrInvalidAuditLog = fmt.Errorf("audit log requires action/entity/entity_id: %w", ErrValidation)

// SystemActor is recorded when an entry has no human actor.
const SystemActor = "system"

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	q   db.Querier
	now func() time.Time
}

// NewAuditLogger returns a new AuditLogger. q is usually the pool.
func NewAuditLogger(q db.Querier) *AuditLogger {
	return &AuditLogger{q: q, now: time.Now}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.q == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return ErrInvalidAuditLog
	}
	if log.Actor == "" {
		log.Actor = SystemActor
	}
	if log.At.IsZero() {
		log.At = l.now()
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	_, err = l.q.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, log.Actor, log.Action, log.Entity, log.EntityID, metaJSON, log.At.UTC())
	return err
}
