// Package audit provides the append-only audit trail of the settlement
// core. The sink is an explicit dependency injected into services rather
// than a global buffer: ordinary entries may be buffered, but critical
// entries take a synchronous durable path and are never silently dropped.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kausenergy/settlement/pkg/dto"
)

// Severity classifies audit entries.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Entry is one audit record. Balance-affecting events must carry the
// before/after pair so the trail alone can reconcile any account.
type Entry struct {
	EventType     string
	Severity      Severity
	PrincipalID   uuid.UUID
	Amount        int64
	Currency      string
	Status        string
	ReferenceID   string
	BalanceBefore *int64
	BalanceAfter  *int64
	Details       map[string]any
	CreatedAt     time.Time
}

// Sink receives audit entries.
type Sink interface {
	// Record appends an entry best-effort. Implementations may buffer; a
	// failing audit backend must not fail the settlement it describes.
	Record(ctx context.Context, e Entry)
	// Critical appends an entry synchronously. The returned error lets the
	// caller know durability was not achieved; implementations must also
	// raise an operator alert in that case.
	Critical(ctx context.Context, e Entry) error
	// Close flushes buffered entries.
	Close() error
}

// Store is the durable backend a sink writes to.
type Store interface {
	Append(ctx context.Context, create dto.AuditCreate) error
	AppendBatch(ctx context.Context, creates []dto.AuditCreate) error
}

// ToCreate maps an entry to its storage shape.
func ToCreate(e Entry) dto.AuditCreate {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	details := ""
	if len(e.Details) > 0 {
		if raw, err := json.Marshal(e.Details); err == nil {
			details = string(raw)
		}
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	return dto.AuditCreate{
		ID:            uuid.New(),
		EventType:     e.EventType,
		Severity:      string(e.Severity),
		PrincipalID:   e.PrincipalID,
		Amount:        e.Amount,
		Currency:      e.Currency,
		Status:        e.Status,
		ReferenceID:   e.ReferenceID,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Details:       details,
		CreatedAt:     e.CreatedAt,
	}
}
