package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/nimasrn/cod-ledger/pkg/prom"
)

// Publisher hands events to the audit stream.
type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// Store persists events to the append-only table.
type Store interface {
	Append(ctx context.Context, event *model.AuditEvent) (*model.AuditEvent, error)
}

// Recorder writes audit events. Events go to the stream when one is configured and
// straight to the table otherwise, or when publishing fails.
type Recorder struct {
	publisher Publisher
	store     Store
	metrics   *prom.Registry
	now       func() time.Time
}

func NewRecorder(publisher Publisher, store Store, metrics *prom.Registry) *Recorder {
	return &Recorder{
		publisher: publisher,
		store:     store,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Record never fails the caller; losing an event is logged at error level.
func (r *Recorder) Record(ctx context.Context, event model.AuditEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}

	if r.publisher != nil {
		_, err := r.publisher.PublishJSON(ctx, &event, map[string]string{"type": string(event.Type)})
		if err == nil {
			return
		}
		logger.Warn("audit publish failed, writing directly", "event_id", event.EventID, "type", event.Type, "error", err)
	}

	if err := r.Persist(ctx, &event); err != nil {
		logger.Error("audit event lost", "event_id", event.EventID, "type", event.Type, "code", event.Code, "error", err)
	}
}

// Persist appends the event. A replayed event id is treated as already stored.
func (r *Recorder) Persist(ctx context.Context, event *model.AuditEvent) error {
	if r.store == nil {
		return errors.New("audit store is not configured")
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = r.now().UTC()
	}

	if _, err := r.store.Append(ctx, event); err != nil {
		if errors.Is(err, repository.ErrDuplicateAuditEvent) {
			logger.Debug("audit event already stored", "event_id", event.EventID)
			return nil
		}
		return err
	}
	r.metrics.AuditPersisted(string(event.Type))
	return nil
}

// ForOrder builds an event about one order handled by a courier.
func ForOrder(t model.AuditType, agentID, orderID int64) model.AuditEvent {
	e := model.AuditEvent{Type: t, OrderID: &orderID}
	if agentID != 0 {
		e.AgentID = &agentID
	}
	return e
}

// ForReconciliation builds an event about a courier's daily reconciliation row.
func ForReconciliation(t model.AuditType, agentID, reconciliationID int64) model.AuditEvent {
	e := model.AuditEvent{Type: t, AgentID: &agentID}
	if reconciliationID != 0 {
		e.ReconciliationID = &reconciliationID
	}
	return e
}
