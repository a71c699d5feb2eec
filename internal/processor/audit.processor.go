package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/queue"
	"github.com/nimasrn/cod-ledger/pkg/logger"
)

// EventStore persists one audit event; replays must be harmless.
type EventStore interface {
	Persist(ctx context.Context, event *model.AuditEvent) error
}

// AuditProcessor moves audit events from the stream into the append-only table.
type AuditProcessor struct {
	store       EventStore
	idempotency *IdempotencyService
}

func NewAuditProcessor(store EventStore, idempotency *IdempotencyService) *AuditProcessor {
	return &AuditProcessor{
		store:       store,
		idempotency: idempotency,
	}
}

func (p *AuditProcessor) GetType() string {
	return "audit"
}

func (p *AuditProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var event model.AuditEvent
	if err := msg.Decode(&event); err != nil {
		// retrying cannot fix a malformed payload; the queue dead-letters it
		return fmt.Errorf("failed to decode audit event %s: %w", msg.ID, err)
	}
	if event.EventID == "" {
		return fmt.Errorf("audit event %s has no event id", msg.ID)
	}

	pc, err := p.idempotency.AcquireProcessingLock(ctx, "audit:"+event.EventID)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		return nil
	case errors.Is(err, ErrMaxRetriesExceeded):
		logger.Error("audit event gave up after retries", "event_id", event.EventID, "type", event.Type)
		return nil
	case err != nil:
		return err
	}
	defer func() {
		if pc.Held() {
			_ = p.idempotency.ReleaseLock(ctx, pc)
		}
	}()

	if err := p.store.Persist(ctx, &event); err != nil {
		_ = p.idempotency.MarkFailure(ctx, pc, err)
		return fmt.Errorf("failed to persist audit event %s: %w", event.EventID, err)
	}

	if err := p.idempotency.MarkSuccess(ctx, pc); err != nil {
		// the row is stored; a replay is absorbed by the unique event id
		logger.Warn("failed to mark audit event processed", "event_id", event.EventID, "error", err)
	}
	logger.Debug("audit event persisted", "event_id", event.EventID, "type", event.Type, "retry", pc.IsRetry)
	return nil
}
