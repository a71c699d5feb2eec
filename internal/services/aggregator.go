package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/processor"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

type ReconciliationStore interface {
	Accumulate(ctx context.Context, agentID int64, date string, collected, change decimal.Decimal) (*model.CashReconciliation, error)
	Get(ctx context.Context, agentID int64, date string) (*model.CashReconciliation, error)
	GetForUpdate(ctx context.Context, agentID int64, date string) (*model.CashReconciliation, error)
	GetByID(ctx context.Context, id int64) (*model.CashReconciliation, error)
	Submit(ctx context.Context, id, version int64, u model.SubmissionUpdate) (bool, error)
	Reevaluate(ctx context.Context, id, version int64, u model.VarianceUpdate) (bool, error)
	Review(ctx context.Context, id int64, u model.ReviewUpdate) (bool, error)
	ListByDate(ctx context.Context, date string) ([]*model.CashReconciliation, error)
}

// SweepGuard keeps two sweeps off the same courier day and remembers finished ones.
type SweepGuard interface {
	AcquireProcessingLock(ctx context.Context, key string) (*processor.ProcessingContext, error)
	MarkSuccess(ctx context.Context, pc *processor.ProcessingContext) error
	MarkFailure(ctx context.Context, pc *processor.ProcessingContext, reason error) error
	ReleaseLock(ctx context.Context, pc *processor.ProcessingContext) error
}

// Publisher hands JSON events to a stream.
type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// Reevaluator decides a submitted day again after its closing balance moved.
type Reevaluator interface {
	Reevaluate(ctx context.Context, rec *model.CashReconciliation) (*model.CashReconciliation, error)
}

// Auditor appends to the audit log and never fails the caller.
type Auditor interface {
	Record(ctx context.Context, event model.AuditEvent)
}

// Aggregator owns the running totals of every courier day.
type Aggregator struct {
	store    ReconciliationStore
	ledger   PaymentLedger
	guard    SweepGuard
	notifier Publisher
	auditor  Auditor
	reviewer Reevaluator
	now      func() time.Time
}

func NewAggregator(store ReconciliationStore, ledger PaymentLedger, guard SweepGuard, notifier Publisher, auditor Auditor) *Aggregator {
	return &Aggregator{
		store:    store,
		ledger:   ledger,
		guard:    guard,
		notifier: notifier,
		auditor:  auditor,
		now:      time.Now,
	}
}

// WithReevaluator makes every accumulation into an already submitted day recompute its variance.
func (a *Aggregator) WithReevaluator(r Reevaluator) *Aggregator {
	a.reviewer = r
	return a
}

// Accumulate adds one collection to the courier day, creating the row on first use.
func (a *Aggregator) Accumulate(ctx context.Context, agentID int64, date string, collected, change decimal.Decimal) (*model.CashReconciliation, error) {
	if agentID <= 0 {
		return nil, model.ErrAgentNotFound
	}
	if _, err := model.ParseDay(date); err != nil {
		return nil, model.ErrInvalidRequest.WithMessage("date must be YYYY-MM-DD")
	}
	if collected.IsNegative() || change.IsNegative() || change.GreaterThan(collected) {
		return nil, model.ErrInvalidAmounts.WithMessage("collected %s and change %s cannot be accumulated", collected, change)
	}

	rec, err := a.store.Accumulate(ctx, agentID, date, collected.Round(2), change.Round(2))
	if err != nil {
		return nil, fmt.Errorf("accumulate agent=%d date=%s: %w", agentID, date, err)
	}
	if rec.SubmittedAmount == nil || a.reviewer == nil {
		return rec, nil
	}
	rec, err = a.reviewer.Reevaluate(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("reevaluate agent=%d date=%s: %w", agentID, date, err)
	}
	return rec, nil
}

func (a *Aggregator) Get(ctx context.Context, agentID int64, date string) (*model.CashReconciliation, error) {
	rec, err := a.store.Get(ctx, agentID, date)
	if err != nil {
		if errors.Is(err, repository.ErrReconciliationNotFound) {
			return nil, model.ErrReconciliationNotFound
		}
		return nil, model.ErrInternal.Wrap(err)
	}
	return rec, nil
}

func sweepKey(rec *model.CashReconciliation) string {
	// status and version are part of the key so a day is acted on again after it changes
	return "sweep:" + strconv.FormatInt(rec.AgentID, 10) + ":" + rec.ReconciliationDate + ":" +
		string(rec.Status) + ":" + strconv.FormatInt(rec.Version, 10)
}

// Sweep runs the end-of-day pass over every courier row of date. Approved days have their
// payments marked reconciled; open and pending days produce notifications. Running it again
// for the same state does nothing.
func (a *Aggregator) Sweep(ctx context.Context, date string) (*model.SweepResult, error) {
	if _, err := model.ParseDay(date); err != nil {
		return nil, model.ErrInvalidRequest.WithMessage("date must be YYYY-MM-DD")
	}

	rows, err := a.store.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list reconciliations for %s: %w", date, err)
	}

	result := &model.SweepResult{Date: date, Agents: len(rows)}
	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		a.sweepOne(ctx, rec, result)
	}

	logger.Info("daily sweep finished",
		"date", date,
		"agents", result.Agents,
		"skipped", result.Skipped,
		"reconciled_payments", result.ReconciledPayments,
		"due_notifications", result.DueNotifications,
		"pending_notifications", result.PendingNotifications,
		"errors", result.Errors)

	if a.auditor != nil {
		msg := fmt.Sprintf("date=%s agents=%d reconciled=%d errors=%d", date, result.Agents, result.ReconciledPayments, result.Errors)
		a.auditor.Record(ctx, model.AuditEvent{Type: model.AuditSweepCompleted, Message: msg})
	}
	return result, nil
}

func (a *Aggregator) sweepOne(ctx context.Context, rec *model.CashReconciliation, result *model.SweepResult) {
	var pc *processor.ProcessingContext
	if a.guard != nil {
		var err error
		pc, err = a.guard.AcquireProcessingLock(ctx, sweepKey(rec))
		switch {
		case errors.Is(err, processor.ErrAlreadyProcessed), errors.Is(err, processor.ErrLockAcquireFailed):
			result.Skipped++
			return
		case err != nil:
			logger.Error("sweep lock failed", "agent_id", rec.AgentID, "date", rec.ReconciliationDate, "error", err)
			result.Errors++
			return
		}
		defer func() { _ = a.guard.ReleaseLock(ctx, pc) }()
	}

	err := a.actOn(ctx, rec, result)
	if a.guard == nil {
		if err != nil {
			result.Errors++
		}
		return
	}
	if err != nil {
		logger.Error("sweep failed for courier day", "agent_id", rec.AgentID, "date", rec.ReconciliationDate, "error", err)
		result.Errors++
		_ = a.guard.MarkFailure(ctx, pc, err)
		return
	}
	if err := a.guard.MarkSuccess(ctx, pc); err != nil {
		logger.Warn("failed to mark sweep processed", "agent_id", rec.AgentID, "date", rec.ReconciliationDate, "error", err)
	}
}

func (a *Aggregator) actOn(ctx context.Context, rec *model.CashReconciliation, result *model.SweepResult) error {
	switch rec.Status {
	case model.ReconciliationApproved:
		n, err := a.ledger.MarkReconciled(ctx, rec.AgentID, rec.ReconciliationDate, a.now().UTC())
		if err != nil {
			return fmt.Errorf("mark reconciled: %w", err)
		}
		result.ReconciledPayments += n
	case model.ReconciliationOpen:
		if !rec.TotalCollections.IsPositive() {
			return nil
		}
		if err := a.notify(ctx, model.NotificationReconciliationDue, rec); err != nil {
			return err
		}
		result.DueNotifications++
	case model.ReconciliationPendingReview:
		if err := a.notify(ctx, model.NotificationReviewPending, rec); err != nil {
			return err
		}
		result.PendingNotifications++
	}
	return nil
}

func (a *Aggregator) notify(ctx context.Context, kind string, rec *model.CashReconciliation) error {
	n := model.Notification{
		Type:             kind,
		AgentID:          rec.AgentID,
		ReconciliationID: rec.ID,
		Date:             rec.ReconciliationDate,
		CreatedAt:        a.now().UTC(),
	}
	if a.notifier == nil {
		logger.Info("notification not published, no notifier configured", "type", kind, "agent_id", rec.AgentID, "date", rec.ReconciliationDate)
		return nil
	}
	if _, err := a.notifier.PublishJSON(ctx, n, map[string]string{"type": kind}); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}
