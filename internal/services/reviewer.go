package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/nimasrn/cod-ledger/pkg/prom"
	"github.com/shopspring/decimal"
)

const (
	submitMaxAttempts = 5
	submitBaseBackoff = 10 * time.Millisecond
)

type ReviewPolicy struct {
	// AutoApproveTolerance is the largest absolute variance approved without review.
	AutoApproveTolerance decimal.Decimal
	// DiscrepancyThreshold flags rows whose absolute variance is above it.
	DiscrepancyThreshold decimal.Decimal
}

func DefaultReviewPolicy() ReviewPolicy {
	return ReviewPolicy{
		AutoApproveTolerance: decimal.NewFromInt(2),
		DiscrepancyThreshold: decimal.NewFromInt(50),
	}
}

// Reviewer owns the status, flag and admin notes of reconciliation rows.
type Reviewer struct {
	store   ReconciliationStore
	auditor Auditor
	metrics *prom.Registry
	policy  ReviewPolicy
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewReviewer(store ReconciliationStore, auditor Auditor, metrics *prom.Registry, policy ReviewPolicy) *Reviewer {
	return &Reviewer{
		store:   store,
		auditor: auditor,
		metrics: metrics,
		policy:  policy,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit records the cash a courier hands in for date and decides it when the variance
// is within tolerance. The variance is computed against the row version it is written
// with, so a collection landing in between forces a fresh computation.
func (r *Reviewer) Submit(ctx context.Context, principal model.Principal, date string, submitted decimal.Decimal, notes string) (*model.CashReconciliation, error) {
	if !principal.Can(model.CapabilityCollect) {
		return nil, model.ErrForbidden
	}
	if principal.AgentID <= 0 {
		return nil, model.ErrAgentNotFound
	}
	if _, err := model.ParseDay(date); err != nil {
		return nil, model.ErrInvalidRequest.WithMessage("date must be YYYY-MM-DD")
	}
	if submitted.IsNegative() {
		return nil, model.ErrInvalidAmounts.WithMessage("submitted_amount cannot be negative")
	}
	submitted = submitted.Round(2)

	backoff := submitBaseBackoff
	for attempt := 0; attempt < submitMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, backoff); err != nil {
				return nil, model.ErrInternal.Wrap(err)
			}
			backoff *= 2
		}

		rec, err := r.currentRow(ctx, principal.AgentID, date)
		if err != nil {
			return nil, err
		}
		if rec.Status == model.ReconciliationApproved {
			return nil, model.ErrAlreadyApproved
		}

		variance := submitted.Sub(rec.ClosingBalance).Round(2)
		status := r.decide(variance)
		at := r.now().UTC()

		ok, err := r.store.Submit(ctx, rec.ID, rec.Version, model.SubmissionUpdate{
			SubmittedAmount: submitted,
			Variance:        variance,
			Status:          status,
			DiscrepancyFlag: r.flagged(variance),
			Notes:           notes,
			SubmittedAt:     at,
		})
		if err != nil {
			return nil, model.ErrInternal.Wrap(fmt.Errorf("submit reconciliation: %w", err))
		}
		if !ok {
			logger.Debug("reconciliation changed during submission, retrying", "agent_id", principal.AgentID, "date", date, "attempt", attempt+1)
			continue
		}

		stored, err := r.store.GetByID(ctx, rec.ID)
		if err != nil {
			return nil, model.ErrInternal.Wrap(err)
		}
		r.decided(ctx, stored, model.AuditReconciliationSubmitted, principal.AgentID)
		logger.Info("reconciliation submitted",
			"agent_id", principal.AgentID,
			"date", date,
			"closing_balance", rec.ClosingBalance.StringFixed(2),
			"submitted", submitted.StringFixed(2),
			"variance", variance.StringFixed(2),
			"status", status)
		return stored, nil
	}

	return nil, model.ErrReconciliationBusy
}

// Reevaluate recomputes the variance of a day whose closing balance changed after the courier
// submitted. The auto-approval rules are applied again, so an approved day moves back to
// pending_review when the new variance is outside tolerance. A rejected day stays rejected
// until the courier submits again.
func (r *Reviewer) Reevaluate(ctx context.Context, rec *model.CashReconciliation) (*model.CashReconciliation, error) {
	backoff := submitBaseBackoff
	for attempt := 0; attempt < submitMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, backoff); err != nil {
				return nil, model.ErrInternal.Wrap(err)
			}
			backoff *= 2

			var err error
			if rec, err = r.store.GetByID(ctx, rec.ID); err != nil {
				return nil, model.ErrInternal.Wrap(err)
			}
		}
		if rec.SubmittedAmount == nil {
			return rec, nil
		}

		variance := rec.SubmittedAmount.Sub(rec.ClosingBalance).Round(2)
		status := r.decide(variance)
		if rec.Status == model.ReconciliationRejected {
			status = model.ReconciliationRejected
		}
		flag := r.flagged(variance)
		if rec.Variance != nil && rec.Variance.Equal(variance) && rec.Status == status && rec.DiscrepancyFlag == flag {
			return rec, nil
		}

		ok, err := r.store.Reevaluate(ctx, rec.ID, rec.Version, model.VarianceUpdate{
			Variance:        variance,
			Status:          status,
			DiscrepancyFlag: flag,
			UpdatedAt:       r.now().UTC(),
		})
		if err != nil {
			return nil, model.ErrInternal.Wrap(fmt.Errorf("reevaluate reconciliation: %w", err))
		}
		if !ok {
			logger.Debug("reconciliation changed during reevaluation, retrying", "id", rec.ID, "attempt", attempt+1)
			continue
		}

		stored, err := r.store.GetByID(ctx, rec.ID)
		if err != nil {
			return nil, model.ErrInternal.Wrap(err)
		}
		if stored.Status != rec.Status {
			r.decided(ctx, stored, model.AuditReconciliationReopened, stored.AgentID)
		}
		logger.Info("reconciliation reevaluated after late collection",
			"id", rec.ID,
			"agent_id", rec.AgentID,
			"date", rec.ReconciliationDate,
			"closing_balance", rec.ClosingBalance.StringFixed(2),
			"variance", variance.StringFixed(2),
			"from", rec.Status,
			"status", status)
		return stored, nil
	}

	return nil, model.ErrReconciliationBusy
}

// currentRow reads the row from the primary, creating an empty one for a day without collections.
func (r *Reviewer) currentRow(ctx context.Context, agentID int64, date string) (*model.CashReconciliation, error) {
	rec, err := r.store.GetForUpdate(ctx, agentID, date)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repository.ErrReconciliationNotFound) {
		return nil, model.ErrInternal.Wrap(err)
	}
	rec, err = r.store.Accumulate(ctx, agentID, date, decimal.Zero, decimal.Zero)
	if err != nil {
		return nil, model.ErrInternal.Wrap(fmt.Errorf("open reconciliation: %w", err))
	}
	return rec, nil
}

// Review applies an administrator decision to a submitted row. Large variances stay flagged
// whatever the decision.
func (r *Reviewer) Review(ctx context.Context, principal model.Principal, id int64, decision model.ReviewDecision, adminNotes string) (*model.CashReconciliation, error) {
	if !principal.Can(model.CapabilityReview) {
		return nil, model.ErrForbidden
	}
	if !decision.Valid() {
		return nil, model.ErrInvalidRequest.WithMessage("decision must be approve or reject")
	}

	rec, err := r.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReconciliationNotFound) {
			return nil, model.ErrReconciliationNotFound
		}
		return nil, model.ErrInternal.Wrap(err)
	}
	if rec.Status == model.ReconciliationOpen {
		return nil, model.ErrNotSubmitted
	}

	status := model.ReconciliationApproved
	if decision == model.DecisionReject {
		status = model.ReconciliationRejected
	}
	variance := decimal.Zero
	if rec.Variance != nil {
		variance = *rec.Variance
	}

	ok, err := r.store.Review(ctx, id, model.ReviewUpdate{
		Status:          status,
		DiscrepancyFlag: r.flagged(variance),
		AdminNotes:      adminNotes,
		ReviewedBy:      principal.AgentID,
		ReviewedAt:      r.now().UTC(),
	})
	if err != nil {
		return nil, model.ErrInternal.Wrap(fmt.Errorf("review reconciliation: %w", err))
	}
	if !ok {
		return nil, model.ErrNotSubmitted
	}

	stored, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, model.ErrInternal.Wrap(err)
	}
	r.decided(ctx, stored, model.AuditReconciliationReviewed, principal.AgentID)
	logger.Info("reconciliation reviewed", "id", id, "agent_id", rec.AgentID, "reviewer", principal.AgentID, "status", status)
	return stored, nil
}

func (r *Reviewer) decide(variance decimal.Decimal) model.ReconciliationStatus {
	if variance.Abs().LessThanOrEqual(r.policy.AutoApproveTolerance) {
		return model.ReconciliationApproved
	}
	return model.ReconciliationPendingReview
}

func (r *Reviewer) flagged(variance decimal.Decimal) bool {
	return variance.Abs().GreaterThan(r.policy.DiscrepancyThreshold)
}

func (r *Reviewer) decided(ctx context.Context, rec *model.CashReconciliation, t model.AuditType, actor int64) {
	abs := 0.0
	if rec.Variance != nil {
		abs = rec.Variance.Abs().InexactFloat64()
	}
	r.metrics.ReconciliationDecided(string(rec.Status), abs)

	if r.auditor == nil {
		return
	}
	event := model.AuditEvent{
		Type:             t,
		AgentID:          &rec.AgentID,
		ReconciliationID: &rec.ID,
		Code:             string(rec.Status),
		Amount:           rec.Variance,
	}
	if actor != rec.AgentID {
		event.Message = fmt.Sprintf("reviewed by %d", actor)
	}
	r.auditor.Record(ctx, event)
}
