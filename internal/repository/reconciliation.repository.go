package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/pkg/pg"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrReconciliationNotFound = errors.New("reconciliation not found")
)

type ReconciliationRepository struct {
	*pg.DB
}

func NewReconciliationRepository(db *pg.DB) *ReconciliationRepository {
	return &ReconciliationRepository{
		db,
	}
}

// Accumulate adds one collection to a courier day in a single upsert. The running totals and the
// closing balance are computed by the database from the stored row, never from a value read
// earlier by the caller, so concurrent collections cannot lose an update.
func (r *ReconciliationRepository) Accumulate(ctx context.Context, agentID int64, date string, collected, change decimal.Decimal) (*model.CashReconciliation, error) {
	now := time.Now().UTC()
	entity := &CashReconciliationEntity{
		AgentID:            agentID,
		ReconciliationDate: date,
		OpeningBalance:     decimal.Zero,
		TotalCollections:   collected,
		TotalChangeGiven:   change,
		ClosingBalance:     collected.Sub(change),
		Status:             string(model.ReconciliationOpen),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "agent_id"}, {Name: "reconciliation_date"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_collections":  gorm.Expr("cash_reconciliations.total_collections + excluded.total_collections"),
				"total_change_given": gorm.Expr("cash_reconciliations.total_change_given + excluded.total_change_given"),
				"closing_balance": gorm.Expr("cash_reconciliations.opening_balance" +
					" + cash_reconciliations.total_collections + excluded.total_collections" +
					" - cash_reconciliations.total_change_given - excluded.total_change_given"),
				"version":    gorm.Expr("cash_reconciliations.version + 1"),
				"updated_at": now,
			}),
		}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}

	return r.get(r.Write(ctx), agentID, date)
}

func (r *ReconciliationRepository) Get(ctx context.Context, agentID int64, date string) (*model.CashReconciliation, error) {
	return r.get(r.Read(ctx), agentID, date)
}

// GetForUpdate reads from the primary so a following conditional write sees the latest version.
func (r *ReconciliationRepository) GetForUpdate(ctx context.Context, agentID int64, date string) (*model.CashReconciliation, error) {
	return r.get(r.Write(ctx), agentID, date)
}

func (r *ReconciliationRepository) get(db *gorm.DB, agentID int64, date string) (*model.CashReconciliation, error) {
	var entity CashReconciliationEntity
	err := db.Where("agent_id = ? AND reconciliation_date = ?", agentID, date).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReconciliationNotFound
		}
		return nil, err
	}
	return toReconciliationModel(&entity), nil
}

func (r *ReconciliationRepository) GetByID(ctx context.Context, id int64) (*model.CashReconciliation, error) {
	var entity CashReconciliationEntity
	err := r.Write(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReconciliationNotFound
		}
		return nil, err
	}
	return toReconciliationModel(&entity), nil
}

// Submit records a courier's count if the row still has the version the variance was computed
// against and has not been approved. It reports false when either condition no longer holds.
func (r *ReconciliationRepository) Submit(ctx context.Context, id, version int64, u model.SubmissionUpdate) (bool, error) {
	result := r.Write(ctx).
		Model(&CashReconciliationEntity{}).
		Where("id = ? AND version = ? AND status <> ?", id, version, string(model.ReconciliationApproved)).
		Updates(map[string]interface{}{
			"submitted_amount": u.SubmittedAmount,
			"variance":         u.Variance,
			"status":           string(u.Status),
			"discrepancy_flag": u.DiscrepancyFlag,
			"notes":            u.Notes,
			"submitted_at":     u.SubmittedAt,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       u.SubmittedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Reevaluate rewrites the variance and decision of a submitted row if it still has version.
// Unlike Submit it also applies to approved rows.
func (r *ReconciliationRepository) Reevaluate(ctx context.Context, id, version int64, u model.VarianceUpdate) (bool, error) {
	result := r.Write(ctx).
		Model(&CashReconciliationEntity{}).
		Where("id = ? AND version = ? AND submitted_amount IS NOT NULL", id, version).
		Updates(map[string]interface{}{
			"variance":         u.Variance,
			"status":           string(u.Status),
			"discrepancy_flag": u.DiscrepancyFlag,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       u.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Review stores an administrator decision on a row that has been submitted at least once.
func (r *ReconciliationRepository) Review(ctx context.Context, id int64, u model.ReviewUpdate) (bool, error) {
	result := r.Write(ctx).
		Model(&CashReconciliationEntity{}).
		Where("id = ? AND status <> ?", id, string(model.ReconciliationOpen)).
		Updates(map[string]interface{}{
			"status":           string(u.Status),
			"discrepancy_flag": u.DiscrepancyFlag,
			"admin_notes":      u.AdminNotes,
			"reviewed_by":      u.ReviewedBy,
			"reviewed_at":      u.ReviewedAt,
			"updated_at":       u.ReviewedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListByDate returns every courier row of one calendar day.
func (r *ReconciliationRepository) ListByDate(ctx context.Context, date string) ([]*model.CashReconciliation, error) {
	var entities []*CashReconciliationEntity
	err := r.Read(ctx).
		Where("reconciliation_date = ?", date).
		Order("agent_id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toReconciliationModels(entities), nil
}
