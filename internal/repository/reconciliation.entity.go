package repository

import (
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/shopspring/decimal"
)

type CashReconciliationEntity struct {
	ID                 int64               `db:"id" gorm:"primaryKey;autoIncrement;column:id"`
	AgentID            int64               `db:"agent_id" gorm:"column:agent_id;not null;uniqueIndex:ux_cash_reconciliations_agent_day,priority:1"`
	ReconciliationDate string              `db:"reconciliation_date" gorm:"column:reconciliation_date;type:varchar(10);not null;uniqueIndex:ux_cash_reconciliations_agent_day,priority:2;index"`
	OpeningBalance     decimal.Decimal     `db:"opening_balance" gorm:"column:opening_balance;type:numeric(12,2);not null;default:0"`
	TotalCollections   decimal.Decimal     `db:"total_collections" gorm:"column:total_collections;type:numeric(12,2);not null;default:0"`
	TotalChangeGiven   decimal.Decimal     `db:"total_change_given" gorm:"column:total_change_given;type:numeric(12,2);not null;default:0"`
	ClosingBalance     decimal.Decimal     `db:"closing_balance" gorm:"column:closing_balance;type:numeric(12,2);not null;default:0"`
	SubmittedAmount    decimal.NullDecimal `db:"submitted_amount" gorm:"column:submitted_amount;type:numeric(12,2)"`
	Variance           decimal.NullDecimal `db:"variance" gorm:"column:variance;type:numeric(12,2)"`
	Status             string              `db:"status" gorm:"column:status;type:varchar(20);not null;index"`
	DiscrepancyFlag    bool                `db:"discrepancy_flag" gorm:"column:discrepancy_flag;not null;default:false"`
	Notes              string              `db:"notes" gorm:"column:notes;type:text;not null;default:''"`
	AdminNotes         string              `db:"admin_notes" gorm:"column:admin_notes;type:text;not null;default:''"`
	Version            int64               `db:"version" gorm:"column:version;not null;default:0"`
	SubmittedAt        *time.Time          `db:"submitted_at" gorm:"column:submitted_at"`
	ReviewedBy         *int64              `db:"reviewed_by" gorm:"column:reviewed_by"`
	ReviewedAt         *time.Time          `db:"reviewed_at" gorm:"column:reviewed_at"`
	CreatedAt          time.Time           `db:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (CashReconciliationEntity) TableName() string {
	return "cash_reconciliations"
}

func toReconciliationModel(e *CashReconciliationEntity) *model.CashReconciliation {
	if e == nil {
		return nil
	}
	return &model.CashReconciliation{
		ID:                 e.ID,
		AgentID:            e.AgentID,
		ReconciliationDate: e.ReconciliationDate,
		OpeningBalance:     money(e.OpeningBalance),
		TotalCollections:   money(e.TotalCollections),
		TotalChangeGiven:   money(e.TotalChangeGiven),
		ClosingBalance:     money(e.ClosingBalance),
		SubmittedAmount:    nullMoneyPtr(e.SubmittedAmount),
		Variance:           nullMoneyPtr(e.Variance),
		Status:             model.ReconciliationStatus(e.Status),
		DiscrepancyFlag:    e.DiscrepancyFlag,
		Notes:              e.Notes,
		AdminNotes:         e.AdminNotes,
		Version:            e.Version,
		SubmittedAt:        e.SubmittedAt,
		ReviewedBy:         e.ReviewedBy,
		ReviewedAt:         e.ReviewedAt,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func toReconciliationModels(entities []*CashReconciliationEntity) []*model.CashReconciliation {
	if entities == nil {
		return nil
	}
	models := make([]*model.CashReconciliation, len(entities))
	for i, e := range entities {
		models[i] = toReconciliationModel(e)
	}
	return models
}
