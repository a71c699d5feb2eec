package repository

import (
	"context"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/pkg/pg"
	"github.com/shopspring/decimal"
)

type ReportRepository struct {
	*pg.DB
}

func NewReportRepository(db *pg.DB) *ReportRepository {
	return &ReportRepository{
		db,
	}
}

type exportRow struct {
	OrderID              int64
	AgentID              int64
	CollectionDate       string
	Amount               decimal.Decimal
	CollectedAmount      decimal.NullDecimal
	ChangeAmount         decimal.NullDecimal
	PaymentStatus        string
	ReconciliationID     *int64
	ReconciliationStatus *string
	Variance             decimal.NullDecimal
	DiscrepancyFlag      *bool
}

type RangeFilter struct {
	From    string
	To      string
	AgentID *int64
}

// CollectedInRange joins settled payments with the reconciliation row of their courier day.
// Payments whose day has no reconciliation row are still returned.
func (r *ReportRepository) CollectedInRange(ctx context.Context, filter RangeFilter) ([]*model.ExportRow, error) {
	query := r.Read(ctx).
		Table("payment_transactions AS p").
		Select("p.order_id, p.agent_id, p.collection_date, p.amount, p.collected_amount, p.change_amount, " +
			"p.status AS payment_status, c.id AS reconciliation_id, c.status AS reconciliation_status, " +
			"c.variance, c.discrepancy_flag").
		Joins("LEFT JOIN cash_reconciliations AS c ON c.agent_id = p.agent_id AND c.reconciliation_date = p.collection_date").
		Where("p.status IN ?", settledStatuses()).
		Where("p.collection_date >= ? AND p.collection_date <= ?", filter.From, filter.To)
	if filter.AgentID != nil {
		query = query.Where("p.agent_id = ?", *filter.AgentID)
	}

	var rows []exportRow
	if err := query.Order("p.collection_date ASC, p.agent_id ASC, p.order_id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*model.ExportRow, len(rows))
	for i, row := range rows {
		er := &model.ExportRow{
			OrderID:          row.OrderID,
			AgentID:          row.AgentID,
			CollectionDate:   row.CollectionDate,
			Amount:           money(row.Amount),
			CollectedAmount:  nullMoney(row.CollectedAmount),
			ChangeAmount:     nullMoney(row.ChangeAmount),
			PaymentStatus:    model.PaymentStatus(row.PaymentStatus),
			ReconciliationID: row.ReconciliationID,
			Variance:         nullMoneyPtr(row.Variance),
		}
		if row.ReconciliationStatus != nil {
			st := model.ReconciliationStatus(*row.ReconciliationStatus)
			er.ReconciliationStatus = &st
		}
		if row.DiscrepancyFlag != nil {
			er.DiscrepancyFlag = *row.DiscrepancyFlag
		}
		out[i] = er
	}
	return out, nil
}
