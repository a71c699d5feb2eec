package model

import "github.com/shopspring/decimal"

type ReportSummary struct {
	Count            int             `json:"count"`
	TotalCollections decimal.Decimal `json:"total_collections"`
	TotalChange      decimal.Decimal `json:"total_change"`
	Net              decimal.Decimal `json:"net"`
}

// Add folds one collected payment into the summary.
func (s *ReportSummary) Add(collected, change decimal.Decimal) {
	s.Count++
	s.TotalCollections = s.TotalCollections.Add(collected)
	s.TotalChange = s.TotalChange.Add(change)
	s.Net = s.TotalCollections.Sub(s.TotalChange)
}

type DailyReport struct {
	AgentID        int64                 `json:"agent_id"`
	Date           string                `json:"date"`
	Transactions   []*PaymentTransaction `json:"transactions"`
	Reconciliation *CashReconciliation   `json:"reconciliation"`
	Summary        ReportSummary         `json:"summary"`
}

// ExportRow is one collected payment joined with the reconciliation of its day, if any.
type ExportRow struct {
	OrderID              int64                 `json:"order_id"`
	AgentID              int64                 `json:"agent_id"`
	CollectionDate       string                `json:"collection_date"`
	Amount               decimal.Decimal       `json:"amount"`
	CollectedAmount      decimal.Decimal       `json:"collected_amount"`
	ChangeAmount         decimal.Decimal       `json:"change_amount"`
	PaymentStatus        PaymentStatus         `json:"payment_status"`
	ReconciliationID     *int64                `json:"reconciliation_id,omitempty"`
	ReconciliationStatus *ReconciliationStatus `json:"reconciliation_status,omitempty"`
	Variance             *decimal.Decimal      `json:"variance,omitempty"`
	DiscrepancyFlag      bool                  `json:"discrepancy_flag"`
}

type RangeExport struct {
	From    string        `json:"from"`
	To      string        `json:"to"`
	AgentID *int64        `json:"agent_id,omitempty"`
	Rows    []*ExportRow  `json:"rows"`
	Summary ReportSummary `json:"summary"`
}

// SweepResult counts what one daily sweep did.
type SweepResult struct {
	Date                 string `json:"date"`
	Agents               int    `json:"agents"`
	Skipped              int    `json:"skipped"`
	ReconciledPayments   int64  `json:"reconciled_payments"`
	DueNotifications     int    `json:"due_notifications"`
	PendingNotifications int    `json:"pending_notifications"`
	Errors               int    `json:"errors"`
}
