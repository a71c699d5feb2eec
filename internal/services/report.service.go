package services

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

// MaxExportDays bounds the span of one range export.
const MaxExportDays = 92

type RangeReader interface {
	CollectedInRange(ctx context.Context, filter repository.RangeFilter) ([]*model.ExportRow, error)
}

type ReportService struct {
	ledger PaymentLedger
	store  ReconciliationStore
	ranges RangeReader
}

func NewReportService(ledger PaymentLedger, store ReconciliationStore, ranges RangeReader) *ReportService {
	return &ReportService{
		ledger: ledger,
		store:  store,
		ranges: ranges,
	}
}

func canReport(principal model.Principal, agentID int64) bool {
	if principal.Can(model.CapabilityReport) || principal.Can(model.CapabilityReview) {
		return true
	}
	return principal.Can(model.CapabilityCollect) && principal.AgentID == agentID
}

// DailyReport lists one courier day: its collections, its reconciliation row and a summary.
func (s *ReportService) DailyReport(ctx context.Context, principal model.Principal, agentID int64, date string) (*model.DailyReport, error) {
	if agentID <= 0 {
		return nil, model.ErrAgentNotFound
	}
	if !canReport(principal, agentID) {
		return nil, model.ErrForbidden
	}
	if _, err := model.ParseDay(date); err != nil {
		return nil, model.ErrInvalidRequest.WithMessage("date must be YYYY-MM-DD")
	}

	txs, err := s.ledger.ListCollected(ctx, agentID, date)
	if err != nil {
		return nil, model.ErrInternal.Wrap(err)
	}

	report := &model.DailyReport{
		AgentID:      agentID,
		Date:         date,
		Transactions: txs,
		Summary:      emptySummary(),
	}
	for _, tx := range txs {
		report.Summary.Add(tx.CollectedAmount, tx.ChangeAmount)
	}

	rec, err := s.store.Get(ctx, agentID, date)
	switch {
	case err == nil:
		report.Reconciliation = rec
	case errors.Is(err, repository.ErrReconciliationNotFound):
	default:
		return nil, model.ErrInternal.Wrap(err)
	}
	return report, nil
}

// RangeExport returns every collection between from and to inclusive, joined with the
// reconciliation of its day.
func (s *ReportService) RangeExport(ctx context.Context, principal model.Principal, from, to string, agentID *int64) (*model.RangeExport, error) {
	if !principal.Can(model.CapabilityReport) {
		return nil, model.ErrForbidden
	}
	start, err := model.ParseDay(from)
	if err != nil {
		return nil, model.ErrInvalidRequest.WithMessage("from must be YYYY-MM-DD")
	}
	end, err := model.ParseDay(to)
	if err != nil {
		return nil, model.ErrInvalidRequest.WithMessage("to must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, model.ErrInvalidRequest.WithMessage("from must not be after to")
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > MaxExportDays {
		return nil, model.ErrInvalidRequest.WithMessage("range spans %d days, at most %d allowed", days, MaxExportDays)
	}

	rows, err := s.ranges.CollectedInRange(ctx, repository.RangeFilter{From: from, To: to, AgentID: agentID})
	if err != nil {
		return nil, model.ErrInternal.Wrap(err)
	}

	export := &model.RangeExport{
		From:    from,
		To:      to,
		AgentID: agentID,
		Rows:    rows,
		Summary: emptySummary(),
	}
	for _, row := range rows {
		export.Summary.Add(row.CollectedAmount, row.ChangeAmount)
	}
	return export, nil
}

func emptySummary() model.ReportSummary {
	return model.ReportSummary{
		TotalCollections: decimal.Zero,
		TotalChange:      decimal.Zero,
		Net:              decimal.Zero,
	}
}

var csvHeader = []string{
	"order_id", "agent_id", "collection_date", "amount", "collected_amount", "change_amount",
	"payment_status", "reconciliation_id", "reconciliation_status", "variance", "discrepancy_flag",
}

// WriteCSV renders an export with one line per collection and a trailing summary line.
func WriteCSV(w io.Writer, export *model.RangeExport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, row := range export.Rows {
		record := []string{
			strconv.FormatInt(row.OrderID, 10),
			strconv.FormatInt(row.AgentID, 10),
			row.CollectionDate,
			row.Amount.StringFixed(2),
			row.CollectedAmount.StringFixed(2),
			row.ChangeAmount.StringFixed(2),
			string(row.PaymentStatus),
			"", "", "",
			strconv.FormatBool(row.DiscrepancyFlag),
		}
		if row.ReconciliationID != nil {
			record[7] = strconv.FormatInt(*row.ReconciliationID, 10)
		}
		if row.ReconciliationStatus != nil {
			record[8] = string(*row.ReconciliationStatus)
		}
		if row.Variance != nil {
			record[9] = row.Variance.StringFixed(2)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	summary := []string{
		"TOTAL", strconv.Itoa(export.Summary.Count), export.From + ".." + export.To, "",
		export.Summary.TotalCollections.StringFixed(2),
		export.Summary.TotalChange.StringFixed(2),
		"net", "", "", export.Summary.Net.StringFixed(2), "",
	}
	if err := cw.Write(summary); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}
