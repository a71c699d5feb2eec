package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/services"
	"github.com/nimasrn/cod-ledger/internal/validation"
	xhttp "github.com/nimasrn/cod-ledger/pkg/http"
	"github.com/shopspring/decimal"
)

type CollectionService interface {
	Collect(ctx context.Context, req model.CollectRequest) (*model.CollectionReceipt, error)
}

type ReconciliationService interface {
	Submit(ctx context.Context, principal model.Principal, date string, submitted decimal.Decimal, notes string) (*model.CashReconciliation, error)
	Review(ctx context.Context, principal model.Principal, id int64, decision model.ReviewDecision, adminNotes string) (*model.CashReconciliation, error)
}

type ReportService interface {
	DailyReport(ctx context.Context, principal model.Principal, agentID int64, date string) (*model.DailyReport, error)
	RangeExport(ctx context.Context, principal model.Principal, from, to string, agentID *int64) (*model.RangeExport, error)
}

type CodHandler struct {
	collector  CollectionService
	reconciler ReconciliationService
	reports    ReportService
	loc        *time.Location
	now        func() time.Time
}

// RegisterCodRoutes mounts the cash-on-delivery routes behind authn.
func RegisterCodRoutes(e *router.Group, h *CodHandler, authn xhttp.MiddlewareFunc) {
	e.POST("/cod/collect", authn(h.Collect))
	e.POST("/cod/change", authn(h.CalculateChange))
	e.GET("/cod/reports/daily", authn(h.DailyReport))
	e.GET("/cod/reports/export", authn(h.ExportRange))
	e.POST("/cod/reconciliations/submit", authn(h.SubmitReconciliation))
	e.POST("/cod/reconciliations/{id}/review", authn(h.ReviewReconciliation))
}

func NewCodHandler(collector CollectionService, reconciler ReconciliationService, reports ReportService, loc *time.Location) *CodHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &CodHandler{
		collector:  collector,
		reconciler: reconciler,
		reports:    reports,
		loc:        loc,
		now:        time.Now,
	}
}

type collectRequest struct {
	OrderID         json.RawMessage `json:"order_id"`
	CollectedAmount json.RawMessage `json:"collected_amount"`
	ChangeAmount    json.RawMessage `json:"change_amount"`
	Notes           string          `json:"notes"`
	ClientTimestamp json.RawMessage `json:"client_timestamp"`
}

type changeRequest struct {
	OrderTotal      json.RawMessage `json:"order_total"`
	CollectedAmount json.RawMessage `json:"collected_amount"`
}

type submitRequest struct {
	Date            string          `json:"date"`
	SubmittedAmount json.RawMessage `json:"submitted_amount"`
	Notes           string          `json:"notes"`
}

type reviewRequest struct {
	Decision   string `json:"decision"`
	AdminNotes string `json:"admin_notes"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *CodHandler) Collect(ctx *xhttp.RequestCtx) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req collectRequest
	if err := readJSON(ctx, &req); err != nil {
		badRequest(ctx, "invalid JSON body")
		return
	}

	orderID, err := validation.ParseOrderID(rawText(req.OrderID))
	if err != nil {
		writeError(ctx, model.ErrInvalidOrder.WithMessage("%s", err.Error()))
		return
	}
	collected, err := validation.ValidateAmount(rawText(req.CollectedAmount), false)
	if err != nil {
		writeError(ctx, model.ErrInvalidAmounts.WithMessage("collected_amount: %s", err.Error()))
		return
	}
	in := model.CollectRequest{
		Principal:       p,
		OrderID:         orderID,
		CollectedAmount: collected,
		Notes:           validation.SanitizeNotes(req.Notes),
		ClientTimestamp: validation.ValidateTimestamp(rawText(req.ClientTimestamp), h.now().UTC()),
		ClientOrigin:    ctx.RemoteIP().String(),
	}
	if raw := rawText(req.ChangeAmount); raw != "" {
		change, err := validation.ValidateAmount(raw, true)
		if err != nil {
			writeError(ctx, model.ErrInvalidAmounts.WithMessage("change_amount: %s", err.Error()))
			return
		}
		in.ChangeAmount = &change
	}

	receipt, err := h.collector.Collect(ctx, in)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, receipt)
}

func (h *CodHandler) CalculateChange(ctx *xhttp.RequestCtx) {
	if _, ok := principal(ctx); !ok {
		return
	}
	var req changeRequest
	if err := readJSON(ctx, &req); err != nil {
		badRequest(ctx, "invalid JSON body")
		return
	}
	total, err := validation.ValidateAmount(rawText(req.OrderTotal), false)
	if err != nil {
		writeError(ctx, model.ErrInvalidAmounts.WithMessage("order_total: %s", err.Error()))
		return
	}
	collected, err := validation.ValidateAmount(rawText(req.CollectedAmount), true)
	if err != nil {
		writeError(ctx, model.ErrInvalidAmounts.WithMessage("collected_amount: %s", err.Error()))
		return
	}
	writeJSON(ctx, xhttp.StatusOK, services.CalculateChange(total, collected))
}

func (h *CodHandler) DailyReport(ctx *xhttp.RequestCtx) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	agentID := p.AgentID
	if v := query(ctx, "agent_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			badRequest(ctx, "agent_id must be a positive integer")
			return
		}
		agentID = id
	}
	date, ok := h.dateParam(ctx, query(ctx, "date"))
	if !ok {
		return
	}

	report, err := h.reports.DailyReport(ctx, p, agentID, date)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, report)
}

func (h *CodHandler) ExportRange(ctx *xhttp.RequestCtx) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	from, err := validation.ParseDate(query(ctx, "from"))
	if err != nil {
		badRequest(ctx, "from: "+err.Error())
		return
	}
	to, err := validation.ParseDate(query(ctx, "to"))
	if err != nil {
		badRequest(ctx, "to: "+err.Error())
		return
	}
	var agentID *int64
	if v := query(ctx, "agent_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			badRequest(ctx, "agent_id must be a positive integer")
			return
		}
		agentID = &id
	}

	export, err := h.reports.RangeExport(ctx, p, from, to, agentID)
	if err != nil {
		writeError(ctx, err)
		return
	}

	if query(ctx, "format") != "csv" {
		writeJSON(ctx, xhttp.StatusOK, export)
		return
	}
	ctx.Response.Header.Set("Content-Type", "text/csv; charset=utf-8")
	ctx.Response.Header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="cod-%s-%s.csv"`, from, to))
	ctx.Response.SetStatusCode(xhttp.StatusOK)
	if err := services.WriteCSV(ctx, export); err != nil {
		ctx.Response.ResetBody()
		writeError(ctx, model.ErrInternal.Wrap(err))
	}
}

func (h *CodHandler) SubmitReconciliation(ctx *xhttp.RequestCtx) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req submitRequest
	if err := readJSON(ctx, &req); err != nil {
		badRequest(ctx, "invalid JSON body")
		return
	}
	date, ok := h.dateParam(ctx, req.Date)
	if !ok {
		return
	}
	submitted, err := validation.ValidateCashCount(rawText(req.SubmittedAmount))
	if err != nil {
		writeError(ctx, model.ErrInvalidAmounts.WithMessage("submitted_amount: %s", err.Error()))
		return
	}

	rec, err := h.reconciler.Submit(ctx, p, date, submitted, validation.SanitizeNotes(req.Notes))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, rec)
}

func (h *CodHandler) ReviewReconciliation(ctx *xhttp.RequestCtx) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	id, err := pathInt64(ctx, "id")
	if err != nil || id <= 0 {
		badRequest(ctx, "reconciliation id must be a positive integer")
		return
	}
	var req reviewRequest
	if err := readJSON(ctx, &req); err != nil {
		badRequest(ctx, "invalid JSON body")
		return
	}

	rec, err := h.reconciler.Review(ctx, p, id, model.ReviewDecision(req.Decision), validation.SanitizeNotes(req.AdminNotes))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, rec)
}

// dateParam defaults an empty date to today in the ledger timezone.
func (h *CodHandler) dateParam(ctx *xhttp.RequestCtx, raw string) (string, bool) {
	if raw == "" {
		return model.Day(h.now(), h.loc), true
	}
	date, err := validation.ParseDate(raw)
	if err != nil {
		badRequest(ctx, "date: "+err.Error())
		return "", false
	}
	return date, true
}
