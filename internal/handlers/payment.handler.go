package handlers

import (
	"context"
	"encoding/json"

	"github.com/fasthttp/router"
	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/services"
	"github.com/nimasrn/cod-ledger/internal/validation"
	xhttp "github.com/nimasrn/cod-ledger/pkg/http"
)

type PaymentService interface {
	Register(ctx context.Context, principal model.Principal, req services.RegisterPaymentRequest) (*model.PaymentTransaction, bool, error)
	Get(ctx context.Context, principal model.Principal, orderID int64) (*model.PaymentTransaction, error)
	Verify(ctx context.Context, principal model.Principal, orderID int64) (*model.PaymentTransaction, error)
}

type PaymentHandler struct {
	svc PaymentService
}

func RegisterPaymentRoutes(e *router.Group, h *PaymentHandler, authn xhttp.MiddlewareFunc) {
	e.POST("/cod/payments", authn(h.RegisterPayment))
	e.GET("/cod/payments/{order_id}", authn(h.GetPayment))
	e.POST("/cod/payments/{order_id}/verify", authn(h.VerifyPayment))
}

func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{
		svc: svc,
	}
}

type registerPaymentRequest struct {
	OrderID       json.RawMessage `json:"order_id"`
	Amount        json.RawMessage `json:"amount"`
	PaymentType   string          `json:"payment_type"`
	PaymentMethod string          `json:"payment_method"`
}

func (h *PaymentHandler) RegisterPayment(ctx *xhttp.RequestCtx) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req registerPaymentRequest
	if err := readJSON(ctx, &req); err != nil {
		badRequest(ctx, "invalid JSON body")
		return
	}
	orderID, err := validation.ParseOrderID(rawText(req.OrderID))
	if err != nil {
		badRequest(ctx, err.Error())
		return
	}
	amount, err := validation.ValidateAmount(rawText(req.Amount), false)
	if err != nil {
		writeError(ctx, model.ErrInvalidAmounts.WithMessage("amount: %s", err.Error()))
		return
	}

	payment, created, err := h.svc.Register(ctx, p, services.RegisterPaymentRequest{
		OrderID:       orderID,
		Amount:        amount,
		PaymentType:   model.PaymentType(req.PaymentType),
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	status := xhttp.StatusOK
	if created {
		status = xhttp.StatusCreated
	}
	writeJSON(ctx, status, payment)
}

func (h *PaymentHandler) GetPayment(ctx *xhttp.RequestCtx) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	orderID, err := pathInt64(ctx, "order_id")
	if err != nil || orderID <= 0 {
		badRequest(ctx, validation.ErrInvalidOrderID.Error())
		return
	}
	payment, err := h.svc.Get(ctx, p, orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, payment)
}

func (h *PaymentHandler) VerifyPayment(ctx *xhttp.RequestCtx) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	orderID, err := pathInt64(ctx, "order_id")
	if err != nil || orderID <= 0 {
		badRequest(ctx, validation.ErrInvalidOrderID.Error())
		return
	}
	payment, err := h.svc.Verify(ctx, p, orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, payment)
}
