package services

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/nimasrn/cod-ledger/internal/validation"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

type PaymentLedger interface {
	Register(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, bool, error)
	GetByOrderID(ctx context.Context, orderID int64) (*model.PaymentTransaction, error)
	MarkCollected(ctx context.Context, orderID int64, u model.CollectionUpdate) (bool, error)
	MarkVerified(ctx context.Context, orderID int64, at time.Time) (bool, error)
	MarkReconciled(ctx context.Context, agentID int64, date string, at time.Time) (int64, error)
	ListCollected(ctx context.Context, agentID int64, date string) ([]*model.PaymentTransaction, error)
}

type RegisterPaymentRequest struct {
	OrderID       int64
	Amount        decimal.Decimal
	PaymentType   model.PaymentType
	PaymentMethod string
}

// PaymentService exposes the ledger to the order domain and administrators.
type PaymentService struct {
	ledger PaymentLedger
	now    func() time.Time
}

func NewPaymentService(ledger PaymentLedger) *PaymentService {
	return &PaymentService{
		ledger: ledger,
		now:    time.Now,
	}
}

// Register creates the pending ledger row of an order. Registering the same order again
// returns the stored row unchanged.
func (s *PaymentService) Register(ctx context.Context, principal model.Principal, req RegisterPaymentRequest) (*model.PaymentTransaction, bool, error) {
	if !principal.Can(model.CapabilityLedger) {
		return nil, false, model.ErrForbidden
	}
	if req.OrderID <= 0 {
		return nil, false, model.ErrInvalidRequest.WithMessage("order_id must be a positive integer")
	}
	if !req.PaymentType.Valid() {
		return nil, false, model.ErrInvalidRequest.WithMessage("payment_type must be cod or online")
	}
	if !req.Amount.IsPositive() || req.Amount.GreaterThan(validation.AmountCeiling) {
		return nil, false, model.ErrInvalidAmounts.WithMessage("amount must be positive and at most %s", validation.AmountCeiling)
	}

	p, created, err := s.ledger.Register(ctx, &model.PaymentTransaction{
		OrderID:       req.OrderID,
		PaymentType:   req.PaymentType,
		PaymentMethod: req.PaymentMethod,
		Amount:        req.Amount.Round(2),
		Status:        model.PaymentStatusPending,
	})
	if err != nil {
		return nil, false, model.ErrInternal.Wrap(err)
	}
	if created {
		logger.Info("payment registered", "order_id", p.OrderID, "amount", p.Amount.StringFixed(2), "payment_type", p.PaymentType)
	}
	return p, created, nil
}

// Get returns the ledger row of an order. Couriers may only read their own collections.
func (s *PaymentService) Get(ctx context.Context, principal model.Principal, orderID int64) (*model.PaymentTransaction, error) {
	p, err := s.ledger.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, model.ErrPaymentNotFound
		}
		return nil, model.ErrInternal.Wrap(err)
	}

	switch {
	case principal.Can(model.CapabilityLedger), principal.Can(model.CapabilityReview), principal.Can(model.CapabilityReport):
		return p, nil
	case principal.Can(model.CapabilityCollect) && p.AgentID != nil && *p.AgentID == principal.AgentID:
		return p, nil
	}
	return nil, model.ErrForbidden
}

// Verify moves a collected payment to verified.
func (s *PaymentService) Verify(ctx context.Context, principal model.Principal, orderID int64) (*model.PaymentTransaction, error) {
	if !principal.Can(model.CapabilityReview) {
		return nil, model.ErrForbidden
	}

	ok, err := s.ledger.MarkVerified(ctx, orderID, s.now().UTC())
	if err != nil {
		return nil, model.ErrInternal.Wrap(err)
	}

	p, err := s.ledger.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, model.ErrPaymentNotFound
		}
		return nil, model.ErrInternal.Wrap(err)
	}
	if !ok {
		return nil, model.ErrInvalidTransition.WithMessage("payment is %s, only collected payments can be verified", p.Status)
	}

	logger.Info("payment verified", "order_id", orderID, "reviewer", principal.AgentID)
	return p, nil
}
