package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gateway "github.com/nimasrn/cod-ledger/internal/gateways"
	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/ratelimit"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/nimasrn/cod-ledger/internal/validation"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/nimasrn/cod-ledger/pkg/prom"
	"github.com/shopspring/decimal"
)

var (
	cent                = decimal.New(1, -2)
	DefaultOverpayLimit = decimal.NewFromInt(100)
)

type OrderClient interface {
	GetOrder(ctx context.Context, orderID int64) (*model.Order, error)
	CompleteOrder(ctx context.Context, orderID int64, note string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, agentID int64) (ratelimit.Decision, error)
}

type Accumulator interface {
	Accumulate(ctx context.Context, agentID int64, date string, collected, change decimal.Decimal) (*model.CashReconciliation, error)
}

type CollectionConfig struct {
	// MaxOverpayment caps how much more than the order total a courier may take.
	MaxOverpayment decimal.Decimal
	// Location decides which calendar day a collection belongs to.
	Location *time.Location
}

// CollectionService records cash handed to a courier at the door.
type CollectionService struct {
	orders     OrderClient
	ledger     PaymentLedger
	aggregator Accumulator
	limiter    RateLimiter
	auditor    Auditor
	metrics    *prom.Registry
	config     CollectionConfig
	now        func() time.Time
}

func NewCollectionService(orders OrderClient, ledger PaymentLedger, aggregator Accumulator, limiter RateLimiter, auditor Auditor, metrics *prom.Registry, config CollectionConfig) *CollectionService {
	if config.MaxOverpayment.IsZero() {
		config.MaxOverpayment = DefaultOverpayLimit
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &CollectionService{
		orders:     orders,
		ledger:     ledger,
		aggregator: aggregator,
		limiter:    limiter,
		auditor:    auditor,
		metrics:    metrics,
		config:     config,
		now:        time.Now,
	}
}

// CalculateChange returns what the courier owes back. It never goes below zero.
func CalculateChange(total, collected decimal.Decimal) model.ChangeResult {
	change := collected.Sub(total).Round(2)
	if change.IsNegative() {
		change = decimal.Zero
	}
	return model.ChangeResult{
		ChangeAmount: change,
		Sufficient:   collected.GreaterThanOrEqual(total),
	}
}

// Collect records a cash collection for one order. A payment leaves pending at most once;
// concurrent or retried requests for the same order get already_collected.
func (s *CollectionService) Collect(ctx context.Context, req model.CollectRequest) (*model.CollectionReceipt, error) {
	receipt, err := s.collect(ctx, req)
	if err != nil {
		e := model.AsError(err)
		s.metrics.CollectionResult(string(e.Code))
		if e.Kind != model.KindRateLimited && e.Kind != model.KindConsistency {
			s.audit(ctx, req, model.AuditCollectionFailed, string(e.Code), e.Message, nil)
		}
		if e.Kind == model.KindInternal {
			logger.Error("collection failed", "agent_id", req.Principal.AgentID, "order_id", req.OrderID, "error", err)
		}
		return nil, e
	}
	s.metrics.CollectionResult("success")
	return receipt, nil
}

func (s *CollectionService) collect(ctx context.Context, req model.CollectRequest) (*model.CollectionReceipt, error) {
	principal := req.Principal
	if !principal.Can(model.CapabilityCollect) {
		return nil, model.ErrForbidden
	}
	if principal.AgentID <= 0 {
		return nil, model.ErrAgentNotFound
	}
	if req.OrderID <= 0 {
		return nil, model.ErrInvalidOrder.WithMessage("order_id must be a positive integer")
	}
	if !req.CollectedAmount.IsPositive() || req.CollectedAmount.GreaterThan(validation.AmountCeiling) {
		return nil, model.ErrInvalidAmounts.WithMessage("collected_amount must be positive and at most %s", validation.AmountCeiling)
	}
	collected := req.CollectedAmount.Round(2)

	if err := s.checkRate(ctx, req); err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, gateway.ErrOrderNotFound) {
			return nil, model.ErrOrderNotFound
		}
		s.audit(ctx, req, model.AuditExternalDependencyError, string(model.CodeOrderService), err.Error(), nil)
		return nil, model.ErrOrderService.Wrap(err)
	}
	if order.AssignedAgentID != principal.AgentID {
		return nil, model.ErrOrderNotAssigned
	}

	payment, err := s.existingPayment(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if payment != nil && payment.Status.Settled() {
		return nil, model.ErrAlreadyCollected
	}
	if !validation.IsCollectible(order.Status) {
		return nil, model.ErrInvalidOrder.WithMessage("order status %q does not allow collection", order.Status)
	}
	if payment == nil {
		if payment, err = s.registerPending(ctx, order); err != nil {
			return nil, err
		}
	}
	if payment.PaymentType != model.PaymentTypeCOD {
		return nil, model.ErrPaymentTypeMismatch
	}

	total := payment.Amount
	change := CalculateChange(total, collected)
	if req.ChangeAmount != nil && req.ChangeAmount.Sub(change.ChangeAmount).Abs().GreaterThan(cent) {
		return nil, model.ErrInvalidAmounts.WithMessage("change_amount %s does not match computed change %s", req.ChangeAmount.StringFixed(2), change.ChangeAmount.StringFixed(2))
	}
	if !change.Sufficient {
		return nil, model.ErrInsufficientPayment.WithMessage("collected %s is less than order total %s", collected.StringFixed(2), total.StringFixed(2))
	}
	if collected.Sub(total).GreaterThan(s.config.MaxOverpayment) {
		return nil, model.ErrInvalidAmounts.WithMessage("collected %s exceeds order total %s by more than %s", collected.StringFixed(2), total.StringFixed(2), s.config.MaxOverpayment.StringFixed(2))
	}

	now := s.now().UTC()
	date := model.Day(now, s.config.Location)
	collectionID := uuid.NewString()
	clientTS := req.ClientTimestamp

	claimed, err := s.ledger.MarkCollected(ctx, req.OrderID, model.CollectionUpdate{
		AgentID:         principal.AgentID,
		CollectedAmount: collected,
		ChangeAmount:    change.ChangeAmount,
		CollectedAt:     now,
		CollectionDate:  date,
		CollectionID:    collectionID,
		Notes:           req.Notes,
		Metadata: model.CollectionMetadata{
			ClientTimestamp: &clientTS,
			ClientOrigin:    req.ClientOrigin,
			SessionRef:      principal.SessionRef,
		},
	})
	if err != nil {
		return nil, model.ErrInternal.Wrap(fmt.Errorf("mark collected: %w", err))
	}
	if !claimed {
		return nil, model.ErrAlreadyCollected
	}

	receipt := &model.CollectionReceipt{
		OrderID:         req.OrderID,
		CollectedAmount: collected,
		ChangeAmount:    change.ChangeAmount,
		OrderTotal:      total,
		CollectionID:    collectionID,
		OrderCompleted:  true,
	}

	note := fmt.Sprintf("COD collected: %s, change: %s", collected.StringFixed(2), change.ChangeAmount.StringFixed(2))
	if err := s.orders.CompleteOrder(ctx, req.OrderID, note); err != nil {
		// the money is already in the courier's hands; the collection stands
		receipt.OrderCompleted = false
		logger.Warn("order completion failed after collection", "order_id", req.OrderID, "agent_id", principal.AgentID, "error", err)
		s.audit(ctx, req, model.AuditExternalDependencyError, string(model.CodeOrderService), err.Error(), &collected)
	}

	if _, err := s.aggregator.Accumulate(ctx, principal.AgentID, date, collected, change.ChangeAmount); err != nil {
		logger.Error("daily total update failed after collection",
			"order_id", req.OrderID,
			"agent_id", principal.AgentID,
			"date", date,
			"collected", collected.StringFixed(2),
			"change", change.ChangeAmount.StringFixed(2),
			"error", err)
		s.metrics.ConsistencyError()
		s.audit(ctx, req, model.AuditConsistencyError, string(model.CodeConsistency), err.Error(), &collected)
		return nil, model.ErrConsistency.Wrap(err)
	}

	s.audit(ctx, req, model.AuditCollectionSucceeded, "", collectionID, &collected)
	logger.Info("payment collected",
		"order_id", req.OrderID,
		"agent_id", principal.AgentID,
		"collected", collected.StringFixed(2),
		"change", change.ChangeAmount.StringFixed(2),
		"collection_id", collectionID)
	return receipt, nil
}

// checkRate applies the per-courier window. An unreachable limiter lets the attempt through;
// the ledger claim still stops duplicates.
func (s *CollectionService) checkRate(ctx context.Context, req model.CollectRequest) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, req.Principal.AgentID)
	if err != nil {
		logger.Warn("rate limiter unavailable, allowing attempt", "agent_id", req.Principal.AgentID, "error", err)
		return nil
	}
	if decision.Allowed {
		return nil
	}

	s.metrics.RateLimited()
	retry := decision.RetryAfter.Round(time.Second)
	s.audit(ctx, req, model.AuditRateLimited, string(model.CodeRateLimited), fmt.Sprintf("%d attempts in window, retry after %s", decision.Count, retry), nil)
	return model.ErrRateLimited.WithMessage("too many collection attempts, retry after %s", retry)
}

func (s *CollectionService) existingPayment(ctx context.Context, orderID int64) (*model.PaymentTransaction, error) {
	payment, err := s.ledger.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, nil
		}
		return nil, model.ErrInternal.Wrap(fmt.Errorf("load payment: %w", err))
	}
	return payment, nil
}

// registerPending creates the pending ledger row from the order. A row registered
// concurrently is returned as is.
func (s *CollectionService) registerPending(ctx context.Context, order *model.Order) (*model.PaymentTransaction, error) {
	paymentType := model.PaymentTypeOnline
	if model.PaymentType(order.PaymentMethod) == model.PaymentTypeCOD {
		paymentType = model.PaymentTypeCOD
	}
	payment, _, err := s.ledger.Register(ctx, &model.PaymentTransaction{
		OrderID:       order.ID,
		PaymentType:   paymentType,
		PaymentMethod: order.PaymentMethod,
		Amount:        order.Total.Round(2),
		Status:        model.PaymentStatusPending,
	})
	if err != nil {
		return nil, model.ErrInternal.Wrap(fmt.Errorf("register payment: %w", err))
	}
	return payment, nil
}

func (s *CollectionService) audit(ctx context.Context, req model.CollectRequest, t model.AuditType, code, message string, amount *decimal.Decimal) {
	if s.auditor == nil {
		return
	}
	event := model.AuditEvent{
		Type:    t,
		Code:    code,
		Message: message,
		Amount:  amount,
		Origin:  req.ClientOrigin,
	}
	if req.Principal.AgentID > 0 {
		agentID := req.Principal.AgentID
		event.AgentID = &agentID
	}
	if req.OrderID > 0 {
		orderID := req.OrderID
		event.OrderID = &orderID
	}
	s.auditor.Record(ctx, event)
}
