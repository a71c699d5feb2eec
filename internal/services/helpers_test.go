package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gateway "github.com/nimasrn/cod-ledger/internal/gateways"
	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/processor"
	"github.com/nimasrn/cod-ledger/internal/queue"
	"github.com/nimasrn/cod-ledger/internal/ratelimit"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/nimasrn/cod-ledger/pkg/redis"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDate = "2025-03-14"

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func courier(agentID int64) model.Principal {
	return model.Principal{AgentID: agentID, Capabilities: []string{model.CapabilityCollect}, SessionRef: "sess-ref"}
}

func admin() model.Principal {
	return model.Principal{AgentID: 900, Capabilities: []string{model.CapabilityReview, model.CapabilityReport, model.CapabilityLedger}}
}

type MockOrderClient struct {
	mock.Mock
}

func (m *MockOrderClient) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderClient) CompleteOrder(ctx context.Context, orderID int64, note string) error {
	args := m.Called(ctx, orderID, note)
	return args.Error(0)
}

func gatewayNotFound() error {
	return fmt.Errorf("get order: %w", gateway.ErrOrderNotFound)
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, event model.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAuditor) count(t model.AuditType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (a *recordingAuditor) last(t model.AuditType) *model.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.events) - 1; i >= 0; i-- {
		if a.events[i].Type == t {
			e := a.events[i]
			return &e
		}
	}
	return nil
}

type fixture struct {
	orders        *MockOrderClient
	payments      *repository.PaymentRepository
	recs          *repository.ReconciliationRepository
	reports       *repository.ReportRepository
	auditor       *recordingAuditor
	notifications *queue.Queue
	guard         *processor.IdempotencyService
	aggregator    *Aggregator
	collector     *CollectionService
	reviewer      *Reviewer
	mr            *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := repository.NewTestDB(t)
	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter("test", "test:", &redis.Options{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)

	notifications, err := queue.NewQueue(context.Background(), adapter, queue.QueueConfig{
		Name:          "notifications",
		ConsumerGroup: "dispatchers",
		ConsumerName:  "test",
		MaxRetries:    3,
		BatchSize:     10,
	})
	require.NoError(t, err)

	f := &fixture{
		orders:        new(MockOrderClient),
		payments:      repository.NewPaymentRepository(db),
		recs:          repository.NewReconciliationRepository(db),
		reports:       repository.NewReportRepository(db),
		auditor:       &recordingAuditor{},
		notifications: notifications,
		guard:         processor.NewIdempotencyService(adapter, processor.DefaultIdempotencyConfig()),
		mr:            mr,
	}

	f.reviewer = NewReviewer(f.recs, f.auditor, nil, DefaultReviewPolicy())
	f.reviewer.now = func() time.Time { return testNow }
	f.reviewer.sleep = func(context.Context, time.Duration) error { return nil }

	f.aggregator = NewAggregator(f.recs, f.payments, f.guard, notifications, f.auditor).WithReevaluator(f.reviewer)
	f.aggregator.now = func() time.Time { return testNow }

	limiter := ratelimit.NewSlidingWindow(adapter, ratelimit.DefaultConfig()).WithClock(func() time.Time { return testNow })
	f.collector = NewCollectionService(f.orders, f.payments, f.aggregator, limiter, f.auditor, nil, CollectionConfig{})
	f.collector.now = func() time.Time { return testNow }

	return f
}

// givenOrder makes the order service answer for a COD order assigned to agentID.
func (f *fixture) givenOrder(orderID, agentID int64, total string) {
	f.orders.On("GetOrder", mock.Anything, orderID).Return(&model.Order{
		ID:              orderID,
		Total:           d(total),
		Status:          "out_for_delivery",
		AssignedAgentID: agentID,
		PaymentMethod:   "cod",
	}, nil)
	f.orders.On("CompleteOrder", mock.Anything, orderID, mock.Anything).Return(nil).Maybe()
}

func (f *fixture) collect(t *testing.T, agentID, orderID int64, amount string) *model.CollectionReceipt {
	t.Helper()
	receipt, err := f.collector.Collect(context.Background(), collectRequest(agentID, orderID, amount))
	require.NoError(t, err)
	return receipt
}

func collectRequest(agentID, orderID int64, amount string) model.CollectRequest {
	return model.CollectRequest{
		Principal:       courier(agentID),
		OrderID:         orderID,
		CollectedAmount: d(amount),
		ClientTimestamp: testNow.Add(-time.Minute),
		ClientOrigin:    "10.0.0.7",
	}
}
