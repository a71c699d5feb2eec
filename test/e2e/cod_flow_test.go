package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nimasrn/cod-ledger/internal/audit"
	"github.com/nimasrn/cod-ledger/internal/auth"
	"github.com/nimasrn/cod-ledger/internal/handlers"
	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/processor"
	"github.com/nimasrn/cod-ledger/internal/queue"
	"github.com/nimasrn/cod-ledger/internal/ratelimit"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/nimasrn/cod-ledger/internal/services"
	xhttp "github.com/nimasrn/cod-ledger/pkg/http"
	"github.com/nimasrn/cod-ledger/pkg/redis"
	"github.com/nimasrn/cod-ledger/test/fixtures"
	"github.com/nimasrn/cod-ledger/test/helpers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestEnvironment struct {
	API        *helpers.APIClient
	Orders     *helpers.OrderService
	AuditQueue *queue.Queue
	AuditRepo  *repository.AuditRepository
	Payments   *repository.PaymentRepository
	Aggregator *services.Aggregator
	Redis      redis.RedisAdapter
	authn      *auth.Authenticator
}

func setupE2EEnvironment(t *testing.T, orders ...fixtures.Order) *TestEnvironment {
	t.Helper()
	ctx := context.Background()

	db := repository.NewTestDB(t)
	_, adapter := helpers.SetupTestRedis(t)
	orderClient, orderSvc := helpers.StartOrderService(t, orders...)

	auditQ, err := queue.NewQueue(ctx, adapter, queue.QueueConfig{
		Name:          "audit",
		ConsumerGroup: "audit-writers",
		ConsumerName:  "e2e",
		MaxRetries:    3,
		BatchSize:     50,
		MaxLen:        1000,
		EnableDLQ:     true,
	})
	require.NoError(t, err)
	notifyQ, err := queue.NewQueue(ctx, adapter, queue.QueueConfig{
		Name:          "notifications",
		ConsumerGroup: "dispatchers",
		ConsumerName:  "e2e",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = auditQ.Stop(time.Second)
		_ = notifyQ.Stop(time.Second)
	})

	paymentRepo := repository.NewPaymentRepository(db)
	reconRepo := repository.NewReconciliationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	recorder := audit.NewRecorder(auditQ, auditRepo, nil)
	limiter := ratelimit.NewSlidingWindow(adapter, ratelimit.Config{Limit: 10, Window: time.Hour})
	guard := processor.NewIdempotencyService(adapter, processor.DefaultIdempotencyConfig())

	reviewer := services.NewReviewer(reconRepo, recorder, nil, services.DefaultReviewPolicy())
	aggregator := services.NewAggregator(reconRepo, paymentRepo, guard, notifyQ, recorder).WithReevaluator(reviewer)
	collector := services.NewCollectionService(orderClient, paymentRepo, aggregator, limiter, recorder, nil, services.CollectionConfig{
		MaxOverpayment: decimal.NewFromInt(100),
		Location:       time.UTC,
	})
	reports := services.NewReportService(paymentRepo, reconRepo, repository.NewReportRepository(db))
	health := services.NewHealthService(time.Second, map[string]services.Pinger{
		"postgres": db,
		"redis":    adapter,
		"orders":   orderClient,
	})

	authn, err := auth.NewAuthenticator("e2e-secret-0123456789", "cod-ledger")
	require.NoError(t, err)

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()
	g := s.Router.Group("/api/v1")
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(health))
	handlers.RegisterCodRoutes(g, handlers.NewCodHandler(collector, reviewer, reports, time.UTC), auth.Middleware(authn))
	handlers.RegisterPaymentRoutes(g, handlers.NewPaymentHandler(services.NewPaymentService(paymentRepo)), auth.Middleware(authn))

	return &TestEnvironment{
		API:        helpers.ServeAPI(t, s.Handler()),
		Orders:     orderSvc,
		AuditQueue: auditQ,
		AuditRepo:  auditRepo,
		Payments:   paymentRepo,
		Aggregator: aggregator,
		Redis:      adapter,
		authn:      authn,
	}
}

func (env *TestEnvironment) token(t *testing.T, agentID int64, caps ...string) string {
	t.Helper()
	tok, err := env.authn.Issue(agentID, caps, time.Hour)
	require.NoError(t, err)
	return tok
}

// drainAudit moves every published audit event into the table the way the processor does.
func (env *TestEnvironment) drainAudit(t *testing.T) {
	t.Helper()
	p := processor.NewAuditProcessor(audit.NewRecorder(nil, env.AuditRepo, nil),
		processor.NewIdempotencyService(env.Redis, processor.DefaultIdempotencyConfig()))
	for i := 0; i < 10; i++ {
		n, err := env.AuditQueue.Poll(context.Background(), p.Process)
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}

type errorResponse struct {
	Error struct {
		Code string `json:"code"`
		Kind string `json:"kind"`
	} `json:"error"`
}

func collectBody(orderID int64, collected string) map[string]any {
	return map[string]any{
		"order_id":         orderID,
		"collected_amount": collected,
	}
}

func TestE2E_CourierDay(t *testing.T) {
	env := setupE2EEnvironment(t, fixtures.DayOfTwoOrders()...)
	courier := env.token(t, fixtures.CourierOne, model.CapabilityCollect)
	today := model.Day(time.Now(), time.UTC)

	var receipt model.CollectionReceipt
	status := env.API.Do(t, "POST", "/api/v1/cod/collect", courier, collectBody(1001, "20"), &receipt)
	require.Equal(t, 200, status)
	assert.Equal(t, "1.5", receipt.ChangeAmount.String())
	assert.True(t, receipt.OrderCompleted)
	assert.NotEmpty(t, receipt.CollectionID)
	assert.Equal(t, []string{"COD collected: 20.00, change: 1.50"}, env.Orders.Completions(1001))

	status = env.API.Do(t, "POST", "/api/v1/cod/collect", courier, collectBody(1002, "35.00"), &receipt)
	require.Equal(t, 200, status)

	var errResp errorResponse
	status = env.API.Do(t, "POST", "/api/v1/cod/collect", courier, collectBody(1002, "35.00"), &errResp)
	assert.Equal(t, 409, status)
	assert.Equal(t, string(model.CodeAlreadyCollected), errResp.Error.Code)

	var report model.DailyReport
	status = env.API.Do(t, "GET", "/api/v1/cod/reports/daily", courier, nil, &report)
	require.Equal(t, 200, status)
	assert.Equal(t, today, report.Date)
	assert.Equal(t, 2, report.Summary.Count)
	assert.Equal(t, "55", report.Summary.TotalCollections.String())
	assert.Equal(t, "6.5", report.Summary.TotalChange.String())
	require.NotNil(t, report.Reconciliation)
	assert.Equal(t, "48.5", report.Reconciliation.ClosingBalance.String())

	var rec model.CashReconciliation
	status = env.API.Do(t, "POST", "/api/v1/cod/reconciliations/submit", courier, map[string]any{
		"date":             today,
		"submitted_amount": "48.00",
		"notes":            "short fifty cents",
	}, &rec)
	require.Equal(t, 200, status)
	assert.Equal(t, model.ReconciliationApproved, rec.Status)
	require.NotNil(t, rec.Variance)
	assert.Equal(t, "-0.5", rec.Variance.String())
	assert.False(t, rec.DiscrepancyFlag)

	env.drainAudit(t)
	succeeded := model.AuditCollectionSucceeded
	events, err := env.AuditRepo.List(context.Background(), repository.AuditFilter{Type: &succeeded})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	failed := model.AuditCollectionFailed
	events, err = env.AuditRepo.List(context.Background(), repository.AuditFilter{Type: &failed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(model.CodeAlreadyCollected), events[0].Code)
}

func TestE2E_FlaggedDayNeedsReview(t *testing.T) {
	env := setupE2EEnvironment(t, fixtures.ShortDay()...)
	courier := env.token(t, fixtures.CourierTwo, model.CapabilityCollect)
	admin := env.token(t, fixtures.Admin, model.CapabilityReview, model.CapabilityReport)
	today := model.Day(time.Now(), time.UTC)

	require.Equal(t, 200, env.API.Do(t, "POST", "/api/v1/cod/collect", courier, collectBody(2001, "100"), nil))

	var rec model.CashReconciliation
	status := env.API.Do(t, "POST", "/api/v1/cod/reconciliations/submit", courier, map[string]any{
		"date":             today,
		"submitted_amount": "25.00",
	}, &rec)
	require.Equal(t, 200, status)
	assert.Equal(t, model.ReconciliationPendingReview, rec.Status)
	assert.True(t, rec.DiscrepancyFlag)

	// couriers cannot review
	var errResp errorResponse
	status = env.API.Do(t, "POST", fmt.Sprintf("/api/v1/cod/reconciliations/%d/review", rec.ID), courier, map[string]any{
		"decision": "approve",
	}, &errResp)
	assert.Equal(t, 403, status)
	assert.Equal(t, string(model.CodeForbidden), errResp.Error.Code)

	var reviewed model.CashReconciliation
	status = env.API.Do(t, "POST", fmt.Sprintf("/api/v1/cod/reconciliations/%d/review", rec.ID), admin, map[string]any{
		"decision":    "approve",
		"admin_notes": "cash found in van",
	}, &reviewed)
	require.Equal(t, 200, status)
	assert.Equal(t, model.ReconciliationApproved, reviewed.Status)
	assert.True(t, reviewed.DiscrepancyFlag)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, fixtures.Admin, *reviewed.ReviewedBy)

	res, err := env.Aggregator.Sweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ReconciledPayments)

	p, err := env.Payments.GetByOrderID(context.Background(), 2001)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusReconciled, p.Status)
}

func TestE2E_RejectsUnauthenticatedAndUnknownOrders(t *testing.T) {
	env := setupE2EEnvironment(t, fixtures.DayOfTwoOrders()...)

	var errResp errorResponse
	status := env.API.Do(t, "POST", "/api/v1/cod/collect", "", collectBody(1001, "20"), &errResp)
	assert.Equal(t, 401, status)
	assert.Equal(t, string(model.CodeUnauthenticated), errResp.Error.Code)

	courier := env.token(t, fixtures.CourierOne, model.CapabilityCollect)
	status = env.API.Do(t, "POST", "/api/v1/cod/collect", courier, collectBody(4040, "20"), &errResp)
	assert.Equal(t, 404, status)
	assert.Equal(t, string(model.CodeOrderNotFound), errResp.Error.Code)

	other := env.token(t, fixtures.CourierTwo, model.CapabilityCollect)
	status = env.API.Do(t, "POST", "/api/v1/cod/collect", other, collectBody(1001, "20"), &errResp)
	assert.Equal(t, 403, status)
	assert.Equal(t, string(model.CodeOrderNotAssigned), errResp.Error.Code)

	var health struct {
		Status string `json:"status"`
	}
	assert.Equal(t, 200, env.API.Do(t, "GET", "/api/v1/health", "", nil, &health))
	assert.Equal(t, "ok", health.Status)
}
