package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Order lifecycle states as the order service reports them
const (
	StatusPending        = "pending"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
	StatusCancelled      = "cancelled"
)

// OrderResponse is the shape the ledger's order client decodes
type OrderResponse struct {
	ID              int64           `json:"id"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	AssignedAgentID int64           `json:"assigned_agent_id"`
	PaymentMethod   string          `json:"payment_method"`
}

type CompleteRequest struct {
	Note string `json:"note"`
}

type CompleteResponse struct {
	ID           int64     `json:"id"`
	Status       string    `json:"status"`
	CompletionID string    `json:"completion_id"`
	CompletedAt  time.Time `json:"completed_at"`
}

// CreateOrderRequest lets local runs place an order with known values
type CreateOrderRequest struct {
	Total           decimal.Decimal `json:"total"`
	AssignedAgentID int64           `json:"assigned_agent_id" binding:"required"`
	PaymentMethod   string          `json:"payment_method"`
}

type order struct {
	OrderResponse
	notes []string
}

// OrderBook is an in-memory order service used for local runs and load tests
type OrderBook struct {
	mu          sync.Mutex
	orders      map[int64]*order
	nextID      int64
	failureRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	instanceID  string
	rng         *rand.Rand
}

func NewOrderBook(failureRate float64, minDelay, maxDelay time.Duration) *OrderBook {
	return &OrderBook{
		orders:      make(map[int64]*order),
		nextID:      1,
		failureRate: failureRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		instanceID:  "ORDERSIM_" + uuid.New().String()[:8],
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed places n COD orders spread over the given agents, all out for delivery
func (b *OrderBook) Seed(n int, agents int64) {
	for i := 0; i < n; i++ {
		b.mu.Lock()
		cents := 500 + b.rng.Int63n(20000)
		agent := 1 + b.rng.Int63n(agents)
		b.mu.Unlock()
		b.Create(decimal.New(cents, -2), agent, "cod")
	}
}

func (b *OrderBook) Create(total decimal.Decimal, agentID int64, method string) OrderResponse {
	if method == "" {
		method = "cod"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &order{OrderResponse: OrderResponse{
		ID:              b.nextID,
		Total:           total.Round(2),
		Status:          StatusOutForDelivery,
		AssignedAgentID: agentID,
		PaymentMethod:   method,
	}}
	b.orders[o.ID] = o
	b.nextID++
	return o.OrderResponse
}

func (b *OrderBook) Get(id int64) (OrderResponse, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return OrderResponse{}, false
	}
	return o.OrderResponse, true
}

var errNotFound = errors.New("order not found")
var errNotCompletable = errors.New("order cannot be completed")

// Complete moves an order to delivered. Completing twice is accepted.
func (b *OrderBook) Complete(id int64, note string) (OrderResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return OrderResponse{}, errNotFound
	}
	switch o.Status {
	case StatusDelivered:
	case StatusOutForDelivery:
		o.Status = StatusDelivered
	default:
		return OrderResponse{}, errNotCompletable
	}
	if note != "" {
		o.notes = append(o.notes, note)
	}
	return o.OrderResponse, nil
}

func (b *OrderBook) delay() {
	if b.maxDelay <= b.minDelay {
		time.Sleep(b.minDelay)
		return
	}
	b.mu.Lock()
	d := b.minDelay + time.Duration(b.rng.Int63n(int64(b.maxDelay-b.minDelay)))
	b.mu.Unlock()
	time.Sleep(d)
}

func (b *OrderBook) shouldFail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64() < b.failureRate
}

type Handler struct {
	book *OrderBook
}

func NewHandler(book *OrderBook) *Handler {
	return &Handler{book: book}
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	h.book.delay()
	if h.book.shouldFail() {
		log.Warn().Int64("order_id", id).Msg("simulated failure")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order service temporarily unavailable"})
		return
	}
	o, found := h.book.Get(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) CompleteOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	h.book.delay()
	o, err := h.book.Complete(id, req.Note)
	switch {
	case errors.Is(err, errNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	log.Info().Int64("order_id", id).Str("note", req.Note).Msg("order completed")
	c.JSON(http.StatusOK, CompleteResponse{
		ID:           o.ID,
		Status:       o.Status,
		CompletionID: uuid.NewString(),
		CompletedAt:  time.Now().UTC(),
	})
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	if !req.Total.IsPositive() || req.AssignedAgentID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "total and assigned_agent_id must be positive"})
		return
	}
	c.JSON(http.StatusCreated, h.book.Create(req.Total, req.AssignedAgentID, req.PaymentMethod))
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"instance_id": h.book.instanceID,
		"timestamp":   time.Now(),
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", handler.CreateOrder)
		v1.GET("/orders/:id", handler.GetOrder)
		v1.POST("/orders/:id/complete", handler.CompleteOrder)
		v1.GET("/health", handler.HealthCheck)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8090")
	failureRate := getEnvFloat("FAILURE_RATE", 0)
	minDelay := getEnvDuration("MIN_DELAY", 10*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 50*time.Millisecond)
	seed := int(getEnvFloat("SEED_ORDERS", 1000))
	agents := int64(getEnvFloat("SEED_AGENTS", 20))

	log.Info().
		Str("port", port).
		Float64("failure_rate", failureRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Int("seed_orders", seed).
		Msg("Starting order service simulator")

	book := NewOrderBook(failureRate, minDelay, maxDelay)
	book.Seed(seed, agents)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(NewHandler(book)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
