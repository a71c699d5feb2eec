package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableEndpoints = errors.New("no available order service endpoints")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderRejected        = errors.New("order service rejected the request")
)

type EndpointMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
}

func (m *EndpointMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)
}

func (m *EndpointMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
}

func (m *EndpointMetrics) AvgLatencyMs() int64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / total
}

func (m *EndpointMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

type EndpointState int32

const (
	StateHealthy EndpointState = iota
	StateUnhealthy
	StateCircuitOpen
)

func (s EndpointState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Endpoint is one base URL of the order service.
type Endpoint struct {
	url              string
	metrics          *EndpointMetrics
	state            atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewEndpoint(url string) *Endpoint {
	e := &Endpoint{url: url, metrics: &EndpointMetrics{}}
	e.state.Store(int32(StateHealthy))
	return e
}

func (e *Endpoint) State() EndpointState {
	return EndpointState(e.state.Load())
}

func (e *Endpoint) SetState(state EndpointState) {
	e.state.Store(int32(state))
}

func (e *Endpoint) IsAvailable(now time.Time) bool {
	switch e.State() {
	case StateCircuitOpen:
		// half-open: let traffic through again once the timeout passed
		if now.UnixMilli() > e.circuitOpenUntil.Load() {
			e.SetState(StateHealthy)
			return true
		}
		return false
	case StateUnhealthy:
		return false
	}
	return true
}

// Score ranks available endpoints; higher is better.
func (e *Endpoint) Score() float64 {
	latencyScore := 100.0
	if avg := e.metrics.AvgLatencyMs(); avg > 0 {
		latencyScore = 100.0 * (1.0 - float64(avg)/5000.0)
		if latencyScore < 0 {
			latencyScore = 0
		}
	}
	penalty := 1.0 - float64(e.metrics.ConsecutiveFails.Load())*0.1
	if penalty < 0.1 {
		penalty = 0.1
	}
	return (e.metrics.SuccessRate()*100*0.6 + latencyScore*0.4) * penalty
}

type Config struct {
	URLs                    []string
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	// Dial overrides how connections are opened; tests use an in-memory listener.
	Dial fasthttp.DialFunc
}

func DefaultConfig(urls ...string) *Config {
	return &Config{
		URLs:                    urls,
		Timeout:                 3 * time.Second,
		MaxRetries:              2,
		RetryDelay:              100 * time.Millisecond,
		MaxConns:                512,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// OrderClient talks to the order service: order lookup and completion.
type OrderClient struct {
	config    *Config
	http      *fasthttp.Client
	endpoints []*Endpoint
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewOrderClient(config *Config) (*OrderClient, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.URLs) == 0 {
		return nil, errors.New("at least one order service url is required")
	}

	c := &OrderClient{
		config: config,
		http: &fasthttp.Client{
			Name:                "cod-ledger",
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			Dial:                config.Dial,
		},
		stopCh: make(chan struct{}),
	}
	for _, u := range config.URLs {
		c.endpoints = append(c.endpoints, NewEndpoint(u))
		logger.Info("order service endpoint registered", "url", u)
	}

	if config.HealthCheckInterval > 0 {
		c.wg.Add(1)
		go c.healthChecker()
	}
	return c, nil
}

type orderPayload struct {
	ID              int64           `json:"id"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	AssignedAgentID int64           `json:"assigned_agent_id"`
	PaymentMethod   string          `json:"payment_method"`
}

type completePayload struct {
	Note string `json:"note"`
}

// GetOrder fetches the order total, status and assigned courier.
func (c *OrderClient) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	body, err := c.call(ctx, fasthttp.MethodGet, "/api/v1/orders/"+strconv.FormatInt(orderID, 10), nil)
	if err != nil {
		return nil, err
	}
	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &model.Order{
		ID:              p.ID,
		Total:           p.Total.Round(2),
		Status:          p.Status,
		AssignedAgentID: p.AssignedAgentID,
		PaymentMethod:   p.PaymentMethod,
	}, nil
}

// CompleteOrder marks the order fulfilled and appends note to its history.
func (c *OrderClient) CompleteOrder(ctx context.Context, orderID int64, note string) error {
	reqBody, err := json.Marshal(completePayload{Note: note})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	_, err = c.call(ctx, fasthttp.MethodPost, "/api/v1/orders/"+strconv.FormatInt(orderID, 10)+"/complete", reqBody)
	return err
}

// call retries transport failures and 5xx answers on the best endpoint. 4xx answers are final.
func (c *OrderClient) call(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		endpoint, err := c.selectEndpoint()
		if err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		resp, err := c.doRequest(ctx, endpoint, method, path, body)
		if err != nil {
			var final *finalError
			if errors.As(err, &final) {
				endpoint.metrics.RecordSuccess(time.Since(start).Milliseconds())
				return nil, final.err
			}
			endpoint.metrics.RecordFailure()
			c.checkCircuitBreaker(endpoint)
			logger.Warn("order service request failed", "error", err, "url", endpoint.url, "path", path, "attempt", attempt+1)
			lastErr = err
			continue
		}
		endpoint.metrics.RecordSuccess(time.Since(start).Milliseconds())
		return resp, nil
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// finalError marks answers that retrying cannot change.
type finalError struct {
	err error
}

func (f *finalError) Error() string {
	return f.err.Error()
}

func (c *OrderClient) selectEndpoint() (*Endpoint, error) {
	now := time.Now()
	var best *Endpoint
	bestScore := -1.0
	for _, e := range c.endpoints {
		if !e.IsAvailable(now) {
			continue
		}
		if s := e.Score(); s > bestScore {
			bestScore = s
			best = e
		}
	}
	if best == nil {
		return nil, ErrNoAvailableEndpoints
	}
	return best, nil
}

func (c *OrderClient) doRequest(ctx context.Context, endpoint *Endpoint, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusNotFound:
		return nil, &finalError{err: ErrOrderNotFound}
	case code >= 400 && code < 500:
		return nil, &finalError{err: fmt.Errorf("%w: status %d: %s", ErrOrderRejected, code, resp.Body())}
	case code < 200 || code >= 300:
		return nil, fmt.Errorf("unexpected status code: %d", code)
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}

func (c *OrderClient) checkCircuitBreaker(endpoint *Endpoint) {
	fails := endpoint.metrics.ConsecutiveFails.Load()
	if c.config.CircuitBreakerThreshold > 0 && fails >= int32(c.config.CircuitBreakerThreshold) {
		endpoint.SetState(StateCircuitOpen)
		endpoint.circuitOpenUntil.Store(time.Now().Add(c.config.CircuitBreakerTimeout).UnixMilli())
		logger.Warn("circuit breaker opened", "url", endpoint.url, "consecutive_fails", fails)
	}
}

func (c *OrderClient) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performHealthChecks()
		case <-c.stopCh:
			return
		}
	}
}

func (c *OrderClient) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	for _, e := range c.endpoints {
		if e.State() == StateCircuitOpen {
			continue
		}
		_, err := c.doRequest(ctx, e, fasthttp.MethodGet, "/health", nil)
		old := e.State()
		next := StateHealthy
		if err != nil {
			next = StateUnhealthy
		}
		if next != old {
			e.SetState(next)
			logger.Info("order service endpoint state changed", "url", e.url, "old_state", old.String(), "new_state", next.String())
		}
	}
}

// Ping reports whether at least one endpoint answers its health check.
func (c *OrderClient) Ping(ctx context.Context) error {
	var lastErr error = ErrNoAvailableEndpoints
	for _, e := range c.endpoints {
		if _, err := c.doRequest(ctx, e, fasthttp.MethodGet, "/health", nil); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (c *OrderClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		logger.Info("order client closed")
	})
	return nil
}
