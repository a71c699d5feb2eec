package helpers

import (
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fasthttp/router"
	gateway "github.com/nimasrn/cod-ledger/internal/gateways"
	"github.com/nimasrn/cod-ledger/pkg/redis"
	"github.com/nimasrn/cod-ledger/test/fixtures"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter("test", "e2e:", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

// OrderService is an in-memory stand-in for the order service.
type OrderService struct {
	mu          sync.Mutex
	orders      map[int64]fixtures.Order
	completions map[int64][]string
}

func (s *OrderService) Completions(orderID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completions[orderID]...)
}

func (s *OrderService) getOrder(ctx *fasthttp.RequestCtx) {
	id, _ := strconv.ParseInt(ctx.UserValue("id").(string), 10, 64)
	s.mu.Lock()
	o, ok := s.orders[id]
	s.mu.Unlock()
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	body, _ := json.Marshal(o)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (s *OrderService) complete(ctx *fasthttp.RequestCtx) {
	id, _ := strconv.ParseInt(ctx.UserValue("id").(string), 10, 64)
	var req struct {
		Note string `json:"note"`
	}
	_ = json.Unmarshal(ctx.PostBody(), &req)

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	o.Status = "delivered"
	s.orders[id] = o
	s.completions[id] = append(s.completions[id], req.Note)
	ctx.SetStatusCode(fasthttp.StatusOK)
}

// StartOrderService serves orders over an in-memory listener and returns a client wired to it.
func StartOrderService(t *testing.T, orders ...fixtures.Order) (*gateway.OrderClient, *OrderService) {
	t.Helper()

	svc := &OrderService{
		orders:      make(map[int64]fixtures.Order),
		completions: make(map[int64][]string),
	}
	for _, o := range orders {
		svc.orders[o.ID] = o
	}

	r := router.New()
	r.GET("/api/v1/orders/{id}", svc.getOrder)
	r.POST("/api/v1/orders/{id}/complete", svc.complete)
	r.GET("/health", func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusOK) })

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: r.Handler}
	go func() { _ = srv.Serve(ln) }()

	cfg := gateway.DefaultConfig("http://orders.local")
	cfg.RetryDelay = time.Millisecond
	cfg.HealthCheckInterval = 0
	cfg.Dial = func(addr string) (net.Conn, error) { return ln.Dial() }

	client, err := gateway.NewOrderClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = srv.Shutdown()
	})
	return client, svc
}

// APIClient sends requests to a handler served over an in-memory listener.
type APIClient struct {
	client *fasthttp.Client
}

func ServeAPI(t *testing.T, handler fasthttp.RequestHandler) *APIClient {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return &APIClient{client: &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}}
}

// Do sends body as JSON with a bearer token and decodes a JSON answer into out when out is set.
func (c *APIClient) Do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://api.local" + path)
	req.Header.SetMethod(method)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req.Header.SetContentType("application/json")
		req.SetBody(raw)
	}

	require.NoError(t, c.client.DoTimeout(req, resp, 5*time.Second))
	if out != nil && len(resp.Body()) > 0 {
		require.NoError(t, json.Unmarshal(resp.Body(), out), string(resp.Body()))
	}
	return resp.StatusCode()
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
