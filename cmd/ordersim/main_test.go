package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() (*gin.Engine, *OrderBook) {
	gin.SetMode(gin.TestMode)
	book := NewOrderBook(0, 0, 0)
	return SetupRouter(NewHandler(book)), book
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetOrder(t *testing.T) {
	r, book := newTestRouter()
	o := book.Create(decimal.RequireFromString("18.50"), 7, "")

	w := do(r, http.MethodGet, "/api/v1/orders/1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, o.ID, got.ID)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("18.5")))
	assert.Equal(t, StatusOutForDelivery, got.Status)
	assert.Equal(t, int64(7), got.AssignedAgentID)
	assert.Equal(t, "cod", got.PaymentMethod)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/orders/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/orders/abc", "").Code)
}

func TestCompleteOrder(t *testing.T) {
	r, book := newTestRouter()
	book.Create(decimal.NewFromInt(20), 7, "cod")

	w := do(r, http.MethodPost, "/api/v1/orders/1/complete", `{"note":"COD collected: 20.00, change: 0.00"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CompleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusDelivered, resp.Status)
	assert.NotEmpty(t, resp.CompletionID)

	// completing again is accepted
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/orders/1/complete", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/v1/orders/5/complete", `{}`).Code)

	o, _ := book.Get(1)
	assert.Equal(t, StatusDelivered, o.Status)
}

func TestCreateOrder(t *testing.T) {
	r, _ := newTestRouter()

	w := do(r, http.MethodPost, "/api/v1/orders", `{"total":"35.00","assigned_agent_id":3}`)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/orders", `{"total":"-1","assigned_agent_id":3}`).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)
}
