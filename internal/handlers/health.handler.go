package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/cod-ledger/internal/services"
	xhttp "github.com/nimasrn/cod-ledger/pkg/http"
)

type HealthService interface {
	Check(ctx context.Context) services.HealthStatus
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{
		svc: svc,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	status := h.svc.Check(ctx)
	if status.Status != "ok" {
		writeJSON(ctx, xhttp.StatusServiceUnavailable, status)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, status)
}
