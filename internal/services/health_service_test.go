package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthService_Check(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("refused") })

	svc := NewHealthService(time.Second, map[string]Pinger{"postgres": up, "redis": up})
	status := svc.Check(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, map[string]string{"postgres": "up", "redis": "up"}, status.Components)

	svc = NewHealthService(0, map[string]Pinger{"postgres": up, "orders": down})
	status = svc.Check(context.Background())
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "down", status.Components["orders"])
	assert.Equal(t, "up", status.Components["postgres"])
}
