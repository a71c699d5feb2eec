package services

import (
	"context"
	"time"
)

// Pinger is any dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	components map[string]Pinger
	timeout    time.Duration
}

func NewHealthService(timeout time.Duration, components map[string]Pinger) *HealthService {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthService{
		components: components,
		timeout:    timeout,
	}
}

// Check pings every component. The overall status is "ok" only when all of them answer.
func (s *HealthService) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status := HealthStatus{Status: "ok", Components: make(map[string]string, len(s.components))}
	for name, c := range s.components {
		if err := c.Ping(ctx); err != nil {
			status.Components[name] = "down"
			status.Status = "degraded"
			continue
		}
		status.Components[name] = "up"
	}
	return status
}
