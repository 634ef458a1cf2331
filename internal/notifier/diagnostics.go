package notifier

import (
	"context"
	"errors"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/providers/email"
)

// Health reports whether the primary provider can accept mail.
type Health struct {
	Healthy  bool   `json:"healthy"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message,omitempty"`
}

// HealthCheck probes the primary provider.
func (n *Notifier) HealthCheck(ctx context.Context) Health {
	if n.providers == nil {
		return Health{Message: "no provider manager configured"}
	}
	p, ok := n.providers.Primary()
	if !ok {
		return Health{Message: "no enabled provider"}
	}
	h := email.CheckHealth(ctx, p)
	return Health{Healthy: h.Healthy, Provider: p.Name(), Message: h.Message}
}

// EmailStats aggregates persisted send logs.
func (n *Notifier) EmailStats(ctx context.Context) (models.LogStats, error) {
	if n.logs == nil {
		return models.LogStats{}, errors.New("notifier: no log store configured")
	}
	return n.logs.Stats(ctx)
}

// EmailLogsForOrder lists the send logs of one order, newest first.
func (n *Notifier) EmailLogsForOrder(ctx context.Context, orderID string) ([]*models.LogEntry, error) {
	if n.logs == nil {
		return nil, errors.New("notifier: no log store configured")
	}
	return n.logs.ListByOrder(ctx, orderID)
}
