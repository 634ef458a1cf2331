package pipeline

import (
	"context"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/providers/email"
)

// Router picks a provider and tracks how often each one is used.
type Router interface {
	Select(priority models.Priority, isRetry bool) (email.Provider, error)
	RecordUsage(name string)
}

// ProviderRouter is stage 4. A positive retry count asks for failover.
type ProviderRouter struct {
	router Router
}

// Name implements Stage.
func (p *ProviderRouter) Name() string { return StageRoute }

// Run implements Stage.
func (p *ProviderRouter) Run(_ context.Context, pc Context) (Context, error) {
	provider, err := p.router.Select(pc.Payload.Priority, pc.Input.RetryCount > 0)
	if err != nil {
		return pc, err
	}
	pc.Provider = provider
	pc.State = StateProviderSelected
	return pc, nil
}
