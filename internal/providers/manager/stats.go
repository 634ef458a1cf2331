package manager

import "time"

// ProviderStats is a diagnostics snapshot of one provider.
type ProviderStats struct {
	Name                 string     `json:"name"`
	Priority             int        `json:"priority"`
	Enabled              bool       `json:"enabled"`
	Healthy              bool       `json:"healthy"`
	SupportsHighPriority bool       `json:"supports_high_priority"`
	SupportsBulk         bool       `json:"supports_bulk"`
	RateLimit            int        `json:"rate_limit"`
	UsedThisMinute       int        `json:"used_this_minute"`
	TotalSends           int64      `json:"total_sends"`
	LastHealthCheck      *time.Time `json:"last_health_check,omitempty"`
	HealthMessage        string     `json:"health_message,omitempty"`
}

// Stats aggregates the registered providers.
type Stats struct {
	Total               int             `json:"total"`
	Enabled             int             `json:"enabled"`
	Healthy             int             `json:"healthy"`
	HealthChecksRunning bool            `json:"health_checks_running"`
	Providers           []ProviderStats `json:"providers"`
}

// Stats returns a snapshot ordered by priority.
func (m *Manager) Stats() Stats {
	running := m.HealthChecksRunning()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := Stats{Total: len(m.entries), HealthChecksRunning: running, Providers: make([]ProviderStats, 0, len(m.entries))}
	for _, e := range m.entries {
		e.roll(now)
		ps := ProviderStats{
			Name:                 e.Provider.Name(),
			Priority:             e.Priority,
			Enabled:              e.Enabled,
			Healthy:              e.healthy,
			SupportsHighPriority: e.SupportsHighPriority,
			SupportsBulk:         e.SupportsBulk,
			RateLimit:            e.RateLimit,
			UsedThisMinute:       e.windowCount,
			TotalSends:           e.totalSends,
			HealthMessage:        e.healthMessage,
		}
		if !e.lastHealthCheck.IsZero() {
			ts := e.lastHealthCheck
			ps.LastHealthCheck = &ts
		}
		if e.Enabled {
			out.Enabled++
		}
		if e.healthy {
			out.Healthy++
		}
		out.Providers = append(out.Providers, ps)
	}
	return out
}
