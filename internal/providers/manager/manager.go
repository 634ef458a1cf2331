package manager

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/providers/email"
)

// ErrNoProvider is returned when no enabled, healthy provider under its rate
// limit is registered.
var ErrNoProvider = errors.New("manager: no provider available")

const (
	defaultHealthInterval = time.Minute
	defaultCheckTimeout   = 5 * time.Second
	rateWindow            = time.Minute
)

// Descriptor registers a provider with routing metadata. Priority 1 is the
// primary provider. RateLimit is sends per minute; zero means unlimited.
type Descriptor struct {
	Provider             email.Provider
	Priority             int
	Enabled              bool
	SupportsHighPriority bool
	SupportsBulk         bool
	RateLimit            int
}

type entry struct {
	Descriptor
	order int

	healthy         bool
	lastHealthCheck time.Time
	healthMessage   string

	windowStart time.Time
	windowCount int
	// reserved counts slots taken by Select that RecordUsage has not
	// consumed yet.
	reserved    int
	totalSends  int64
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for rate windows.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCheckTimeout bounds each provider health probe.
func WithCheckTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.checkTimeout = d
		}
	}
}

// Manager routes sends to registered providers by priority, health and rate
// limit. It is safe for concurrent use.
type Manager struct {
	logger       zerolog.Logger
	now          func() time.Time
	checkTimeout time.Duration

	mu      sync.RWMutex
	entries []*entry

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an empty Manager.
func New(logger zerolog.Logger, opts ...Option) *Manager {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	m := &Manager{
		logger:       logger.With().Str("component", "provider_manager").Logger(),
		now:          time.Now,
		checkTimeout: defaultCheckTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Register adds a provider. Providers start healthy; names must be unique.
func (m *Manager) Register(d Descriptor) error {
	if d.Provider == nil {
		return errors.New("manager: provider is required")
	}
	if d.Priority < 1 {
		d.Priority = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.Provider.Name() == d.Provider.Name() {
			return fmt.Errorf("manager: provider %q already registered", d.Provider.Name())
		}
	}
	m.entries = append(m.entries, &entry{Descriptor: d, order: len(m.entries), healthy: true})
	sort.SliceStable(m.entries, func(i, j int) bool {
		if m.entries[i].Priority != m.entries[j].Priority {
			return m.entries[i].Priority < m.entries[j].Priority
		}
		return m.entries[i].order < m.entries[j].order
	})

	m.logger.Info().
		Str("provider", d.Provider.Name()).
		Int("priority", d.Priority).
		Bool("enabled", d.Enabled).
		Int("rate_limit", d.RateLimit).
		Msg("provider registered")
	return nil
}

// Select picks a provider for the given priority. High priority mail prefers
// providers flagged SupportsHighPriority. Retries fail over to the next
// candidate when more than one is available. The chosen provider's rate
// window slot is reserved under the same lock; the next RecordUsage for it
// consumes the reservation.
func (m *Manager) Select(priority models.Priority, isRetry bool) (email.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var candidates []*entry
	for _, e := range m.entries {
		if e.Enabled && e.healthy && !e.limited(now) {
			candidates = append(candidates, e)
		}
	}

	if priority == models.PriorityHigh {
		var preferred []*entry
		for _, e := range candidates {
			if e.SupportsHighPriority {
				preferred = append(preferred, e)
			}
		}
		if len(preferred) > 0 {
			candidates = preferred
		}
	}

	if len(candidates) == 0 {
		return nil, ErrNoProvider
	}
	chosen := candidates[0]
	if isRetry && len(candidates) > 1 {
		chosen = candidates[1]
	}
	chosen.windowCount++
	chosen.reserved++
	return chosen.Provider, nil
}

// RecordUsage counts one send against the provider's per-minute window.
func (m *Manager) RecordUsage(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.find(name)
	if e == nil {
		return
	}
	e.roll(m.now())
	if e.reserved > 0 {
		e.reserved--
	} else {
		e.windowCount++
	}
	e.totalSends++
}

// Get returns a registered provider by name.
func (m *Manager) Get(name string) (email.Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e := m.find(name); e != nil {
		return e.Provider, true
	}
	return nil, false
}

// Primary returns the enabled provider with the lowest priority rank.
func (m *Manager) Primary() (email.Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.Enabled {
			return e.Provider, true
		}
	}
	return nil, false
}

// BulkProvider returns the first enabled healthy provider flagged for bulk.
func (m *Manager) BulkProvider() (email.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, e := range m.entries {
		if e.Enabled && e.healthy && e.SupportsBulk && !e.limited(now) {
			return e.Provider, nil
		}
	}
	return nil, ErrNoProvider
}

// SetEnabled toggles a provider in or out of selection.
func (m *Manager) SetEnabled(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.find(name)
	if e == nil {
		return false
	}
	e.Enabled = enabled
	return true
}

// CheckHealth probes every registered provider and updates its healthy flag.
func (m *Manager) CheckHealth(ctx context.Context) map[string]email.Health {
	m.mu.RLock()
	providers := make([]email.Provider, 0, len(m.entries))
	for _, e := range m.entries {
		providers = append(providers, e.Provider)
	}
	m.mu.RUnlock()

	results := make(map[string]email.Health, len(providers))
	for _, p := range providers {
		checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
		health := email.CheckHealth(checkCtx, p)
		cancel()
		results[p.Name()] = health

		m.mu.Lock()
		if e := m.find(p.Name()); e != nil {
			if e.healthy != health.Healthy {
				m.logger.Warn().
					Str("provider", p.Name()).
					Bool("healthy", health.Healthy).
					Str("message", health.Message).
					Msg("provider health changed")
			}
			e.healthy = health.Healthy
			e.healthMessage = health.Message
			e.lastHealthCheck = m.now()
		}
		m.mu.Unlock()
	}
	return results
}

// StartHealthChecks runs CheckHealth immediately and then every interval until
// StopHealthChecks is called or ctx ends. Calling it while running is a no-op.
func (m *Manager) StartHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.CheckHealth(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.CheckHealth(loopCtx)
			}
		}
	}()
	m.logger.Info().Dur("interval", interval).Msg("provider health checks started")
}

// StopHealthChecks stops the loop and waits for it to exit.
func (m *Manager) StopHealthChecks() {
	m.loopMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info().Msg("provider health checks stopped")
}

// HealthChecksRunning reports whether the health loop is active.
func (m *Manager) HealthChecksRunning() bool {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.cancel != nil
}

func (m *Manager) find(name string) *entry {
	for _, e := range m.entries {
		if e.Provider.Name() == name {
			return e
		}
	}
	return nil
}

func (e *entry) roll(now time.Time) {
	if e.windowStart.IsZero() || now.Sub(e.windowStart) >= rateWindow {
		e.windowStart = now
		e.windowCount = 0
		e.reserved = 0
	}
}

func (e *entry) limited(now time.Time) bool {
	if e.RateLimit <= 0 {
		return false
	}
	e.roll(now)
	return e.windowCount >= e.RateLimit
}
