package email

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/config"
	"github.com/example/notification-pipeline/internal/retry"
)

// Scenario enumerates per-message overrides for the mock provider.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
	ScenarioTimeout   Scenario = "timeout"

	headerScenario = "X-Mock-Provider-Scenario"
)

// MockOption customizes the behaviour of the mock provider.
type MockOption func(*MockProvider)

// WithAlwaysFail forces every send to fail with the configured error message.
func WithAlwaysFail(fail bool) MockOption {
	return func(p *MockProvider) {
		p.alwaysFail = fail
	}
}

// WithAlwaysSucceed forces every send to succeed, ignoring the failure rate.
func WithAlwaysSucceed(ok bool) MockOption {
	return func(p *MockProvider) {
		p.alwaysSucceed = ok
	}
}

// WithErrorMessage sets the error text returned on failure.
func WithErrorMessage(msg string) MockOption {
	return func(p *MockProvider) {
		if strings.TrimSpace(msg) != "" {
			p.errorMessage = msg
		}
	}
}

// WithDelay makes every send wait d before answering.
func WithDelay(d time.Duration) MockOption {
	return func(p *MockProvider) {
		if d >= 0 {
			p.delay = d
		}
	}
}

// WithFailureRate sets the probability in [0,1] that a send fails.
func WithFailureRate(rate float64) MockOption {
	return func(p *MockProvider) {
		if rate >= 0 && rate <= 1 {
			p.failureRate = rate
		}
	}
}

// WithRandomSeed swaps the RNG seed used for failures and identifiers.
func WithRandomSeed(seed int64) MockOption {
	return func(p *MockProvider) {
		p.rnd = rand.New(rand.NewSource(seed)) // #nosec G404 -- deterministic seed for tests.
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) MockOption {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMockName overrides the provider name, useful when registering more than
// one mock with a manager.
func WithMockName(name string) MockOption {
	return func(p *MockProvider) {
		if strings.TrimSpace(name) != "" {
			p.name = strings.TrimSpace(name)
		}
	}
}

// MockOptionsFromConfig maps the MOCK_* settings onto options.
func MockOptionsFromConfig(cfg config.MockConfig) []MockOption {
	return []MockOption{
		WithAlwaysFail(cfg.AlwaysFail),
		WithFailureRate(cfg.FailureRate),
		WithErrorMessage(cfg.ErrorMessage),
		WithDelay(cfg.Delay),
	}
}

// MockProvider is a configurable provider for test harnesses. Behaviour can
// also be forced per message with the X-Mock-Provider-Scenario header.
type MockProvider struct {
	logger        zerolog.Logger
	name          string
	alwaysFail    bool
	alwaysSucceed bool
	errorMessage  string
	delay         time.Duration
	failureRate   float64
	now           func() time.Time

	healthy atomic.Bool
	calls   atomic.Int64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockProvider constructs a mock provider that succeeds by default.
func NewMockProvider(logger zerolog.Logger, opts ...MockOption) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &MockProvider{
		logger:       logger,
		name:         "mock",
		errorMessage: "mock provider failure",
		now:          time.Now,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
	p.healthy.Store(true)

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = p.logger.With().Str("provider", p.name).Logger()

	return p
}

// Name implements Provider.
func (p *MockProvider) Name() string {
	return p.name
}

// Send simulates delivery according to the configured behaviour.
func (p *MockProvider) Send(ctx context.Context, msg *Message) (*Result, error) {
	p.calls.Add(1)
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if err := p.sleep(ctx, p.delay); err != nil {
		return nil, err
	}

	scenario := p.resolveScenario(msg)
	p.logger.Debug().
		Str("scenario", string(scenario)).
		Str("recipient", msg.To).
		Msg("mock email provider invoked")

	switch scenario {
	case ScenarioPermanent:
		err := retry.WrapPermanent(fmt.Errorf("550 mailbox unavailable: %s", p.errorMessage))
		return failed(p.name, 550, err, p.now()), err
	case ScenarioTransient:
		err := errors.New(p.errorMessage)
		return failed(p.name, 0, err, p.now()), err
	case ScenarioTimeout:
		return nil, context.DeadlineExceeded
	}

	id := msg.MessageID
	if id == "" {
		id = p.nextID()
	}
	return &Result{Success: true, MessageID: id, Provider: p.name, Code: 250, Timestamp: p.now()}, nil
}

// HealthCheck implements HealthChecker.
func (p *MockProvider) HealthCheck(context.Context) Health {
	if p.healthy.Load() {
		return Health{Healthy: true}
	}
	return Health{Healthy: false, Message: p.name + " marked unhealthy"}
}

// SetHealthy flips the result of HealthCheck.
func (p *MockProvider) SetHealthy(ok bool) {
	p.healthy.Store(ok)
}

// Calls returns the number of Send invocations.
func (p *MockProvider) Calls() int {
	return int(p.calls.Load())
}

func (p *MockProvider) resolveScenario(msg *Message) Scenario {
	if value, ok := pickHeader(msg.Headers, headerScenario); ok && value != "" {
		switch s := Scenario(strings.ToLower(strings.TrimSpace(value))); s {
		case ScenarioPermanent, ScenarioTransient, ScenarioTimeout, ScenarioSuccess:
			return s
		}
	}

	switch {
	case p.alwaysSucceed:
		return ScenarioSuccess
	case p.alwaysFail:
		return ScenarioTransient
	case p.failureRate > 0:
		p.mu.Lock()
		roll := p.rnd.Float64()
		p.mu.Unlock()
		if roll < p.failureRate {
			return ScenarioTransient
		}
	}
	return ScenarioSuccess
}

func (p *MockProvider) nextID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("mock-%08x", p.rnd.Uint32())
}

func (p *MockProvider) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pickHeader(headers map[string]string, key string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
