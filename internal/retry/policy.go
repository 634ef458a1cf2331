package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const jitterFraction = 0.25

// Config shapes a Policy. MaxRetries is the total number of attempts made by
// Execute, including the first one.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// Transactional returns the stricter policy used for high priority sends.
func Transactional() Config {
	return Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: true}
}

// Marketing returns the looser policy used for bulk marketing sends.
func Marketing() Config {
	return Config{MaxRetries: 2, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: true}
}

// OnRetryFunc is invoked before each wait with the failed attempt number, its
// error and the delay about to be slept. It must return quickly.
type OnRetryFunc func(attempt int, err error, delay time.Duration)

// Policy executes operations with exponential backoff.
type Policy struct {
	name   string
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) bool
	randMu sync.Mutex
	rnd    *rand.Rand
}

// Option customises a Policy.
type Option func(*Policy)

// WithSleeper replaces the wait between attempts. The function returns false
// when ctx ends before d elapses.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(p *Policy) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithRand sets the jitter source.
func WithRand(rnd *rand.Rand) Option {
	return func(p *Policy) {
		if rnd != nil {
			p.rnd = rnd
		}
	}
}

// New builds a named policy. Non-positive values fall back to sane minimums.
func New(name string, cfg Config, opts ...Option) *Policy {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.MaxDelay > 0 && cfg.BaseDelay > cfg.MaxDelay {
		cfg.BaseDelay = cfg.MaxDelay
	}

	p := &Policy{
		name:  name,
		cfg:   cfg,
		sleep: wait,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the policy name used in logs.
func (p *Policy) Name() string {
	return p.name
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// CalculateDelay returns min(base * multiplier^(attempt-1), max), perturbed by
// up to ±25% when jitter is enabled and rounded to whole milliseconds.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.cfg.BaseDelay <= 0 {
		return 0
	}

	raw := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(attempt-1))
	if p.cfg.MaxDelay > 0 && raw > float64(p.cfg.MaxDelay) {
		raw = float64(p.cfg.MaxDelay)
	}

	if p.cfg.Jitter {
		p.randMu.Lock()
		factor := 1 + (p.rnd.Float64()*2-1)*jitterFraction
		p.randMu.Unlock()
		raw *= factor
	}

	return time.Duration(math.Round(raw/float64(time.Millisecond))) * time.Millisecond
}

// Execute runs op until it succeeds, fails with a non-retryable error, ctx
// ends, or MaxRetries attempts are used. It returns the number of attempts
// made together with the last error.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	return p.ExecuteNotify(ctx, op, nil)
}

// ExecuteNotify is Execute with a callback fired before every wait. Panics in
// the callback are swallowed.
func (p *Policy) ExecuteNotify(ctx context.Context, op func(ctx context.Context) error, onRetry OnRetryFunc) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return attempt, nil
		}
		if !IsRetryable(err) || attempt >= p.cfg.MaxRetries || ctx.Err() != nil {
			return attempt, err
		}

		delay := p.CalculateDelay(attempt)
		notify(onRetry, attempt, err, delay)
		if !p.sleep(ctx, delay) {
			return attempt, err
		}
	}
}

func notify(fn OnRetryFunc, attempt int, err error, delay time.Duration) {
	if fn == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	fn(attempt, err, delay)
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
