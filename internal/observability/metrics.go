// Package observability holds the in-process send metrics and the per-stage
// audit trail shared by concurrent pipeline runs.
package observability

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultLatencyWindow = 1000

// Counts tallies outcomes for one email type or provider.
type Counts struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalSent        int64             `json:"total_sent"`
	TotalFailed      int64             `json:"total_failed"`
	SuccessRate      float64           `json:"success_rate"`
	AverageLatencyMs int64             `json:"average_latency_ms"`
	P95LatencyMs     int64             `json:"p95_latency_ms"`
	LatencySamples   int               `json:"latency_samples"`
	ByType           map[string]Counts `json:"by_type"`
	ByProvider       map[string]Counts `json:"by_provider"`
	FailureReasons   map[string]int64  `json:"failure_reasons"`
}

// Metrics counts sends by type and provider and keeps a bounded window of
// latency samples. Safe for concurrent use.
type Metrics struct {
	mu             sync.RWMutex
	window         int
	byType         map[string]*Counts
	byProvider     map[string]*Counts
	failureReasons map[string]int64
	latencies      []time.Duration

	prom *promCollectors
}

// MetricsOption customises Metrics.
type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	window     int
	registerer prometheus.Registerer
}

// WithLatencyWindow bounds the number of latency samples kept.
func WithLatencyWindow(n int) MetricsOption {
	return func(o *metricsOptions) {
		if n > 0 {
			o.window = n
		}
	}
}

// WithRegisterer mirrors every recorded send into Prometheus collectors
// registered on reg.
func WithRegisterer(reg prometheus.Registerer) MetricsOption {
	return func(o *metricsOptions) {
		o.registerer = reg
	}
}

// NewMetrics constructs an empty Metrics.
func NewMetrics(opts ...MetricsOption) (*Metrics, error) {
	o := metricsOptions{window: defaultLatencyWindow}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	m := &Metrics{window: o.window}
	m.clear()

	if o.registerer != nil {
		prom, err := registerCollectors(o.registerer)
		if err != nil {
			return nil, err
		}
		m.prom = prom
	}
	return m, nil
}

func (m *Metrics) clear() {
	m.byType = make(map[string]*Counts)
	m.byProvider = make(map[string]*Counts)
	m.failureReasons = make(map[string]int64)
	m.latencies = make([]time.Duration, 0, m.window)
}

// RecordSend counts one finished send. errMsg is tallied by its first token
// when the send failed.
func (m *Metrics) RecordSend(emailType, provider string, success bool, latency time.Duration, errMsg string) {
	if provider == "" {
		provider = "unknown"
	}
	reason := ""
	if !success {
		reason = FailureReason(errMsg)
	}

	m.mu.Lock()
	bump(m.byType, emailType, success)
	bump(m.byProvider, provider, success)
	if !success {
		m.failureReasons[reason]++
	}
	m.latencies = append(m.latencies, latency)
	if len(m.latencies) > m.window {
		m.latencies = m.latencies[len(m.latencies)-m.window:]
	}
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.observe(emailType, provider, success, latency, reason)
	}
}

func bump(set map[string]*Counts, key string, success bool) {
	c, ok := set[key]
	if !ok {
		c = &Counts{}
		set[key] = c
	}
	if success {
		c.Sent++
	} else {
		c.Failed++
	}
}

// FailureReason returns the first whitespace separated token of errMsg, or
// "unknown" when it is blank.
func FailureReason(errMsg string) string {
	fields := strings.Fields(errMsg)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}

// SuccessRate returns sent/(sent+failed) as a percentage, or 0 with no sends.
func (m *Metrics) SuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sent, failed := m.totals()
	return rate(sent, failed)
}

func (m *Metrics) totals() (sent, failed int64) {
	for _, c := range m.byType {
		sent += c.Sent
		failed += c.Failed
	}
	return sent, failed
}

func rate(sent, failed int64) float64 {
	total := sent + failed
	if total == 0 {
		return 0
	}
	return math.Round(float64(sent)/float64(total)*10000) / 100
}

// AverageLatency returns the mean of the sampled latencies.
func (m *Metrics) AverageLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return average(m.latencies)
}

// P95Latency returns the 95th percentile of the sampled latencies.
func (m *Metrics) P95Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return percentile(m.latencies, 0.95)
}

func average(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sent, failed := m.totals()
	snap := MetricsSnapshot{
		TotalSent:        sent,
		TotalFailed:      failed,
		SuccessRate:      rate(sent, failed),
		AverageLatencyMs: average(m.latencies).Milliseconds(),
		P95LatencyMs:     percentile(m.latencies, 0.95).Milliseconds(),
		LatencySamples:   len(m.latencies),
		ByType:           make(map[string]Counts, len(m.byType)),
		ByProvider:       make(map[string]Counts, len(m.byProvider)),
		FailureReasons:   make(map[string]int64, len(m.failureReasons)),
	}
	for k, c := range m.byType {
		snap.ByType[k] = *c
	}
	for k, c := range m.byProvider {
		snap.ByProvider[k] = *c
	}
	for k, v := range m.failureReasons {
		snap.FailureReasons[k] = v
	}
	return snap
}

// Reset clears the in-process counters. Prometheus collectors are
// cumulative and keep their values.
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.clear()
	m.mu.Unlock()
}

type promCollectors struct {
	emails   *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func registerCollectors(reg prometheus.Registerer) (*promCollectors, error) {
	c := &promCollectors{
		emails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_emails_total",
				Help: "Total emails handled by the pipeline",
			},
			[]string{"email_type", "provider", "status"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_email_failures_total",
				Help: "Failed sends by first token of the error",
			},
			[]string{"reason"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "notification_send_duration_seconds",
				Help: "Duration of provider send calls",
				Buckets: []float64{
					0.05,
					0.1,
					0.25,
					0.5,
					1,
					2.5,
					5,
					10,
					30,
				},
			},
			[]string{"provider"},
		),
	}

	var err error
	if c.emails, err = register(reg, c.emails); err != nil {
		return nil, err
	}
	if c.failures, err = register(reg, c.failures); err != nil {
		return nil, err
	}
	if c.latency, err = register(reg, c.latency); err != nil {
		return nil, err
	}
	return c, nil
}

// register adds col to reg, reusing an identical collector that is already
// registered.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

func (c *promCollectors) observe(emailType, provider string, success bool, latency time.Duration, reason string) {
	status := "sent"
	if !success {
		status = "failed"
		c.failures.WithLabelValues(reason).Inc()
	}
	c.emails.WithLabelValues(emailType, provider, status).Inc()
	c.latency.WithLabelValues(provider).Observe(latency.Seconds())
}
