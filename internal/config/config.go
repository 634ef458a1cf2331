package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names shared by the provider, bus and store sections.
const (
	BackendMemory = "memory"
	BackendKafka  = "kafka"
	BackendNATS   = "nats"
	BackendSMTP   = "smtp"
	BackendDev    = "dev"
	BackendMock   = "mock"
)

// Config captures all runtime configuration for the notification service.
type Config struct {
	App           AppConfig
	Bus           BusConfig
	Store         StoreConfig
	Providers     ProviderConfig
	Retry         RetryConfig
	Health        HealthConfig
	Observability ObservabilityConfig
	Tasks         TaskConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env            string
	LogLevel       string
	HTTPAddr       string
	BrandName      string
	SupportEmail   string
	Locale         string
	CurrencySuffix string
}

// BusConfig selects and configures the event bus carrying domain events.
type BusConfig struct {
	Backend             string
	Brokers             []string
	EventsTopic         string
	ConsumerGroup       string
	CommitOnSuccessOnly bool
}

// StoreConfig selects the entity store backing templates and send logs.
type StoreConfig struct {
	Backend         string
	NATSURL         string
	TemplatesBucket string
	LogsBucket      string
}

// SMTPConfig stores SMTP credentials for email delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string
}

// MockConfig drives the mock provider when it is selected for a slot.
type MockConfig struct {
	AlwaysFail   bool
	FailureRate  float64
	ErrorMessage string
	Delay        time.Duration
}

// ProviderConfig wraps configuration for the primary and secondary provider
// slots registered with the provider manager.
type ProviderConfig struct {
	Primary            string
	Secondary          string
	PrimaryRateLimit   int
	SecondaryRateLimit int
	SMTP               SMTPConfig
	Mock               MockConfig
	BulkSendDelay      time.Duration
	Timeout            time.Duration
}

// RetryPolicyConfig mirrors retry.Config without importing it.
type RetryPolicyConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// RetryConfig holds the two named retry policies plus shared shape settings.
type RetryConfig struct {
	Transactional RetryPolicyConfig
	Marketing     RetryPolicyConfig
	Multiplier    float64
	Jitter        bool
}

// HealthConfig controls provider health-check polling.
type HealthConfig struct {
	Interval     time.Duration
	CheckTimeout time.Duration
}

// ObservabilityConfig bounds the in-process metrics and audit buffers.
type ObservabilityConfig struct {
	AuditMaxEntries      int
	AuditRetention       time.Duration
	AuditCleanupInterval time.Duration
	LatencyWindow        int
}

// TaskConfig bounds detached background work.
type TaskConfig struct {
	Concurrency int
	Timeout     time.Duration
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)
	cfg.App.HTTPAddr = ldr.getString("HTTP_ADDR", ":8080", false)
	cfg.App.BrandName = ldr.getString("BRAND_NAME", "Our Store", false)
	cfg.App.SupportEmail = ldr.getString("SUPPORT_EMAIL", "support@example.com", false)
	cfg.App.Locale = ldr.getString("LOCALE", "vi-VN", false)
	cfg.App.CurrencySuffix = ldr.getString("CURRENCY_SUFFIX", "₫", false)

	cfg.Bus.Backend = ldr.getChoice("EVENT_BUS", BackendMemory, BackendMemory, BackendKafka)
	kafka := cfg.Bus.Backend == BackendKafka
	cfg.Bus.Brokers = ldr.getStringSlice("KAFKA_BROKERS", kafka)
	cfg.Bus.EventsTopic = ldr.getString("KAFKA_EVENTS_TOPIC", "domain.events", false)
	cfg.Bus.ConsumerGroup = ldr.getString("KAFKA_CONSUMER_GROUP", "", kafka)
	cfg.Bus.CommitOnSuccessOnly = ldr.getBool("KAFKA_COMMIT_ON_SUCCESS_ONLY", true, false)

	cfg.Store.Backend = ldr.getChoice("STORE_BACKEND", BackendMemory, BackendMemory, BackendNATS)
	cfg.Store.NATSURL = ldr.getString("NATS_URL", "", cfg.Store.Backend == BackendNATS)
	cfg.Store.TemplatesBucket = ldr.getString("NATS_TEMPLATES_BUCKET", "EMAIL_TEMPLATES", false)
	cfg.Store.LogsBucket = ldr.getString("NATS_LOGS_BUCKET", "EMAIL_LOGS", false)

	cfg.Providers.Primary = ldr.getChoice("EMAIL_PRIMARY_PROVIDER", BackendDev, BackendSMTP, BackendDev, BackendMock)
	cfg.Providers.Secondary = ldr.getChoice("EMAIL_SECONDARY_PROVIDER", "", "", BackendSMTP, BackendDev, BackendMock)
	cfg.Providers.PrimaryRateLimit = ldr.getInt("EMAIL_PRIMARY_RATE_LIMIT", 100, false)
	cfg.Providers.SecondaryRateLimit = ldr.getInt("EMAIL_SECONDARY_RATE_LIMIT", 50, false)

	smtp := cfg.Providers.Primary == BackendSMTP || cfg.Providers.Secondary == BackendSMTP
	cfg.Providers.SMTP.Host = ldr.getString("SMTP_HOST", "", smtp)
	cfg.Providers.SMTP.Port = ldr.getInt("SMTP_PORT", 587, false)
	cfg.Providers.SMTP.User = ldr.getString("SMTP_USER", "", false)
	cfg.Providers.SMTP.Pass = ldr.getString("SMTP_PASS", "", false)
	cfg.Providers.SMTP.From = ldr.getString("SMTP_FROM", "", smtp)
	cfg.Providers.SMTP.FromName = ldr.getString("SMTP_FROM_NAME", cfg.App.BrandName, false)

	cfg.Providers.Mock.AlwaysFail = ldr.getBool("MOCK_ALWAYS_FAIL", false, false)
	cfg.Providers.Mock.FailureRate = ldr.getFloat("MOCK_FAILURE_RATE", 0, false)
	cfg.Providers.Mock.ErrorMessage = ldr.getString("MOCK_ERROR", "mock provider failure", false)
	cfg.Providers.Mock.Delay = ldr.getMillis("MOCK_DELAY_MS", 0)
	cfg.Providers.BulkSendDelay = ldr.getMillis("BULK_SEND_DELAY_MS", 100)
	cfg.Providers.Timeout = time.Duration(ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 30, false)) * time.Second

	cfg.Retry.Transactional = RetryPolicyConfig{
		MaxRetries: ldr.getInt("TRANSACTIONAL_MAX_RETRIES", 5, false),
		BaseDelay:  ldr.getMillis("TRANSACTIONAL_BASE_DELAY_MS", 1000),
		MaxDelay:   ldr.getMillis("TRANSACTIONAL_MAX_DELAY_MS", 30000),
	}
	cfg.Retry.Marketing = RetryPolicyConfig{
		MaxRetries: ldr.getInt("MARKETING_MAX_RETRIES", 2, false),
		BaseDelay:  ldr.getMillis("MARKETING_BASE_DELAY_MS", 2000),
		MaxDelay:   ldr.getMillis("MARKETING_MAX_DELAY_MS", 10000),
	}
	cfg.Retry.Multiplier = ldr.getFloat("RETRY_MULTIPLIER", 2, false)
	cfg.Retry.Jitter = ldr.getBool("RETRY_JITTER", true, false)

	cfg.Health.Interval = time.Duration(ldr.getInt("HEALTH_CHECK_INTERVAL_SECONDS", 60, false)) * time.Second
	cfg.Health.CheckTimeout = ldr.getMillis("HEALTH_CHECK_TIMEOUT_MS", 5000)

	cfg.Observability.AuditMaxEntries = ldr.getInt("AUDIT_MAX_ENTRIES", 10000, false)
	cfg.Observability.AuditRetention = time.Duration(ldr.getInt("AUDIT_RETENTION_HOURS", 24, false)) * time.Hour
	cfg.Observability.AuditCleanupInterval = time.Duration(ldr.getInt("AUDIT_CLEANUP_INTERVAL_MINUTES", 60, false)) * time.Minute
	cfg.Observability.LatencyWindow = ldr.getInt("METRICS_LATENCY_WINDOW", 1000, false)

	cfg.Tasks.Concurrency = ldr.getInt("TASK_CONCURRENCY", 8, false)
	cfg.Tasks.Timeout = time.Duration(ldr.getInt("TASK_TIMEOUT_SECONDS", 10, false)) * time.Second

	ldr.checkPositive("EMAIL_PRIMARY_RATE_LIMIT", cfg.Providers.PrimaryRateLimit)
	ldr.checkPositive("TRANSACTIONAL_MAX_RETRIES", cfg.Retry.Transactional.MaxRetries)
	ldr.checkPositive("MARKETING_MAX_RETRIES", cfg.Retry.Marketing.MaxRetries)
	ldr.checkPositive("TASK_CONCURRENCY", cfg.Tasks.Concurrency)
	if cfg.Providers.Mock.FailureRate < 0 || cfg.Providers.Mock.FailureRate > 1 {
		ldr.addError("MOCK_FAILURE_RATE must be between 0 and 1")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

// lookup returns the trimmed value and whether a non-empty value was found,
// recording a required error otherwise.
func (l *envLoader) lookup(key string, required bool) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val != "" {
			return val, true
		}
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return "", false
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getChoice(key, def string, allowed ...string) string {
	val, ok := l.lookup(key, false)
	if !ok {
		return def
	}
	val = strings.ToLower(val)
	for _, a := range allowed {
		if val == a {
			return val
		}
	}
	l.addError(fmt.Sprintf("%s must be one of [%s]", key, strings.Join(nonEmpty(allowed), ", ")))
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getFloat(key string, def float64, required bool) float64 {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid number", key))
		return def
	}
	return f
}

func (l *envLoader) getMillis(key string, def int) time.Duration {
	ms := l.getInt(key, def, false)
	if ms < 0 {
		l.addError(fmt.Sprintf("%s cannot be negative", key))
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) checkPositive(key string, v int) {
	if v < 1 {
		l.addError(fmt.Sprintf("%s must be >= 1", key))
	}
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
