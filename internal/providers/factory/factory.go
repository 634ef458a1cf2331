package factory

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/config"
	emailprovider "github.com/example/notification-pipeline/internal/providers/email"
	"github.com/example/notification-pipeline/internal/providers/manager"
)

// Email constructs a single provider for the given backend name.
func Email(backend string, cfg config.ProviderConfig, logger zerolog.Logger, mockOpts ...emailprovider.MockOption) (emailprovider.Provider, error) {
	switch normalize(backend, config.BackendDev) {
	case config.BackendSMTP:
		provider, err := emailprovider.NewSMTPProvider(cfg.SMTP, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: smtp provider init: %w", err)
		}
		return provider, nil
	case config.BackendDev:
		return emailprovider.NewDevProvider(logger), nil
	case config.BackendMock:
		opts := append(emailprovider.MockOptionsFromConfig(cfg.Mock), mockOpts...)
		return emailprovider.NewMockProvider(logger, opts...), nil
	default:
		return nil, fmt.Errorf("factory: unsupported email provider backend %q", backend)
	}
}

// Descriptors builds the primary and optional secondary slots for the
// provider manager. Both slots accept high priority and bulk mail.
func Descriptors(cfg config.ProviderConfig, logger zerolog.Logger) ([]manager.Descriptor, error) {
	primary, err := Email(cfg.Primary, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("backend", primary.Name()).
		Str("slot", "primary").
		Msg("email provider initialised")

	out := []manager.Descriptor{{
		Provider:             primary,
		Priority:             1,
		Enabled:              true,
		SupportsHighPriority: true,
		SupportsBulk:         true,
		RateLimit:            cfg.PrimaryRateLimit,
	}}

	if normalize(cfg.Secondary, "") == "" {
		return out, nil
	}

	var mockOpts []emailprovider.MockOption
	if normalize(cfg.Secondary, "") == normalize(cfg.Primary, config.BackendDev) {
		if normalize(cfg.Secondary, "") != config.BackendMock {
			return nil, fmt.Errorf("factory: primary and secondary provider are both %q", cfg.Secondary)
		}
		mockOpts = append(mockOpts, emailprovider.WithMockName("mock-secondary"))
	}

	secondary, err := Email(cfg.Secondary, cfg, logger, mockOpts...)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("backend", secondary.Name()).
		Str("slot", "secondary").
		Msg("email provider initialised")

	out = append(out, manager.Descriptor{
		Provider:             secondary,
		Priority:             2,
		Enabled:              true,
		SupportsHighPriority: true,
		SupportsBulk:         true,
		RateLimit:            cfg.SecondaryRateLimit,
	})
	return out, nil
}

// Register builds the configured providers and registers them with m.
func Register(m *manager.Manager, cfg config.ProviderConfig, logger zerolog.Logger) error {
	descriptors, err := Descriptors(cfg, logger)
	if err != nil {
		return err
	}
	for _, d := range descriptors {
		if err := m.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func normalize(value, def string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return def
	}
	return value
}
