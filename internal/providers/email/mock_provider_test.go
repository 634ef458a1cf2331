package email_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-pipeline/internal/config"
	emailprovider "github.com/example/notification-pipeline/internal/providers/email"
)

func sampleMessage() *emailprovider.Message {
	return &emailprovider.Message{To: "a@b.com", Subject: "Hello", HTMLBody: "<p>Hi</p>"}
}

func TestMockProviderSucceedsByDefault(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := emailprovider.NewMockProvider(zerolog.New(io.Discard), emailprovider.WithClock(func() time.Time { return fixed }), emailprovider.WithRandomSeed(7))

	res, err := p.Send(context.Background(), sampleMessage())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.MessageID)
	assert.Empty(t, res.Error)
	assert.True(t, res.Timestamp.Equal(fixed), "expected injected clock, got %s", res.Timestamp)
	assert.Equal(t, 1, p.Calls())
}

func TestMockProviderAlwaysFail(t *testing.T) {
	p := emailprovider.NewMockProvider(zerolog.Nop(), emailprovider.MockOptionsFromConfig(config.MockConfig{
		AlwaysFail:   true,
		ErrorMessage: "500 Internal",
	})...)

	res, err := p.Send(context.Background(), sampleMessage())
	require.EqualError(t, err, "500 Internal")
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, "500 Internal", res.Error)
	assert.Empty(t, res.MessageID)
}

func TestMockProviderAlwaysSucceedOverridesFailureRate(t *testing.T) {
	p := emailprovider.NewMockProvider(zerolog.Nop(), emailprovider.WithFailureRate(1), emailprovider.WithAlwaysSucceed(true))
	for i := 0; i < 10; i++ {
		_, err := p.Send(context.Background(), sampleMessage())
		require.NoError(t, err)
	}
}

func TestMockProviderFailureRate(t *testing.T) {
	p := emailprovider.NewMockProvider(zerolog.Nop(), emailprovider.WithFailureRate(0.5), emailprovider.WithRandomSeed(1))

	failures := 0
	for i := 0; i < 200; i++ {
		if _, err := p.Send(context.Background(), sampleMessage()); err != nil {
			failures++
		}
	}
	assert.InDelta(t, 100, failures, 40, "expected roughly half failures")
}

func TestMockProviderScenarioHeader(t *testing.T) {
	p := emailprovider.NewMockProvider(zerolog.Nop())

	msg := sampleMessage()
	msg.Headers = map[string]string{"x-mock-provider-scenario": "permanent"}
	res, err := p.Send(context.Background(), msg)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 550, res.Code)

	msg.Headers = map[string]string{"X-Mock-Provider-Scenario": "timeout"}
	_, err = p.Send(context.Background(), msg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockProviderDelayHonoursContext(t *testing.T) {
	p := emailprovider.NewMockProvider(zerolog.Nop(), emailprovider.WithDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Send(ctx, sampleMessage())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockProviderHealth(t *testing.T) {
	p := emailprovider.NewMockProvider(zerolog.Nop())
	require.True(t, emailprovider.IsAvailable(context.Background(), p))

	p.SetHealthy(false)
	health := emailprovider.CheckHealth(context.Background(), p)
	assert.False(t, health.Healthy)
	assert.NotEmpty(t, health.Message)
}

func TestDevProviderRecordsMessages(t *testing.T) {
	p := emailprovider.NewDevProvider(zerolog.Nop(), emailprovider.WithDevCapacity(2))

	for _, to := range []string{"a@b.com", "c@d.com", "e@f.com"} {
		msg := sampleMessage()
		msg.To = to
		res, err := p.Send(context.Background(), msg)
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	sent := p.Sent()
	require.Len(t, sent, 2, "only the two most recent sends are kept")
	assert.Equal(t, "c@d.com", sent[0].Message.To)
	assert.Equal(t, "e@f.com", sent[1].Message.To)

	last, ok := p.Last()
	require.True(t, ok)
	assert.NotEmpty(t, last.MessageID)

	p.Reset()
	assert.Empty(t, p.Sent())
}

func TestDevProviderRejectsInvalidMessage(t *testing.T) {
	p := emailprovider.NewDevProvider(zerolog.Nop())
	_, err := p.Send(context.Background(), &emailprovider.Message{To: "a@b.com"})
	assert.ErrorIs(t, err, emailprovider.ErrInvalidMessage)
}
