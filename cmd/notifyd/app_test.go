package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-pipeline/internal/config"
	"github.com/example/notification-pipeline/internal/events"
	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/notifier"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("EVENT_BUS", "memory")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("EMAIL_PRIMARY_PROVIDER", "dev")
	t.Setenv("EMAIL_SECONDARY_PROVIDER", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuildAppDeliversBusEvents(t *testing.T) {
	a, err := buildApp(testConfig(t), zerolog.Nop(), true)
	require.NoError(t, err)
	t.Cleanup(a.close)

	payload := a.notifier.SampleData(models.EmailTypeOrderConfirmation)
	payload["recipient_email"] = "buyer@example.com"
	require.NoError(t, a.bus.Publish(context.Background(), events.New(models.EventOrderPlaced, payload)))

	stats, err := a.notifier.EmailStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.ByType[models.EmailTypeOrderConfirmation])

	snap := a.metrics.Snapshot()
	assert.EqualValues(t, 1, snap.TotalSent)

	families, err := a.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestBuildAppWithoutBus(t *testing.T) {
	a, err := buildApp(testConfig(t), zerolog.Nop(), false)
	require.NoError(t, err)
	t.Cleanup(a.close)

	assert.Nil(t, a.bus)
	res, err := a.notifier.PreviewTemplate(context.Background(), notifier.PreviewRequest{Type: models.EmailTypeWelcome})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Subject)
}

func TestReadData(t *testing.T) {
	data, err := readData("")
	require.NoError(t, err)
	assert.Nil(t, data)

	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"order_number":"DH-1"}`), 0o600))
	data, err = readData(path)
	require.NoError(t, err)
	assert.Equal(t, "DH-1", data["order_number"])

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))
	_, err = readData(path)
	assert.Error(t, err)
}

func TestValidateTemplateCommandRejectsBrokenBody(t *testing.T) {
	testConfig(t)
	path := filepath.Join(t.TempDir(), "body.html")
	require.NoError(t, os.WriteFile(path, []byte(`<p>{{#if name}}open</p>`), 0o600))

	cmd := validateTemplateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--subject", "Hi {{name}}", "--file", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, out.String(), `"valid": false`)
}
