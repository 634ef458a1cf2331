package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/observability"
	"github.com/example/notification-pipeline/internal/pipeline"
	"github.com/example/notification-pipeline/internal/providers/email"
	"github.com/example/notification-pipeline/internal/providers/manager"
	"github.com/example/notification-pipeline/internal/repository"
	"github.com/example/notification-pipeline/internal/retry"
	"github.com/example/notification-pipeline/internal/store"
	"github.com/example/notification-pipeline/internal/templating"
)

type harness struct {
	pipeline  *pipeline.Pipeline
	provider  *email.MockProvider
	manager   *manager.Manager
	templates *repository.TemplateRepository
	logs      *repository.LogRepository
	metrics   *observability.Metrics
	audit     *observability.AuditLog
}

type harnessOption func(*pipeline.Dependencies)

func newHarness(t *testing.T, mockOpts []email.MockOption, opts ...harnessOption) *harness {
	t.Helper()

	st := store.NewMemory()
	h := &harness{
		provider:  email.NewMockProvider(zerolog.Nop(), mockOpts...),
		manager:   manager.New(zerolog.Nop()),
		templates: repository.NewTemplateRepository(st, zerolog.Nop()),
		logs:      repository.NewLogRepository(st, zerolog.Nop()),
		audit:     observability.NewAuditLog(zerolog.Nop()),
	}
	metrics, err := observability.NewMetrics()
	require.NoError(t, err)
	h.metrics = metrics

	require.NoError(t, h.manager.Register(manager.Descriptor{
		Provider:             h.provider,
		Priority:             1,
		Enabled:              true,
		SupportsHighPriority: true,
	}))

	noWait := retry.WithSleeper(func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil })
	deps := pipeline.Dependencies{
		Templates:     h.templates,
		Usage:         h.templates,
		Logs:          h.logs,
		Router:        h.manager,
		Metrics:       h.metrics,
		Audit:         h.audit,
		Engine:        templating.New(),
		Transactional: retry.New("transactional", retry.Transactional(), noWait),
		Branding:      pipeline.Branding{Name: "Sample Store", SupportEmail: "help@example.com", FromName: "Sample Store"},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	p, err := pipeline.New(deps)
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func orderPlacedEvent() map[string]any {
	return map[string]any{
		"type":          "ORDER_PLACED",
		"customerEmail": "a@b.com",
		"customerName":  "A",
		"orderId":       "1",
		"orderNumber":   "X1",
		"totalAmount":   10000,
		"items": []any{
			map[string]any{"productName": "Shirt", "quantity": 1, "price": 10000},
		},
	}
}

func TestOrderPlacedIsSentWithBuiltinTemplate(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysSucceed(true)})

	pc, err := h.pipeline.Run(context.Background(), pipeline.Input{Data: orderPlacedEvent()})
	require.NoError(t, err)

	require.NotNil(t, pc.Payload)
	assert.Equal(t, models.EmailTypeOrderConfirmation, pc.Payload.EmailType)
	assert.Equal(t, models.PriorityHigh, pc.Payload.Priority)
	assert.Equal(t, "10.000 ₫", pc.Payload.Variables["total_amount_formatted"])
	assert.Equal(t, "1", pc.Payload.Metadata.OrderID)

	assert.Equal(t, models.TemplateSourceBuiltin, pc.Template.Source)
	assert.Equal(t, "Order #X1 confirmed", pc.Rendered.Subject)
	assert.Contains(t, pc.Rendered.HTMLBody, "Shirt")
	assert.Empty(t, pc.Rendered.RenderError)
	assert.NotEmpty(t, pc.Rendered.TextBody)

	require.NotNil(t, pc.Result)
	assert.True(t, pc.Result.Success)
	assert.NotEmpty(t, pc.Result.MessageID)
	assert.Empty(t, pc.Result.Error)
	assert.Equal(t, pipeline.StateHandled, pc.State)

	logs, err := h.logs.ListByOrder(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusSent, logs[0].Status)
	assert.Equal(t, "a@b.com", logs[0].RecipientEmail)

	stages := make([]string, 0)
	for _, e := range h.audit.ByPipeline(pc.PipelineID) {
		stages = append(stages, e.Stage)
	}
	assert.Equal(t, []string{
		pipeline.StageNormalize,
		pipeline.StageSelectTemplate,
		pipeline.StageRender,
		pipeline.StageRoute,
		pipeline.StageSend,
		pipeline.StageHandleResult,
	}, stages)
}

func TestOrderPlacedRetriesThenFails(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysFail(true), email.WithErrorMessage("500 Internal")})

	pc, err := h.pipeline.Run(context.Background(), pipeline.Input{Data: orderPlacedEvent()})
	require.NoError(t, err)

	require.NotNil(t, pc.Result)
	assert.False(t, pc.Result.Success)
	assert.Equal(t, "500 Internal", pc.Result.Error)
	assert.Equal(t, retry.Transactional().MaxRetries, pc.Result.Attempts)
	assert.Equal(t, retry.Transactional().MaxRetries, h.provider.Calls())
	assert.True(t, pc.Retryable)

	logs, err := h.logs.ListByOrder(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusFailed, logs[0].Status)
	assert.Equal(t, "500 Internal", logs[0].ErrorMessage)

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.TotalFailed)
	assert.Equal(t, int64(1), snap.FailureReasons["500"])
}

func TestNonRetryableFailureStopsAfterOneAttempt(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysFail(true), email.WithErrorMessage("401 unauthorized")})

	pc, err := h.pipeline.Run(context.Background(), pipeline.Input{Data: orderPlacedEvent()})
	require.NoError(t, err)
	assert.False(t, pc.Result.Success)
	assert.Equal(t, 1, h.provider.Calls())
	assert.False(t, pc.Retryable)
}

func TestNormalPriorityGetsSingleAttempt(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysFail(true), email.WithErrorMessage("503 unavailable")})

	event := orderPlacedEvent()
	event["type"] = "ORDER_SHIPPED"
	pc, err := h.pipeline.Run(context.Background(), pipeline.Input{Data: event})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityNormal, pc.Payload.Priority)
	assert.Equal(t, 1, h.provider.Calls())
}

func TestUnknownEventUsesGenericTemplate(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysSucceed(true)})

	pc, err := h.pipeline.Run(context.Background(), pipeline.Input{
		EventType: "SOMETHING_ELSE",
		Data:      map[string]any{"email": "someone@example.com", "name": "Binh"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.EmailTypeCustom, pc.Payload.EmailType)
	assert.Equal(t, models.PriorityNormal, pc.Payload.Priority)
	assert.Equal(t, models.TemplateSourceBuiltin, pc.Template.Source)
	assert.True(t, pc.Template.Generic)
	assert.Empty(t, pc.Rendered.RenderError)
	assert.Contains(t, pc.Rendered.HTMLBody, "Hello Binh,")
	assert.True(t, pc.Result.Success)
}

type brokenFinder struct{}

func (brokenFinder) FindActive(context.Context, string) (*models.Template, error) {
	return &models.Template{ID: "broken", Type: "order_confirmation", Subject: "Hi", HTMLContent: "{{#each items}}{{product_name}}"}, nil
}

func TestRenderFailureStillSendsAndLogs(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysSucceed(true)}, func(d *pipeline.Dependencies) {
		d.Templates = brokenFinder{}
		d.Usage = nil
	})

	pc, err := h.pipeline.Run(context.Background(), pipeline.Input{Data: orderPlacedEvent()})
	require.NoError(t, err)

	assert.Equal(t, models.TemplateSourceDatabase, pc.Template.Source)
	assert.NotEmpty(t, pc.Rendered.RenderError)
	assert.Equal(t, "A message from Sample Store", pc.Rendered.Subject)
	require.NotNil(t, pc.Result)
	assert.True(t, pc.Result.Success)

	logs, err := h.logs.ListByOrder(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, pc.Rendered.RenderError, logs[0].Metadata["render_error"])
}

func TestTemplateUsageAudit(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysSucceed(true)})

	pc, err := h.pipeline.Run(context.Background(), pipeline.Input{Data: orderPlacedEvent()})
	require.NoError(t, err)
	require.Equal(t, models.TemplateSourceBuiltin, pc.Template.Source)
	handled := h.audit.ByPipeline(pc.PipelineID)
	require.NotEmpty(t, handled)
	assert.Equal(t, observability.AuditSkipped, handled[len(handled)-1].Data["template_usage"])

	saved, err := h.templates.Save(context.Background(), &models.Template{
		Name:        "confirmation",
		Type:        models.EmailTypeOrderConfirmation,
		Subject:     "Order {{order_number}}",
		HTMLContent: "<p>Thanks {{recipient_name}}</p>",
		IsActive:    true,
		IsDefault:   true,
	})
	require.NoError(t, err)

	pc, err = h.pipeline.Run(context.Background(), pipeline.Input{Data: orderPlacedEvent()})
	require.NoError(t, err)
	require.Equal(t, models.TemplateSourceDatabase, pc.Template.Source)
	handled = h.audit.ByPipeline(pc.PipelineID)
	require.NotEmpty(t, handled)
	assert.Equal(t, observability.AuditSuccess, handled[len(handled)-1].Data["template_usage"])

	stored, err := h.templates.Get(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UsageCount)
}

type failingLogs struct{}

func (failingLogs) Write(context.Context, *models.LogEntry) error {
	return errors.New("store offline")
}

func TestResultHandlerIsolatesFailures(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysSucceed(true)}, func(d *pipeline.Dependencies) {
		d.Logs = failingLogs{}
	})

	pc, err := h.pipeline.Run(context.Background(), pipeline.Input{Data: orderPlacedEvent()})
	require.NoError(t, err)
	assert.True(t, pc.Result.Success)
	assert.Equal(t, int64(1), h.metrics.Snapshot().TotalSent)

	handled := h.audit.ByStage(pipeline.StageHandleResult)
	require.Len(t, handled, 1)
	assert.Equal(t, observability.AuditError, handled[0].Status)
	assert.Contains(t, handled[0].Error, "store offline")
}

func TestInputErrorsAbortBeforeSend(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysSucceed(true)})

	_, err := h.pipeline.Run(context.Background(), pipeline.Input{
		EventType: models.EventOrderPlaced,
		Data:      map[string]any{"customerEmail": "not-an-email"},
	})
	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageNormalize, stageErr.Stage)
	assert.ErrorIs(t, err, pipeline.ErrInvalidRecipient)

	_, err = h.pipeline.Run(context.Background(), pipeline.Input{
		EventType: models.EventOrderPlaced,
		Data:      map[string]any{"customerEmail": "a@b.com"},
	})
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageSelectTemplate, stageErr.Stage)
	assert.ErrorIs(t, err, pipeline.ErrMissingVariables)

	assert.Zero(t, h.provider.Calls())
	errorsAudited := h.audit.Query(observability.AuditFilter{Status: observability.AuditError})
	assert.Len(t, errorsAudited, 2)
}

func TestRoutingErrorAbortsPipeline(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysSucceed(true)})
	h.manager.SetEnabled(h.provider.Name(), false)

	_, err := h.pipeline.Run(context.Background(), pipeline.Input{Data: orderPlacedEvent()})
	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageRoute, stageErr.Stage)
	assert.ErrorIs(t, err, manager.ErrNoProvider)
}

func TestStoredTemplateUsageIsIncremented(t *testing.T) {
	h := newHarness(t, []email.MockOption{email.WithAlwaysSucceed(true)})
	ctx := context.Background()

	saved, err := h.templates.Save(ctx, &models.Template{
		Name:        "Welcome v2",
		Type:        models.EmailTypeWelcome,
		Subject:     "Hi {{recipient_name|uppercase}}",
		HTMLContent: "<p>Welcome to {{brand_name}}</p>",
		IsActive:    true,
		IsDefault:   true,
	})
	require.NoError(t, err)

	pc, err := h.pipeline.Run(ctx, pipeline.Input{
		EventType: models.EventUserRegistered,
		Data:      map[string]any{"email": "new@example.com", "name": "Lan"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi LAN", pc.Rendered.Subject)
	assert.Equal(t, saved.ID, pc.Template.ID)

	reloaded, err := h.templates.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.UsageCount)
}

func TestHeadersReachProvider(t *testing.T) {
	h := newHarness(t, nil)

	pc, err := h.pipeline.Run(context.Background(), pipeline.Input{
		Data:    orderPlacedEvent(),
		Headers: map[string]string{"X-Mock-Provider-Scenario": "permanent"},
	})
	require.NoError(t, err)
	assert.False(t, pc.Result.Success)
	assert.Contains(t, pc.Result.Error, "550 mailbox unavailable")
	assert.Equal(t, 1, h.provider.Calls())
}
