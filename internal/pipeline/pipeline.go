package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/logger"
	"github.com/example/notification-pipeline/internal/observability"
	"github.com/example/notification-pipeline/internal/retry"
	"github.com/example/notification-pipeline/internal/templating"
)

// Stage is one step of the chain. It receives a copy of the context and
// returns it with its own fields set.
type Stage interface {
	Name() string
	Run(ctx context.Context, pc Context) (Context, error)
}

// Branding carries the sender identity used in variables and messages.
type Branding struct {
	Name         string
	SupportEmail string
	FromName     string
}

// Dependencies collects the collaborators a Pipeline needs. Router and
// Engine are required; the rest may be nil.
type Dependencies struct {
	Templates     TemplateFinder
	Usage         UsageTracker
	Logs          LogWriter
	Router        Router
	Metrics       MetricsRecorder
	Audit         Auditor
	Tasks         Scheduler
	Engine        *templating.Engine
	Transactional *retry.Policy
	Branding      Branding
	SendTimeout   time.Duration
	Logger        zerolog.Logger
	Now           func() time.Time
	NewID         func() string
}

// Pipeline runs the six stages in order for each send.
type Pipeline struct {
	normalizer *Normalizer
	stages     []Stage
	audit      Auditor
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
}

// New wires the stage chain.
func New(deps Dependencies) (*Pipeline, error) {
	if deps.Router == nil {
		return nil, errors.New("pipeline: router dependency is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("pipeline: template engine dependency is required")
	}

	log := logger.Component(deps.Logger, "pipeline")
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	normalizer := newNormalizer(deps.Engine, deps.Branding, now)
	stages := []Stage{
		normalizer,
		&TemplateSelector{finder: deps.Templates, logger: log},
		&Renderer{engine: deps.Engine, logger: log, now: now},
		&ProviderRouter{router: deps.Router},
		&SendExecutor{
			router:        deps.Router,
			transactional: deps.Transactional,
			branding:      deps.Branding,
			timeout:       deps.SendTimeout,
			logger:        log,
			now:           now,
		},
		&ResultHandler{
			logs:    deps.Logs,
			usage:   deps.Usage,
			metrics: deps.Metrics,
			audit:   deps.Audit,
			tasks:   deps.Tasks,
			logger:  log,
			now:     now,
		},
	}

	return &Pipeline{
		normalizer: normalizer,
		stages:     stages,
		audit:      deps.Audit,
		logger:     log,
		now:        now,
		newID:      newID,
	}, nil
}

// Variables derives template variables from data the same way the
// normaliser does for a send, without resolving a recipient. Preview
// tooling uses it so samples render with formatted amounts and branding.
func (p *Pipeline) Variables(data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	return p.normalizer.variables(data, p.now())
}

// Run executes every stage for in. Input errors from normalisation and
// template selection, and routing errors, abort the run and are returned as
// a *StageError together with the partial context. Send failures are
// reported in the returned context's Result.
func (p *Pipeline) Run(ctx context.Context, in Input) (Context, error) {
	pc := Context{
		PipelineID: p.newID(),
		StartedAt:  p.now(),
		State:      StateNew,
		Input:      in,
	}

	for _, stage := range p.stages {
		started := p.now()
		next, err := stage.Run(ctx, pc)
		if err != nil {
			p.record(pc.PipelineID, stage.Name(), started, err)
			p.logger.Warn().
				Err(err).
				Str("pipeline_id", pc.PipelineID).
				Str("stage", stage.Name()).
				Msg("pipeline aborted")
			return pc, &StageError{Stage: stage.Name(), Err: err}
		}
		pc = next
		if stage.Name() != StageHandleResult {
			p.record(pc.PipelineID, stage.Name(), started, nil)
		}
	}
	return pc, nil
}

func (p *Pipeline) record(pipelineID, stage string, started time.Time, err error) {
	if p.audit == nil {
		return
	}
	now := p.now()
	entry := observability.AuditEntry{
		PipelineID: pipelineID,
		Stage:      stage,
		Status:     observability.AuditSuccess,
		Timestamp:  now,
		DurationMs: now.Sub(started).Milliseconds(),
	}
	if err != nil {
		entry.Status = observability.AuditError
		entry.Error = err.Error()
	}
	_ = guard(func() error {
		p.audit.Record(entry)
		return nil
	})
}
