package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/providers/email"
	"github.com/example/notification-pipeline/internal/retry"
)

// Header names stamped on every outbound message.
const (
	HeaderPipelineID = "X-Pipeline-ID"
	HeaderEmailType  = "X-Email-Type"
)

// SendExecutor is stage 5. High priority mail is sent under the
// transactional retry policy; everything else gets a single attempt.
// Provider failures become a failed SendResult, never an error.
type SendExecutor struct {
	router        Router
	transactional *retry.Policy
	branding      Branding
	timeout       time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// Name implements Stage.
func (s *SendExecutor) Name() string { return StageSend }

// Run implements Stage.
func (s *SendExecutor) Run(ctx context.Context, pc Context) (Context, error) {
	msg := s.message(pc)
	provider := pc.Provider

	var (
		res      *email.Result
		attempts int
		err      error
	)
	attempt := func(ctx context.Context) error {
		r, sendErr := s.attempt(ctx, provider, msg)
		res = r
		return sendErr
	}

	if pc.Payload.Priority == models.PriorityHigh && s.transactional != nil {
		attempts, err = s.transactional.ExecuteNotify(ctx, attempt, func(n int, err error, delay time.Duration) {
			s.logger.Warn().
				Err(err).
				Str("pipeline_id", pc.PipelineID).
				Str("provider", provider.Name()).
				Int("attempt", n).
				Dur("delay", delay).
				Msg("send failed; retrying")
		})
	} else {
		attempts, err = 1, attempt(ctx)
	}

	result := &models.SendResult{
		Provider:    provider.Name(),
		CompletedAt: s.now(),
		Attempts:    attempts,
	}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
		if res != nil {
			result.MessageID = res.MessageID
			if res.Provider != "" {
				result.Provider = res.Provider
			}
		}
	}

	pc.Result = result
	pc.SendErr = err
	pc.State = StateSent
	return pc, nil
}

// attempt performs one provider call, converting panics and unsuccessful
// results into errors.
func (s *SendExecutor) attempt(ctx context.Context, provider email.Provider, msg email.Message) (res *email.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("provider %s panicked: %v", provider.Name(), rec)
		}
	}()

	if s.router != nil {
		s.router.RecordUsage(provider.Name())
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// Each attempt gets its own copy; providers may stamp the message.
	m := msg
	res, err = provider.Send(ctx, &m)
	if err != nil {
		return res, err
	}
	if res == nil {
		return nil, errors.New("provider returned no result")
	}
	if !res.Success {
		if res.Error != "" {
			return res, errors.New(res.Error)
		}
		return res, errors.New("provider reported failure")
	}
	return res, nil
}

func (s *SendExecutor) message(pc Context) email.Message {
	headers := make(map[string]string, len(pc.Input.Headers)+2)
	for k, v := range pc.Input.Headers {
		headers[k] = v
	}
	headers[HeaderPipelineID] = pc.PipelineID
	headers[HeaderEmailType] = pc.Payload.EmailType

	return email.Message{
		To:       pc.Payload.RecipientEmail,
		ToName:   pc.Payload.RecipientName,
		FromName: s.branding.FromName,
		Subject:  pc.Rendered.Subject,
		HTMLBody: pc.Rendered.HTMLBody,
		TextBody: pc.Rendered.TextBody,
		Headers:  headers,
	}
}
