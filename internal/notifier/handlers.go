package notifier

import (
	"context"
	"errors"
	"sort"

	"github.com/example/notification-pipeline/internal/events"
	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/pipeline"
	"github.com/example/notification-pipeline/internal/providers/manager"
)

// EventSource tags sends triggered from the event bus.
const EventSource = "event_bus"

// Subscribe registers a handler on bus for every event in the registry and
// returns the subscribed names.
func (n *Notifier) Subscribe(bus events.Bus) ([]string, error) {
	names := models.EventNames()
	sort.Strings(names)
	for _, name := range names {
		if err := bus.Subscribe(name, n.HandleEvent); err != nil {
			return nil, err
		}
	}
	n.logger.Info().Int("events", len(names)).Msg("subscribed to domain events")
	return names, nil
}

// HandleEvent runs evt through the pipeline. Only routing failures are
// returned so the bus can redeliver; invalid payloads and failed sends are
// logged and acknowledged.
func (n *Notifier) HandleEvent(ctx context.Context, evt events.Event) error {
	log := n.logger.With().
		Str("event", evt.Name).
		Str("event_id", evt.ID).
		Str("email_type", models.EmailTypeForEvent(evt.Name)).
		Logger()

	source := evt.Source
	if source == "" {
		source = EventSource
	}
	out, err := n.SendEvent(ctx, evt.Name, evt.ID, source, evt.Payload)
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) && stageErr.Stage == pipeline.StageRoute && errors.Is(err, manager.ErrNoProvider) {
			log.Error().Err(err).Msg("no provider available for event")
			return err
		}
		log.Warn().Err(err).Msg("event rejected")
		return nil
	}
	if !out.Success {
		log.Warn().Str("pipeline_id", out.PipelineID).Str("error", out.Error).Msg("event notification failed")
		return nil
	}
	log.Debug().Str("pipeline_id", out.PipelineID).Str("provider", out.Provider).Msg("event notification sent")
	return nil
}
