package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/logger"
	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/store"
)

// LogRepository writes and queries send logs.
type LogRepository struct {
	store  store.EntityStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewLogRepository wraps an entity store.
func NewLogRepository(s store.EntityStore, log zerolog.Logger, opts ...Option) *LogRepository {
	o := buildOptions(opts)
	return &LogRepository{
		store:  s,
		logger: logger.Component(log, "log_repository"),
		now:    o.now,
	}
}

// Write persists entry, assigning an id and creation time when missing.
func (r *LogRepository) Write(ctx context.Context, entry *models.LogEntry) error {
	if entry == nil {
		return errors.New("repository: log entry is required")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if entry.SentAt != nil {
		sent := entry.SentAt.UTC()
		entry.SentAt = &sent
	}

	doc, err := store.Encode(entry)
	if err != nil {
		return err
	}
	if _, err := r.store.Create(ctx, store.CollectionLogs, doc); err != nil {
		return fmt.Errorf("repository: write log %s: %w", entry.ID, err)
	}
	r.logger.Debug().
		Str("log_id", entry.ID).
		Str("pipeline_id", entry.PipelineID).
		Str("status", entry.Status).
		Msg("send log written")
	return nil
}

// ListByOrder returns the logs recorded for an order, newest first.
func (r *LogRepository) ListByOrder(ctx context.Context, orderID string) ([]*models.LogEntry, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("repository: order id is required")
	}
	entries, err := r.list(ctx, map[string]any{"order_id": orderID}, 0)
	if err != nil {
		return nil, fmt.Errorf("repository: logs for order %s: %w", orderID, err)
	}
	return entries, nil
}

// ListByRecipient returns up to limit logs for a recipient, newest first.
// A non-positive limit returns everything.
func (r *LogRepository) ListByRecipient(ctx context.Context, email string, limit int) ([]*models.LogEntry, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	entries, err := r.list(ctx, map[string]any{"recipient_email": email}, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: logs for recipient: %w", err)
	}
	return entries, nil
}

// Stats counts every stored log by status and email type.
func (r *LogRepository) Stats(ctx context.Context) (models.LogStats, error) {
	stats := models.LogStats{
		ByType:   make(map[string]int),
		ByStatus: make(map[string]int),
	}
	docs, err := r.store.Filter(ctx, store.CollectionLogs, store.Query{})
	if err != nil {
		return stats, fmt.Errorf("repository: log stats: %w", err)
	}
	for _, doc := range docs {
		status, _ := doc["status"].(string)
		emailType, _ := doc["email_type"].(string)
		stats.Total++
		stats.ByStatus[status]++
		stats.ByType[emailType]++
		switch status {
		case models.LogStatusSent:
			stats.Sent++
		case models.LogStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (r *LogRepository) list(ctx context.Context, filter map[string]any, limit int) ([]*models.LogEntry, error) {
	docs, err := r.store.Filter(ctx, store.CollectionLogs, store.Query{Filter: filter})
	if err != nil {
		return nil, err
	}
	out := make([]*models.LogEntry, 0, len(docs))
	for _, doc := range docs {
		var entry models.LogEntry
		if err := store.Decode(doc, &entry); err != nil {
			r.logger.Warn().Err(err).Str("id", doc.ID()).Msg("skipping undecodable log")
			continue
		}
		out = append(out, &entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
