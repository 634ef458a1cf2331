package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/logger"
)

// AuditStatus is the outcome of one stage execution.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditError   AuditStatus = "error"
	AuditSkipped AuditStatus = "skipped"
)

const (
	defaultAuditMaxEntries = 10000
	defaultAuditRetention  = 24 * time.Hour
)

// AuditEntry records a single stage outcome for a single pipeline run.
type AuditEntry struct {
	PipelineID string         `json:"pipeline_id"`
	Stage      string         `json:"stage"`
	Status     AuditStatus    `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// AuditFilter selects entries. Zero fields match everything.
type AuditFilter struct {
	PipelineID string
	Stage      string
	Status     AuditStatus
	Since      time.Time
	Until      time.Time
	Limit      int
}

func (f AuditFilter) matches(e AuditEntry) bool {
	switch {
	case f.PipelineID != "" && e.PipelineID != f.PipelineID:
		return false
	case f.Stage != "" && e.Stage != f.Stage:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.Timestamp.After(f.Until):
		return false
	}
	return true
}

// AuditLog is an append-only, size-capped log of stage outcomes with
// time-based retention.
type AuditLog struct {
	mu         sync.RWMutex
	entries    []AuditEntry
	maxEntries int
	retention  time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// AuditOption customises an AuditLog.
type AuditOption func(*AuditLog)

// WithMaxEntries caps the number of retained entries.
func WithMaxEntries(n int) AuditOption {
	return func(a *AuditLog) {
		if n > 0 {
			a.maxEntries = n
		}
	}
}

// WithRetention sets how long entries survive Cleanup.
func WithRetention(d time.Duration) AuditOption {
	return func(a *AuditLog) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithAuditClock overrides the clock used for timestamps and retention.
func WithAuditClock(now func() time.Time) AuditOption {
	return func(a *AuditLog) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuditLog constructs an empty audit log.
func NewAuditLog(log zerolog.Logger, opts ...AuditOption) *AuditLog {
	a := &AuditLog{
		maxEntries: defaultAuditMaxEntries,
		retention:  defaultAuditRetention,
		now:        time.Now,
		logger:     logger.Component(log, "audit"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Record appends entry, evicting the oldest entries past the cap. A zero
// timestamp is stamped with the current time.
func (a *AuditLog) Record(entry AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	if len(a.entries) > a.maxEntries {
		a.entries = a.entries[len(a.entries)-a.maxEntries:]
	}
}

// Len returns the number of retained entries.
func (a *AuditLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// ByPipeline returns every entry for a pipeline run in recording order.
func (a *AuditLog) ByPipeline(pipelineID string) []AuditEntry {
	return a.Query(AuditFilter{PipelineID: pipelineID})
}

// ByStage returns every entry for a stage in recording order.
func (a *AuditLog) ByStage(stage string) []AuditEntry {
	return a.Query(AuditFilter{Stage: stage})
}

// Query returns matching entries in recording order. With a limit, the most
// recent matches are kept.
func (a *AuditLog) Query(f AuditFilter) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AuditEntry, 0)
	for _, e := range a.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Cleanup drops entries older than the retention window and returns how
// many were removed.
func (a *AuditLog) Cleanup() int {
	cutoff := a.now().Add(-a.retention)
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.entries[:0]
	for _, e := range a.entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(a.entries) - len(kept)
	for i := len(kept); i < len(a.entries); i++ {
		a.entries[i] = AuditEntry{}
	}
	a.entries = kept
	return removed
}

// Export serialises the entries matching f as indented JSON.
func (a *AuditLog) Export(f AuditFilter) ([]byte, error) {
	entries := a.Query(f)
	payload := struct {
		ExportedAt time.Time    `json:"exported_at"`
		Count      int          `json:"count"`
		Entries    []AuditEntry `json:"entries"`
	}{
		ExportedAt: a.now(),
		Count:      len(entries),
		Entries:    entries,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("observability: export audit: %w", err)
	}
	return data, nil
}

// StartCleanup runs Cleanup every interval until ctx is cancelled or Stop
// is called. Calling it while a loop is running does nothing.
func (a *AuditLog) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	a.loopMu.Lock()
	defer a.loopMu.Unlock()
	if a.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if removed := a.Cleanup(); removed > 0 {
					a.logger.Debug().Int("removed", removed).Msg("audit entries expired")
				}
			}
		}
	}()
}

// Stop halts the cleanup loop and waits for it to exit.
func (a *AuditLog) Stop() {
	a.loopMu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
