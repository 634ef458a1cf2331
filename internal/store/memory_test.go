package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Active    bool      `json:"is_active"`
	Count     int       `json:"usage_count"`
	CreatedAt time.Time `json:"created_at"`
}

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	doc, err := Encode(sample{Type: "welcome", Active: true, Count: 1})
	require.NoError(t, err)
	delete(doc, "id")

	created, err := m.Create(ctx, CollectionTemplates, doc)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID())

	_, err = m.Create(ctx, CollectionTemplates, Document{"id": created.ID()})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := m.Get(ctx, CollectionTemplates, created.ID())
	require.NoError(t, err)
	var decoded sample
	require.NoError(t, Decode(got, &decoded))
	assert.Equal(t, "welcome", decoded.Type)
	assert.Equal(t, 1, decoded.Count)

	updated, err := m.Update(ctx, CollectionTemplates, created.ID(), Document{"usage_count": 5, "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, float64(5), updated["usage_count"])
	assert.Equal(t, created.ID(), updated.ID())

	_, err = m.Update(ctx, CollectionTemplates, "missing", Document{})
	assert.ErrorIs(t, err, ErrNotFound)

	bumped, err := m.Increment(ctx, CollectionTemplates, created.ID(), "usage_count", 2, Document{"last_used_at": "now"})
	require.NoError(t, err)
	assert.Equal(t, float64(7), bumped["usage_count"])
	assert.Equal(t, "now", bumped["last_used_at"])
	_, err = m.Increment(ctx, CollectionTemplates, "missing", "usage_count", 1, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Delete(ctx, CollectionTemplates, created.ID()))
	_, err = m.Get(ctx, CollectionTemplates, created.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, CollectionTemplates, created.ID()), ErrNotFound)
}

func TestMemoryFilterSortLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, typ := range []string{"welcome", "newsletter", "welcome", "welcome"} {
		doc, err := Encode(sample{ID: string(rune('a' + i)), Type: typ, Active: i != 2, Count: i, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
		_, err = m.Create(ctx, CollectionLogs, doc)
		require.NoError(t, err)
	}

	docs, err := m.Filter(ctx, CollectionLogs, Query{Filter: map[string]any{"type": "welcome", "is_active": true}})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID())
	assert.Equal(t, "d", docs[1].ID())

	docs, err = m.Filter(ctx, CollectionLogs, Query{Sort: "-created_at", Limit: 2})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d", docs[0].ID())
	assert.Equal(t, "c", docs[1].ID())

	docs, err = m.Filter(ctx, CollectionLogs, Query{Filter: map[string]any{"usage_count": 1}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID())

	docs, err = m.Filter(ctx, "unknown", Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Create(ctx, CollectionLogs, Document{"status": "sent"})
		}()
	}
	wg.Wait()

	docs, err := m.Filter(ctx, CollectionLogs, Query{})
	require.NoError(t, err)
	assert.Len(t, docs, 50)
}
