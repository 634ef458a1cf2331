package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process EntityStore. Documents are kept in insertion order.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	order []string
	docs  map[string]Document
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) collection(name string) *memoryCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]Document)}
		m.collections[name] = c
	}
	return c
}

// Filter implements EntityStore.
func (m *Memory) Filter(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	c, ok := m.collections[collection]
	var docs []Document
	if ok {
		docs = make([]Document, 0, len(c.order))
		for _, id := range c.order {
			docs = append(docs, clone(c.docs[id]))
		}
	}
	m.mu.RUnlock()
	return Apply(docs, q), nil
}

// Get implements EntityStore.
func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(doc), nil
}

// Create implements EntityStore. A missing id is generated.
func (m *Memory) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	norm, err := Normalize(doc)
	if err != nil {
		return nil, err
	}
	if norm.ID() == "" {
		norm["id"] = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	if _, exists := c.docs[norm.ID()]; exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrConflict, collection, norm.ID())
	}
	c.docs[norm.ID()] = norm
	c.order = append(c.order, norm.ID())
	return clone(norm), nil
}

// Update implements EntityStore.
func (m *Memory) Update(ctx context.Context, collection, id string, patch Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	norm, err := Normalize(patch)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	base, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	merged := Merge(base, norm)
	c.docs[id] = merged
	return clone(merged), nil
}

// Increment implements EntityStore.
func (m *Memory) Increment(ctx context.Context, collection, id, field string, delta int64, patch Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	norm, err := Normalize(patch)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	base, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	merged := AddInt(Merge(base, norm), field, delta)
	c.docs[id] = merged
	return clone(merged), nil
}

// Delete implements EntityStore.
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return ErrNotFound
	}
	if _, ok := c.docs[id]; !ok {
		return ErrNotFound
	}
	delete(c.docs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func clone(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
