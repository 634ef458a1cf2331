// Package natskv implements store.EntityStore on NATS JetStream key-value
// buckets, one bucket per collection.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/store"
)

const (
	bucketHistory        = 5
	maxIncrementAttempts = 5
)

// Store keeps each collection in its own KV bucket. Buckets are created on
// first use.
type Store struct {
	js      jetstream.JetStream
	buckets map[string]string
	logger  zerolog.Logger

	mu   sync.Mutex
	open map[string]jetstream.KeyValue
}

// New wraps a JetStream context. buckets maps collection names to bucket
// names; unmapped collections use the upper-cased collection name.
func New(js jetstream.JetStream, buckets map[string]string, logger zerolog.Logger) *Store {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Store{
		js:      js,
		buckets: buckets,
		logger:  logger.With().Str("component", "natskv").Logger(),
		open:    make(map[string]jetstream.KeyValue),
	}
}

// Connect dials url and returns a Store plus a function closing the
// connection.
func Connect(url string, buckets map[string]string, logger zerolog.Logger) (*Store, func(), error) {
	nc, err := nats.Connect(url, nats.Name("notification-pipeline"))
	if err != nil {
		return nil, nil, fmt.Errorf("natskv: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("natskv: jetstream: %w", err)
	}
	return New(js, buckets, logger), nc.Close, nil
}

func (s *Store) bucket(ctx context.Context, collection string) (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kv, ok := s.open[collection]; ok {
		return kv, nil
	}

	name := s.buckets[collection]
	if name == "" {
		name = strings.ToUpper(collection)
	}
	kv, err := getOrCreateBucket(ctx, s.js, name)
	if err != nil {
		return nil, fmt.Errorf("natskv: bucket %s: %w", name, err)
	}
	s.open[collection] = kv
	return kv, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("notification pipeline %s", strings.ToLower(name)),
		History:     bucketHistory,
	})
}

// Filter implements store.EntityStore by scanning every key in the bucket.
func (s *Store) Filter(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}

	keys, err := kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("natskv: list %s keys: %w", collection, err)
	}

	docs := make([]store.Document, 0, len(keys))
	for _, key := range keys {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("collection", collection).Str("key", key).Msg("skipping unreadable entry")
			continue
		}
		var doc store.Document
		if err := json.Unmarshal(entry.Value(), &doc); err != nil {
			s.logger.Warn().Err(err).Str("collection", collection).Str("key", key).Msg("skipping malformed entry")
			continue
		}
		docs = append(docs, doc)
	}
	return store.Apply(docs, q), nil
}

// Get implements store.EntityStore.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}
	doc, _, err := get(ctx, kv, id)
	return doc, err
}

// Create implements store.EntityStore. A missing id is generated.
func (s *Store) Create(ctx context.Context, collection string, doc store.Document) (store.Document, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}

	norm, err := store.Normalize(doc)
	if err != nil {
		return nil, err
	}
	if norm.ID() == "" {
		norm["id"] = uuid.NewString()
	}

	data, err := json.Marshal(norm)
	if err != nil {
		return nil, fmt.Errorf("natskv: marshal: %w", err)
	}
	if _, err := kv.Create(ctx, norm.ID(), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrConflict, collection, norm.ID())
		}
		return nil, fmt.Errorf("natskv: create %s: %w", collection, err)
	}
	return norm, nil
}

// Update implements store.EntityStore with an optimistic revision check.
func (s *Store) Update(ctx context.Context, collection, id string, patch store.Document) (store.Document, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}

	base, revision, err := get(ctx, kv, id)
	if err != nil {
		return nil, err
	}
	norm, err := store.Normalize(patch)
	if err != nil {
		return nil, err
	}

	merged := store.Merge(base, norm)
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("natskv: marshal: %w", err)
	}
	if _, err := kv.Update(ctx, id, data, revision); err != nil {
		return nil, fmt.Errorf("natskv: update %s/%s: %w", collection, id, err)
	}
	return merged, nil
}

// Increment implements store.EntityStore. Revision conflicts are retried
// against a fresh read.
func (s *Store) Increment(ctx context.Context, collection, id, field string, delta int64, patch store.Document) (store.Document, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}
	norm, err := store.Normalize(patch)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxIncrementAttempts; attempt++ {
		base, revision, err := get(ctx, kv, id)
		if err != nil {
			return nil, err
		}
		merged := store.AddInt(store.Merge(base, norm), field, delta)
		data, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("natskv: marshal: %w", err)
		}
		if _, lastErr = kv.Update(ctx, id, data, revision); lastErr == nil {
			return merged, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debug().Err(lastErr).Str("collection", collection).Str("id", id).Int("attempt", attempt+1).Msg("increment conflict")
	}
	return nil, fmt.Errorf("natskv: increment %s/%s: %w", collection, id, lastErr)
}

// Delete implements store.EntityStore.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return err
	}
	if _, _, err := get(ctx, kv, id); err != nil {
		return err
	}
	if err := kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("natskv: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func get(ctx context.Context, kv jetstream.KeyValue, id string) (store.Document, uint64, error) {
	entry, err := kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, fmt.Errorf("natskv: get %s: %w", id, err)
	}
	var doc store.Document
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, 0, fmt.Errorf("natskv: unmarshal %s: %w", id, err)
	}
	return doc, entry.Revision(), nil
}
