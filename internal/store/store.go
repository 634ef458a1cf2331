// Package store defines the entity store the notification pipeline persists
// templates and send logs in, with an in-memory implementation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Collection names used by the repositories.
const (
	CollectionTemplates = "email_templates"
	CollectionLogs      = "email_logs"
)

// Common store errors.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrConflict is returned when creating a document whose id is taken.
	ErrConflict = errors.New("store: document already exists")
)

// Document is a JSON-shaped record. Every stored document has a string "id".
type Document map[string]any

// ID returns the document identifier.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Query selects documents from a collection. Filter matches top-level fields
// by equality. Sort names a field, prefixed with "-" for descending order.
type Query struct {
	Filter map[string]any
	Sort   string
	Limit  int
}

// EntityStore is a document store over named collections.
type EntityStore interface {
	Filter(ctx context.Context, collection string, q Query) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Create(ctx context.Context, collection string, doc Document) (Document, error)
	Update(ctx context.Context, collection, id string, patch Document) (Document, error)
	// Increment atomically adds delta to a numeric field and applies patch
	// in the same write.
	Increment(ctx context.Context, collection, id, field string, delta int64, patch Document) (Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// Encode converts a tagged struct into a Document via its JSON form.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return doc, nil
}

// Decode fills out from doc via its JSON form.
func Decode(doc Document, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

// Normalize round-trips doc through JSON so values compare the same way
// regardless of the backend that produced them.
func Normalize(doc Document) (Document, error) {
	return Encode(doc)
}

// Matches reports whether doc satisfies every filter field.
func Matches(doc Document, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	norm, err := Encode(filter)
	if err != nil {
		return false
	}
	for key, want := range norm {
		if !reflect.DeepEqual(doc[key], want) {
			return false
		}
	}
	return true
}

// Apply filters, sorts and limits docs according to q.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if Matches(doc, q.Filter) {
			out = append(out, doc)
		}
	}

	if q.Sort != "" {
		field, desc := strings.TrimPrefix(q.Sort, "-"), strings.HasPrefix(q.Sort, "-")
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return less(out[j][field], out[i][field])
			}
			return less(out[i][field], out[j][field])
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// less orders nil first, then numbers, strings and booleans by value.
func less(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b != nil
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return !av && bv
		}
	}
	return false
}

// AddInt returns a copy of doc with delta added to field. A missing or
// non-numeric field counts as zero.
func AddInt(doc Document, field string, delta int64) Document {
	out := Merge(doc, nil)
	var current int64
	switch v := doc[field].(type) {
	case float64:
		current = int64(v)
	case int:
		current = int64(v)
	case int64:
		current = v
	case json.Number:
		current, _ = v.Int64()
	}
	out[field] = float64(current + delta)
	return out
}

// Merge returns a copy of base with patch applied on top. The id is kept.
func Merge(base, patch Document) Document {
	out := make(Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}
