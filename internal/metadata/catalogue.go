// Package metadata caches the per-bucket catalogue (measurements, fields and
// tag keys) that the filter chain offers before any filter is chosen.
package metadata

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores that distinguish a miss from a failure.
var ErrNotFound = errors.New("metadata: catalogue not cached")

// Catalogue is the discovered shape of one bucket.
type Catalogue struct {
	Bucket       string    `json:"bucket"`
	Measurements []string  `json:"measurements"`
	Fields       []string  `json:"fields"`
	TagKeys      []string  `json:"tagKeys"`
	SystemFields []string  `json:"systemFields"`
	TagFields    []string  `json:"tagFields"`
	Source       string    `json:"source"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// Values returns the cached candidate set for a key, if the catalogue holds one.
func (c *Catalogue) Values(key string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	switch key {
	case "_measurement":
		return c.Measurements, len(c.Measurements) > 0
	case "_field":
		return c.Fields, len(c.Fields) > 0
	}
	return nil, false
}

// Keys lists every key a filter may target: system fields then tag fields.
func (c *Catalogue) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.SystemFields)+len(c.TagFields))
	keys = append(keys, c.SystemFields...)
	keys = append(keys, c.TagFields...)
	return keys
}

// Store keeps catalogues between requests.
type Store interface {
	Get(ctx context.Context, bucket string) (*Catalogue, error)
	Put(ctx context.Context, cat *Catalogue) error
	Invalidate(ctx context.Context, bucket string) error
	Close() error
}
