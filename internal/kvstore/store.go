// Package kvstore implements the Key/Value Store (C1): durable typed state
// behind short string keys with a write-through in-memory cache. Grounded
// on the teacher's internal/infra/filestore.Collection, specialized to a
// map[string]json.RawMessage so arbitrary JSON-serialisable values can be
// stored under one key without the store needing to know their shape.
package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"agentloop/internal/engerrors"
	"agentloop/internal/filestore"
	"agentloop/internal/logging"
)

// Store is the cache-first, atomically-persisted key/value store.
type Store struct {
	coll   *filestore.Collection[string, json.RawMessage]
	logger logging.Logger
	mu     sync.Mutex // serializes read-modify-write sequences (set/updateField/increment)
}

// Config configures a Store.
type Config struct {
	FilePath string
	Logger   logging.Logger
}

// Open constructs a Store, removes an orphaned "<FilePath>.tmp" left by an
// interrupted write, and loads any existing on-disk state. A missing file is
// not an error: the store simply starts empty.
func Open(cfg Config) (*Store, error) {
	if cfg.FilePath != "" {
		_ = os.Remove(cfg.FilePath + ".tmp")
	}
	coll := filestore.NewCollection[string, json.RawMessage](filestore.CollectionConfig{
		FilePath: cfg.FilePath,
		Name:     "kvstore",
	})
	if err := coll.Load(); err != nil {
		return nil, engerrors.NewPermanentError(err, fmt.Sprintf("kvstore: failed to load %s", cfg.FilePath))
	}
	return &Store{coll: coll, logger: logging.OrNop(cfg.Logger)}, nil
}

// Get decodes the value stored under key into dst, reporting whether the
// key existed. dst must be a pointer.
func (s *Store) Get(key string, dst any) (bool, error) {
	raw, ok := s.coll.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, engerrors.NewPermanentError(err, fmt.Sprintf("kvstore: corrupt value for key %q", key))
	}
	return true, nil
}

// Set shallow-merges partial (a map or struct marshaling to a JSON object)
// into the existing value at key, stamping "updatedAt" with the current
// time, then persists. If key doesn't yet exist, partial becomes the value.
func (s *Store) Set(key string, partial any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	patch, err := toObject(partial)
	if err != nil {
		return engerrors.NewPermanentError(err, "kvstore: set value must marshal to a JSON object")
	}
	patch["updatedAt"] = time.Now().UTC().Format(time.RFC3339)

	existing := map[string]json.RawMessage{}
	if raw, ok := s.coll.Get(key); ok {
		if err := json.Unmarshal(raw, &existing); err != nil {
			existing = map[string]json.RawMessage{}
		}
	}
	for k, v := range patch {
		existing[k] = v
	}

	encoded, err := json.Marshal(existing)
	if err != nil {
		return engerrors.NewPermanentError(err, "kvstore: failed to encode merged value")
	}
	if err := s.coll.Put(key, encoded); err != nil {
		return engerrors.NewTransientError(err, fmt.Sprintf("kvstore: failed to persist key %q", key))
	}
	return nil
}

// UpdateField sets a single field within the object stored at key, leaving
// the rest untouched, and persists.
func (s *Store) UpdateField(key, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encodedValue, err := json.Marshal(value)
	if err != nil {
		return engerrors.NewPermanentError(err, "kvstore: failed to encode field value")
	}

	existing := map[string]json.RawMessage{}
	if raw, ok := s.coll.Get(key); ok {
		if err := json.Unmarshal(raw, &existing); err != nil {
			existing = map[string]json.RawMessage{}
		}
	}
	existing[field] = encodedValue

	encoded, err := json.Marshal(existing)
	if err != nil {
		return engerrors.NewPermanentError(err, "kvstore: failed to encode updated value")
	}
	if err := s.coll.Put(key, encoded); err != nil {
		return engerrors.NewTransientError(err, fmt.Sprintf("kvstore: failed to persist key %q", key))
	}
	return nil
}

// Increment adds by to the numeric field within the object stored at key
// (default delta 1 when by is 0), creating the field (and key) at 0 first
// if absent, and persists.
func (s *Store) Increment(key, field string, by float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if by == 0 {
		by = 1
	}

	existing := map[string]json.RawMessage{}
	if raw, ok := s.coll.Get(key); ok {
		if err := json.Unmarshal(raw, &existing); err != nil {
			existing = map[string]json.RawMessage{}
		}
	}

	var current float64
	if raw, ok := existing[field]; ok {
		_ = json.Unmarshal(raw, &current)
	}
	next := current + by

	encodedNext, err := json.Marshal(next)
	if err != nil {
		return 0, engerrors.NewPermanentError(err, "kvstore: failed to encode incremented value")
	}
	existing[field] = encodedNext

	encoded, err := json.Marshal(existing)
	if err != nil {
		return 0, engerrors.NewPermanentError(err, "kvstore: failed to encode updated value")
	}
	if err := s.coll.Put(key, encoded); err != nil {
		return 0, engerrors.NewTransientError(err, fmt.Sprintf("kvstore: failed to persist key %q", key))
	}
	return next, nil
}

// toObject marshals v and unmarshals it back into a map, so struct and map
// inputs are handled identically by the merge logic above.
func toObject(v any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
