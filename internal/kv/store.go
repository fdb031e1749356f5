// Package kv is the persistent key-value store backing identity and consent.
//
// Values are JSON documents keyed by string. The Store is best-effort: every
// failure (storage disabled, backend unreachable, corrupt value) degrades to
// "not stored" or "not found" and is only logged, never returned.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("kv: key not found")

// Backend persists raw values. Load returns ErrNotFound for missing keys.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

const defaultOpTimeout = 2 * time.Second

type Store struct {
	backend   Backend
	opTimeout time.Duration
	lg        zerolog.Logger
}

// New wraps b. A nil backend behaves like disabled storage.
func New(b Backend, lg zerolog.Logger) *Store {
	return &Store{
		backend:   b,
		opTimeout: defaultOpTimeout,
		lg:        lg.With().Str("component", "kv").Logger(),
	}
}

// Get decodes the value stored under key into dst and reports whether it
// was found and decoded.
func (s *Store) Get(key string, dst any) bool {
	if s == nil || s.backend == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	raw, err := s.backend.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.lg.Debug().Err(err).Str("key", key).Msg("load failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.lg.Debug().Err(err).Str("key", key).Msg("corrupt value ignored")
		return false
	}
	return true
}

// Set stores v under key and reports whether it was persisted.
func (s *Store) Set(key string, v any) bool {
	if s == nil || s.backend == nil {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.lg.Debug().Err(err).Str("key", key).Msg("encode failed")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if err := s.backend.Save(ctx, key, raw); err != nil {
		s.lg.Debug().Err(err).Str("key", key).Msg("save failed")
		return false
	}
	return true
}

func (s *Store) Delete(key string) bool {
	if s == nil || s.backend == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if err := s.backend.Remove(ctx, key); err != nil {
		s.lg.Debug().Err(err).Str("key", key).Msg("remove failed")
		return false
	}
	return true
}
