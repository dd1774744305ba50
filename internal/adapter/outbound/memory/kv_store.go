// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e kvEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// KVStore implements outbound.KVStore with a mutex-guarded map.
// Expired keys are invisible immediately and removed by the background
// cleanup goroutine. Single process only.
type KVStore struct {
	mu      sync.Mutex
	entries map[string]kvEntry

	clock           clock.Clock
	logger          *slog.Logger
	cleanupInterval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithClock sets the clock used for TTLs.
func WithClock(c clock.Clock) KVOption {
	return func(s *KVStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) KVOption {
	return func(s *KVStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCleanupInterval sets how often expired keys are purged. Default 5 minutes.
func WithCleanupInterval(d time.Duration) KVOption {
	return func(s *KVStore) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// NewKVStore creates an empty store.
func NewKVStore(opts ...KVOption) *KVStore {
	s := &KVStore{
		entries:         make(map[string]kvEntry),
		clock:           clock.System{},
		logger:          slog.Default(),
		cleanupInterval: 5 * time.Minute,
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *KVStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

// lookupLocked returns the live entry for key, dropping it if expired.
func (s *KVStore) lookupLocked(key string) (kvEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return kvEntry{}, false
	}
	if e.expired(s.clock.Now()) {
		delete(s.entries, key)
		return kvEntry{}, false
	}
	return e, true
}

// Get returns a copy of the value stored under key.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(e.value), true, nil
}

// SetWithTTL stores a copy of value.
func (s *KVStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = kvEntry{value: bytes.Clone(value), expiresAt: s.expiry(ttl)}
	return nil
}

// CompareAndSwap atomically replaces the value under key if it equals expected.
func (s *KVStore) CompareAndSwap(_ context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	switch {
	case expected == nil && ok:
		return false, nil
	case expected != nil && (!ok || !bytes.Equal(e.value, expected)):
		return false, nil
	}

	if next == nil {
		delete(s.entries, key)
		return true, nil
	}
	s.entries[key] = kvEntry{value: bytes.Clone(next), expiresAt: s.expiry(ttl)}
	return true, nil
}

// Delete removes key.
func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (s *KVStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

// StartCleanup starts the background goroutine purging expired keys.
// It stops when ctx is cancelled or Stop() is called.
func (s *KVStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

func (s *KVStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cleaned := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			cleaned++
		}
	}
	if cleaned > 0 {
		s.logger.Debug("kv store cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(s.entries))
	}
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *KVStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of stored keys, including expired ones not yet purged.
func (s *KVStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

var _ outbound.KVStore = (*KVStore)(nil)
