package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/allegro/bigcache/v3"
)

type (
	memStore struct {
		cache  *bigcache.BigCache
		ttl    time.Duration
		now    func() time.Time
		random io.Reader
	}
)

// InMemory returns a Store backed by bigcache. Sessions are lost on restart
// and are not shared between processes.
func InMemory(ctx context.Context, ttl time.Duration) (Store, error) {
	return newMemStore(ctx, ttl, time.Now, nil)
}

func newMemStore(ctx context.Context, ttl time.Duration, now func() time.Time, random io.Reader) (*memStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Verbose = false
	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create session cache, cause %w", err)
	}
	return &memStore{
		cache:  cache,
		ttl:    ttl,
		now:    now,
		random: defaultRandom(random),
	}, nil
}

func (m *memStore) Establish(ctx context.Context, recordID string) (string, error) {
	token, err := newToken(m.random)
	if err != nil {
		return "", err
	}
	// bigcache only evicts on its clean window, the deadline
	// is kept in the entry and checked on every lookup
	entry := make([]byte, 8+len(recordID))
	binary.BigEndian.PutUint64(entry, uint64(m.now().Add(m.ttl).UnixNano()))
	copy(entry[8:], recordID)
	if err := m.cache.Set(token, entry); err != nil {
		return "", fmt.Errorf("unable to store session, cause %w", err)
	}
	return token, nil
}

func (m *memStore) Lookup(ctx context.Context, token string) (string, bool, error) {
	entry, err := m.cache.Get(token)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("unable to read session, cause %w", err)
	}
	if len(entry) < 8 {
		return "", false, nil
	}
	deadline := time.Unix(0, int64(binary.BigEndian.Uint64(entry)))
	if !m.now().Before(deadline) {
		m.cache.Delete(token)
		return "", false, nil
	}
	return string(entry[8:]), true, nil
}

func (m *memStore) Clear(ctx context.Context, token string) error {
	err := m.cache.Delete(token)
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return fmt.Errorf("unable to clear session, cause %w", err)
	}
	return nil
}

func (m *memStore) Close() error {
	return m.cache.Close()
}
