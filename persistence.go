package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotStore keeps the durable, versioned copy of every session. Save is
// conditional: it fails with ErrVersionConflict unless the stored version
// still equals expectedVersion, and bumps the version by one otherwise.
type SnapshotStore interface {
	Create(ctx context.Context, sessionID string, snapshot []byte) error
	Load(ctx context.Context, sessionID string) ([]byte, int64, error)
	Save(ctx context.Context, sessionID string, snapshot []byte, expectedVersion int64) error
	Delete(ctx context.Context, sessionID string) error
}

// EncodeGame serializes a game snapshot
func EncodeGame(g *Game) ([]byte, error) {
	data, err := msgpack.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", g.ID, err)
	}
	return data, nil
}

// DecodeGame restores a snapshot and checks it before use. Anything that
// fails to decode or validate is reported as corrupt.
func DecodeGame(data []byte, version int64) (*Game, error) {
	var g Game
	if err := msgpack.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode snapshot: %v: %w", err, ErrCorruptSnapshot)
	}
	if g.Arena != nil {
		if g.Arena.Entities == nil {
			g.Arena.Entities = make(map[int64]*Entity)
		}
		if g.Arena.Towers == nil {
			g.Arena.Towers = make(map[string][]*Entity)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	g.Version = version
	return &g, nil
}

// LoadGame fetches and decodes the current snapshot of a session
func LoadGame(ctx context.Context, store SnapshotStore, sessionID string) (*Game, error) {
	data, version, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return DecodeGame(data, version)
}

// Mutate applies fn to a session through a load, mutate, conditional save
// cycle. base is the caller's cached copy and may be nil, in which case the
// snapshot is loaded first. fn always runs on a private clone with a fresh
// event buffer, so a failed or conflicting attempt leaves nothing behind.
// After maxRetries conflicts in a row the call gives up with a
// ConcurrencyError.
func Mutate(ctx context.Context, store SnapshotStore, sessionID string, maxRetries int, base *Game, fn func(g *Game, ev *Events) error) (*Game, *Events, error) {
	retries := 0
	for {
		if base == nil {
			g, err := LoadGame(ctx, store, sessionID)
			if err != nil {
				return nil, nil, err
			}
			base = g
		}

		next := base.Clone()
		ev := &Events{}
		if err := fn(next, ev); err != nil {
			return nil, nil, err
		}

		data, err := EncodeGame(next)
		if err != nil {
			return nil, nil, err
		}
		err = store.Save(ctx, sessionID, data, base.Version)
		if err == nil {
			next.Version = base.Version + 1
			return next, ev, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, nil, err
		}

		if retries >= maxRetries {
			return nil, nil, &ConcurrencyError{SessionID: sessionID, Retries: retries}
		}
		retries++
		base = nil
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
	}
}

// MemoryStore is an in-process SnapshotStore
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memorySnapshot
}

type memorySnapshot struct {
	data    []byte
	version int64
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memorySnapshot)}
}

func (m *MemoryStore) Create(_ context.Context, sessionID string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[sessionID]; ok {
		return fmt.Errorf("session %s already stored: %w", sessionID, ErrVersionConflict)
	}
	m.items[sessionID] = memorySnapshot{data: append([]byte(nil), snapshot...)}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[sessionID]
	if !ok {
		return nil, 0, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return append([]byte(nil), s.data...), s.version, nil
}

func (m *MemoryStore) Save(_ context.Context, sessionID string, snapshot []byte, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if s.version != expectedVersion {
		return fmt.Errorf("session %s at version %d, expected %d: %w", sessionID, s.version, expectedVersion, ErrVersionConflict)
	}
	m.items[sessionID] = memorySnapshot{data: append([]byte(nil), snapshot...), version: s.version + 1}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, sessionID)
	return nil
}
