package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

// MemoryBackend keeps records in process memory. Records are cloned on the
// way in and out so callers never share state with the backend.
type MemoryBackend struct {
	mu       sync.RWMutex
	areas    map[orders.Area]map[string]*orders.Record
	sessions map[string]string
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		areas: map[orders.Area]map[string]*orders.Record{
			orders.AreaTemp:  {},
			orders.AreaFinal: {},
		},
		sessions: map[string]string{},
	}
}

func (m *MemoryBackend) area(a orders.Area) (map[string]*orders.Record, error) {
	recs, ok := m.areas[a]
	if !ok {
		return nil, fmt.Errorf("unknown area %q", a)
	}
	return recs, nil
}

func (m *MemoryBackend) Get(ctx context.Context, area orders.Area, ref string) (*orders.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, err := m.area(area)
	if err != nil {
		return nil, err
	}
	rec, ok := recs[ref]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryBackend) Put(ctx context.Context, rec *orders.Record, cond Precondition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, err := m.area(rec.Area)
	if err != nil {
		return err
	}
	if !cond.Holds(recs[rec.Reference]) {
		return fmt.Errorf("put %s: %w", rec.Reference, orders.ErrConflict)
	}
	recs[rec.Reference] = rec.Clone()
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, area orders.Area) ([]*orders.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, err := m.area(area)
	if err != nil {
		return nil, err
	}
	out := make([]*orders.Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, area orders.Area, ref string, cond Precondition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, err := m.area(area)
	if err != nil {
		return err
	}
	if !cond.Holds(recs[ref]) {
		return fmt.Errorf("delete %s: %w", ref, orders.ErrConflict)
	}
	delete(recs, ref)
	return nil
}

// Move relocates under a single lock so no reader sees zero or two copies.
func (m *MemoryBackend) Move(ctx context.Context, rec *orders.Record, from orders.Area, cond Precondition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, err := m.area(from)
	if err != nil {
		return err
	}
	dst, err := m.area(rec.Area)
	if err != nil {
		return err
	}
	if _, taken := dst[rec.Reference]; taken || !cond.Holds(src[rec.Reference]) {
		return fmt.Errorf("move %s: %w", rec.Reference, orders.ErrConflict)
	}
	dst[rec.Reference] = rec.Clone()
	delete(src, rec.Reference)
	return nil
}

func (m *MemoryBackend) SessionOrder(ctx context.Context, session string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.sessions[session]
	if !ok {
		return "", orders.ErrNotFound
	}
	return ref, nil
}

func (m *MemoryBackend) SwapSessionOrder(ctx context.Context, session, prev, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[session] != prev {
		return fmt.Errorf("session %s: %w", session, orders.ErrConflict)
	}
	if ref == "" {
		delete(m.sessions, session)
	} else {
		m.sessions[session] = ref
	}
	return nil
}
