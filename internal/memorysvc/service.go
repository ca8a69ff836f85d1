// Package memorysvc is the coordination kernel's namespaced key/value
// memory surface (spec.md §4.7) — a deliberately small substitute for the
// teacher's RAG-oriented LearningDB, which this kernel does not carry
// forward (see DESIGN.md). Grounded on the teacher's session-scoped state
// accessors (internal/memory/operational.go's Get/Set-style methods)
// without the embedding half.
package memorysvc

import (
	"context"

	"github.com/coopforge/sergeant/internal/store"
)

// Service implements namespaced memory save/read/delete.
type Service struct {
	store *store.Store
}

// NewService constructs a Service.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Save upserts a value at (namespace, key).
func (s *Service) Save(ctx context.Context, namespace, key, value string) error {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return err
	}
	if err := s.store.SaveMemory(ws.Context(), namespace, key, value); err != nil {
		ws.Close()
		return err
	}
	ws.Complete()
	return ws.Close()
}

// Read fetches the value at (namespace, key), bumping its access tracking.
func (s *Service) Read(ctx context.Context, namespace, key string) (string, error) {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return "", err
	}
	value, err := s.store.ReadMemory(ws.Context(), namespace, key)
	if err != nil {
		ws.Close()
		return "", err
	}
	ws.Complete()
	if err := ws.Close(); err != nil {
		return "", err
	}
	return value, nil
}

// UpdateMemoryAccess bumps (namespace, key)'s access tracking without
// reading the value, for callers that only need to record access.
func (s *Service) UpdateMemoryAccess(ctx context.Context, namespace, key string) error {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return err
	}
	if err := s.store.TouchMemoryAccess(ws.Context(), namespace, key); err != nil {
		ws.Close()
		return err
	}
	ws.Complete()
	return ws.Close()
}

// Delete removes the value at (namespace, key).
func (s *Service) Delete(ctx context.Context, namespace, key string) error {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMemory(ws.Context(), namespace, key); err != nil {
		ws.Close()
		return err
	}
	ws.Complete()
	return ws.Close()
}

// Entry returns the full record at (namespace, key) without bumping access
// tracking, for diagnostics.
func (s *Service) Entry(ctx context.Context, namespace, key string) (*store.MemoryEntry, error) {
	return s.store.GetMemoryEntry(s.store.ReadScope(ctx).Context(), namespace, key)
}
