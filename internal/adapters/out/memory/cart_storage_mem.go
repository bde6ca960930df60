// internal/adapters/out/memory/cart_storage_mem.go
package memory

import (
	"context"
	"strings"
	"sync"

	cartdom "cartengine/internal/domain/cart"
	"cartengine/internal/domain/condition"
)

// CartStorageMem implements cart.Storage with a process-local map. Session
// scoped: no durability beyond the process, no cross-request guarantees.
// Access per session is effectively single-threaded; the mutex only guards
// against accidental sharing.
type CartStorageMem struct {
	mu      sync.RWMutex
	records map[storageKey]*record
}

type storageKey struct {
	identifier string
	instance   string
}

type record struct {
	items      []cartdom.ItemRecord
	conditions []cartdom.ConditionRecord
	metadata   map[string]any
}

func NewCartStorageMem() *CartStorageMem {
	return &CartStorageMem{records: map[storageKey]*record{}}
}

func key(identifier, instance string) storageKey {
	return storageKey{
		identifier: strings.TrimSpace(identifier),
		instance:   strings.TrimSpace(instance),
	}
}

func (s *CartStorageMem) GetItems(_ context.Context, identifier, instance string) ([]cartdom.ItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(identifier, instance)]
	if !ok {
		return nil, nil
	}
	return copyItems(rec.items), nil
}

func (s *CartStorageMem) PutItems(_ context.Context, identifier, instance string, items []cartdom.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(identifier, instance).items = copyItems(items)
	return nil
}

func (s *CartStorageMem) GetConditions(_ context.Context, identifier, instance string) ([]cartdom.ConditionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(identifier, instance)]
	if !ok {
		return nil, nil
	}
	return copyConditions(rec.conditions), nil
}

func (s *CartStorageMem) PutConditions(_ context.Context, identifier, instance string, conds []cartdom.ConditionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(identifier, instance).conditions = copyConditions(conds)
	return nil
}

func (s *CartStorageMem) GetMetadata(_ context.Context, identifier, instance string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(identifier, instance)]
	if !ok {
		return nil, nil
	}
	return copyMetadata(rec.metadata), nil
}

func (s *CartStorageMem) PutMetadata(_ context.Context, identifier, instance string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(identifier, instance).metadata = copyMetadata(metadata)
	return nil
}

func (s *CartStorageMem) Has(_ context.Context, identifier, instance string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key(identifier, instance)]
	return ok, nil
}

func (s *CartStorageMem) Clear(_ context.Context, identifier, instance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key(identifier, instance)]
	if !ok {
		return nil
	}
	rec.items = nil
	rec.conditions = nil
	return nil
}

func (s *CartStorageMem) Forget(_ context.Context, identifier, instance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key(identifier, instance))
	return nil
}

func (s *CartStorageMem) Rekey(_ context.Context, oldIdentifier, newIdentifier, instance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := key(oldIdentifier, instance)
	to := key(newIdentifier, instance)

	rec, ok := s.records[from]
	if !ok {
		return cartdom.ErrRecordNotFound
	}
	if _, taken := s.records[to]; taken {
		return cartdom.ErrRecordExists
	}

	s.records[to] = rec
	delete(s.records, from)
	return nil
}

// ensure must run under the write lock.
func (s *CartStorageMem) ensure(identifier, instance string) *record {
	k := key(identifier, instance)
	rec, ok := s.records[k]
	if !ok {
		rec = &record{}
		s.records[k] = rec
	}
	return rec
}

// ----------------------------
// Copy helpers (callers never alias stored payloads)
// ----------------------------

func copyItems(src []cartdom.ItemRecord) []cartdom.ItemRecord {
	if src == nil {
		return nil
	}
	out := make([]cartdom.ItemRecord, len(src))
	for i, it := range src {
		cp := it
		cp.Attributes = copyMetadata(it.Attributes)
		cp.Conditions = copyConditions(it.Conditions)
		out[i] = cp
	}
	return out
}

func copyConditions(src []cartdom.ConditionRecord) []cartdom.ConditionRecord {
	if src == nil {
		return nil
	}
	out := make([]cartdom.ConditionRecord, len(src))
	for i, c := range src {
		cp := c
		cp.Attributes = copyMetadata(c.Attributes)
		if c.Rules != nil {
			cp.Rules = append([]condition.RuleRef{}, c.Rules...)
		}
		out[i] = cp
	}
	return out
}

func copyMetadata(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
