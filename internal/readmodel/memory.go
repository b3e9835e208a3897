package readmodel

import (
	"context"
	"sync"
)

// InMemoryStore is a Store backed by process memory, used in tests and
// local development.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]interface{}
	order       map[string][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		collections: make(map[string]map[string]map[string]interface{}),
		order:       make(map[string][]string),
	}
}

func (s *InMemoryStore) Put(_ context.Context, collection, key string, doc map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]map[string]interface{})
		s.collections[collection] = coll
	}
	if _, exists := coll[key]; !exists {
		s.order[collection] = append(s.order[collection], key)
	}

	copied := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		copied[k] = v
	}
	coll[key] = copied
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, collection, key string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][key]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		copied[k] = v
	}
	return copied, nil
}

func (s *InMemoryStore) List(_ context.Context, collection string, limit int) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.order[collection]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	out := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		doc := s.collections[collection][key]
		copied := make(map[string]interface{}, len(doc))
		for k, v := range doc {
			copied[k] = v
		}
		out = append(out, copied)
	}
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.collections[collection])), nil
}

func (s *InMemoryStore) Reset(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	delete(s.order, collection)
	return nil
}
