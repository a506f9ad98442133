package services

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// MemoryDatabase is a process-local CollectionProvider used when MongoDB is
// disabled. Documents are kept in their BSON encoding so reads behave like
// the real store.
type MemoryDatabase struct {
	mu          sync.Mutex
	collections map[string]*MemoryCollection
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{collections: make(map[string]*MemoryCollection)}
}

func (m *MemoryDatabase) Collection(name string) DocumentCollection {
	return m.MemoryCollection(name)
}

// MemoryCollection returns the concrete collection, creating it on first use.
func (m *MemoryDatabase) MemoryCollection(name string) *MemoryCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		c = &MemoryCollection{name: name}
		m.collections[name] = c
	}
	return c
}

type MemoryCollection struct {
	name string
	mu   sync.RWMutex
	docs []bson.Raw
}

func (c *MemoryCollection) Name() string {
	return c.name
}

func (c *MemoryCollection) FindAll(_ context.Context) ([]bson.Raw, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]bson.Raw(nil), c.docs...), nil
}

func (c *MemoryCollection) DeleteAll(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(len(c.docs))
	c.docs = nil
	return n, nil
}

func (c *MemoryCollection) InsertMany(_ context.Context, docs []interface{}) error {
	encoded := make([]bson.Raw, 0, len(docs))
	for _, d := range docs {
		if raw, ok := d.(bson.Raw); ok {
			encoded = append(encoded, raw)
			continue
		}
		b, err := bson.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode document for %s: %w", c.name, err)
		}
		encoded = append(encoded, bson.Raw(b))
	}

	c.mu.Lock()
	c.docs = append(c.docs, encoded...)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCollection) Count(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.docs)), nil
}
