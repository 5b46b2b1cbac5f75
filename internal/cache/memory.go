package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// meanEntryBytes is the assumed average static-asset size used to turn a
// byte budget into an LRU entry count.
const meanEntryBytes = 64 * 1024

const minMemoryEntries = 16

// memoryTier is a cache of the disk cache: losing an entry here costs a
// disk read, never data. Eviction is the LRU's problem, capacity is fixed
// at construction from the configured heap budget.
type memoryTier struct {
	lru *lru.Cache[string, *Entry]
}

func newMemoryTier(heapBudgetBytes int64, fraction float64) (*memoryTier, error) {
	capacity := int(float64(heapBudgetBytes) * fraction / meanEntryBytes)
	if capacity < minMemoryEntries {
		capacity = minMemoryEntries
	}
	c, err := lru.New[string, *Entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}
	return &memoryTier{lru: c}, nil
}

func (t *memoryTier) get(key string) (*Entry, bool) {
	return t.lru.Get(key)
}

func (t *memoryTier) add(e *Entry) {
	t.lru.Add(e.Key, e)
}

func (t *memoryTier) remove(key string) {
	t.lru.Remove(key)
}
