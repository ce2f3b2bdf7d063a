package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

// MemoryCache is a bounded LRU cache for single-instance deployments
// and tests.
type MemoryCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type memEntry struct {
	key        string
	violations []contracts.RiskViolation
}

// NewMemoryCache creates a cache holding at most max entries.
func NewMemoryCache(max int) *MemoryCache {
	if max <= 0 {
		max = 1024
	}
	return &MemoryCache{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *MemoryCache) Get(_ context.Context, userID string, rulesetVersion int64, snapshotHash string) ([]contracts.RiskViolation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key(userID, rulesetVersion, snapshotHash)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*memEntry).violations, true
}

func (c *MemoryCache) Set(_ context.Context, userID string, rulesetVersion int64, snapshotHash string, violations []contracts.RiskViolation) {
	k := key(userID, rulesetVersion, snapshotHash)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[k]; ok {
		el.Value.(*memEntry).violations = violations
		c.order.MoveToFront(el)
		return
	}
	c.entries[k] = c.order.PushFront(&memEntry{key: k, violations: violations})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memEntry).key)
	}
}
