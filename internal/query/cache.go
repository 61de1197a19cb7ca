package query

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coccobas/agent-memory/internal/store"
)

// Fingerprint builds the cache key for req: a scope prefix ("type:id|")
// kept in the clear so InvalidatePrefix can drop every cached result for
// a scope without knowing the rest of the key, followed by a stable hash
// of every parameter that affects the result set, per spec.md §4.2.6 and
// the cache-invalidation design note in §9.
func Fingerprint(req Request) string {
	prefix := scopePrefix(req.Scope)

	var b strings.Builder
	fmt.Fprintf(&b, "text=%s;inherit=%t;limit=%d;rerank=%t;tag=%s;depth=%d;",
		strings.ToLower(strings.TrimSpace(req.Text)), req.Inherit, req.Limit, req.RerankDisabled, req.TagOrEntryID, req.RelationalDepth)
	for _, k := range req.Kinds {
		b.WriteString(string(k))
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, ";flags=%t%t%t%t", req.Flags.EnableExpansion, req.Flags.EnableHyDE, req.Flags.EnableDecomposition, req.Flags.DisableRewrite)

	sum := sha256.Sum256([]byte(b.String()))
	return prefix + hex.EncodeToString(sum[:])
}

func scopePrefix(s store.Scope) string {
	return string(s.Type) + ":" + s.ID + "|"
}

type cacheEntry struct {
	key     string
	value   Result
	expires time.Time
}

// Cache is a bounded LRU with TTL expiry and prefix-based invalidation.
// No library in the retrieved pack offers prefix-keyed invalidation
// alongside LRU eviction, so this is hand-rolled over container/list per
// DESIGN.md's justification for this one component.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

// NewCache builds a cache holding at most capacity entries, each valid
// for ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached Result for key if present and unexpired.
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Result{}, false
	}
	ent := el.Value.(*cacheEntry)
	if time.Now().After(ent.expires) {
		c.order.Remove(el)
		delete(c.items, key)
		return Result{}, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

// Set stores value under key, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *Cache) Set(key string, value Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.value = value
		ent.expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	ent := &cacheEntry{key: key, value: value, expires: time.Now().Add(c.ttl)}
	el := c.order.PushFront(ent)
	c.items[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// InvalidatePrefix drops every cached entry whose key starts with prefix.
// No entry write path calls it or InvalidateScope: after a create,
// update, or deactivate, a cached result for that scope stays until it
// is invalidated here, expires by TTL, or is evicted as least recently
// used.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(el)
			delete(c.items, key)
		}
	}
}

// InvalidateScope is a convenience wrapper around InvalidatePrefix for a
// given scope.
func (c *Cache) InvalidateScope(s store.Scope) {
	c.InvalidatePrefix(scopePrefix(s))
}
