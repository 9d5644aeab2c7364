package cache

import (
	"container/list"
	"sync"
	"time"
)

// EvictReason tells an eviction hook why an entry left the cache.
type EvictReason int

const (
	// Expired entries outlived their TTL.
	Expired EvictReason = iota
	// Displaced entries were the least recently used when the cache was full.
	Displaced
)

func (r EvictReason) String() string {
	if r == Displaced {
		return "displaced"
	}
	return "expired"
}

// Option configures an LRUCache.
type Option[T any] func(*LRUCache[T])

// WithSlidingExpiry makes every successful Get push the entry's deadline
// out by the TTL, so entries in active use never expire.
func WithSlidingExpiry[T any]() Option[T] {
	return func(c *LRUCache[T]) { c.sliding = true }
}

// WithEvictHook calls fn for every entry the cache drops on its own. Explicit
// Delete and Take do not trigger it. fn runs after the cache lock is released
// and may call back into the cache.
func WithEvictHook[T any](fn func(key string, value T, reason EvictReason)) Option[T] {
	return func(c *LRUCache[T]) { c.onEvict = fn }
}

// LRUCache bounds memory by entry count and age. It is safe for concurrent use.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	sliding bool
	onEvict func(string, T, EvictReason)
	now     func() time.Time
	items   map[string]*list.Element
	order   *list.List // front is most recently used
}

type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

type eviction[T any] struct {
	key    string
	value  T
	reason EvictReason
}

// NewLRUCache holds at most maxSize entries (128 when maxSize <= 0), each
// for ttl after it was last written.
func NewLRUCache[T any](maxSize int, ttl time.Duration, opts ...Option[T]) *LRUCache[T] {
	if maxSize <= 0 {
		maxSize = 128
	}
	c := &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	v, ok, gone := c.lookup(key, true)
	c.mu.Unlock()
	c.notify(gone)
	return v, ok
}

// Take removes key and returns its value if it was present and live.
func (c *LRUCache[T]) Take(key string) (T, bool) {
	c.mu.Lock()
	v, ok, gone := c.lookup(key, false)
	if ok {
		c.unlink(c.items[key])
	}
	c.mu.Unlock()
	c.notify(gone)
	return v, ok
}

// lookup must be called with c.mu held. An entry found expired is unlinked
// and returned as an eviction.
func (c *LRUCache[T]) lookup(key string, touch bool) (T, bool, []eviction[T]) {
	var zero T
	elem, ok := c.items[key]
	if !ok {
		return zero, false, nil
	}
	e := elem.Value.(*entry[T])
	now := c.now()
	if now.After(e.expiresAt) {
		c.unlink(elem)
		return zero, false, []eviction[T]{{key, e.value, Expired}}
	}
	if touch {
		c.order.MoveToFront(elem)
		if c.sliding {
			e.expiresAt = now.Add(c.ttl)
		}
	}
	return e.value, true, nil
}

func (c *LRUCache[T]) Set(key string, value T) {
	c.mu.Lock()
	e := &entry[T]{key: key, value: value, expiresAt: c.now().Add(c.ttl)}
	var gone []eviction[T]
	if elem, ok := c.items[key]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(e)
		for c.order.Len() > c.maxSize {
			oldest := c.order.Back()
			old := oldest.Value.(*entry[T])
			c.unlink(oldest)
			gone = append(gone, eviction[T]{old.key, old.value, Displaced})
		}
	}
	c.mu.Unlock()
	c.notify(gone)
}

func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.unlink(elem)
	}
}

func (c *LRUCache[T]) unlink(elem *list.Element) {
	delete(c.items, elem.Value.(*entry[T]).key)
	c.order.Remove(elem)
}

func (c *LRUCache[T]) notify(gone []eviction[T]) {
	if c.onEvict == nil {
		return
	}
	for _, g := range gone {
		c.onEvict(g.key, g.value, g.reason)
	}
}

// CleanExpired drops every expired entry and reports how many it dropped.
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	now := c.now()
	var gone []eviction[T]
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if e := elem.Value.(*entry[T]); now.After(e.expiresAt) {
			c.unlink(elem)
			gone = append(gone, eviction[T]{e.key, e.value, Expired})
		}
		elem = next
	}
	c.mu.Unlock()
	c.notify(gone)
	return len(gone)
}

func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
