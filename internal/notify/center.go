// Package notify keeps the transient status banners shown to the user.
//
// A notification lives for a fixed TTL. A timer removes it from the list and
// every read also filters on ExpiresAt, so expired entries never show up even
// if a timer fires late.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledgerlens/internal/core"
	"ledgerlens/internal/events"
)

const DefaultTTL = 5 * time.Second

type Center struct {
	mu     sync.Mutex
	ttl    time.Duration
	items  []core.Notification
	timers map[string]*time.Timer
	pub    events.Publisher
	now    func() time.Time
}

func NewCenter(ttl time.Duration, pub events.Publisher) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Center{
		ttl:    ttl,
		timers: make(map[string]*time.Timer),
		pub:    pub,
		now:    time.Now,
	}
}

// Push records a notification and schedules its removal.
func (c *Center) Push(kind core.NotificationKind, message string) core.Notification {
	if !kind.IsValid() {
		kind = core.NotificationInfo
	}
	now := c.now().UTC()
	n := core.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	c.items = append(c.items, n)
	c.timers[n.ID] = time.AfterFunc(c.ttl, func() { c.expire(n.ID) })
	c.mu.Unlock()

	c.pub.Publish(context.Background(), events.New(events.NotificationCreated, n))
	return n
}

func (c *Center) Success(message string) core.Notification {
	return c.Push(core.NotificationSuccess, message)
}

func (c *Center) Error(message string) core.Notification {
	return c.Push(core.NotificationError, message)
}

func (c *Center) Info(message string) core.Notification {
	return c.Push(core.NotificationInfo, message)
}

func (c *Center) expire(id string) {
	n, ok := c.remove(id)
	if ok {
		c.pub.Publish(context.Background(), events.New(events.NotificationExpired, n))
	}
}

// Dismiss removes a notification before its TTL. It returns core.ErrNotFound
// for unknown or already expired ids.
func (c *Center) Dismiss(id string) error {
	if _, ok := c.remove(id); !ok {
		return core.ErrNotFound
	}
	return nil
}

func (c *Center) remove(id string) (core.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return n, true
		}
	}
	return core.Notification{}, false
}

// Active returns live notifications, oldest first.
func (c *Center) Active() []core.Notification {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Notification, 0, len(c.items))
	for _, n := range c.items {
		if now.Before(n.ExpiresAt) {
			out = append(out, n)
		}
	}
	return out
}

// Close stops pending timers.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}
