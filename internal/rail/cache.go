package rail

import (
	"container/list"
	"sync"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
)

// ReceiptCache is a bounded LRU of settled transfers keyed by idempotency
// key. It answers replays without a database round trip. Safe for
// concurrent use.
type ReceiptCache struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	order     *list.List
	evictions int64
}

// NewReceiptCache returns a cache holding at most capacity receipts.
func NewReceiptCache(capacity int) *ReceiptCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReceiptCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns a copy of the receipt for key and promotes it.
func (c *ReceiptCache) Get(key string) (*model.TransferReceipt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	r := *elem.Value.(*model.TransferReceipt)
	return &r, true
}

// Put stores r, evicting the least recently used receipt when full.
func (c *ReceiptCache) Put(r *model.TransferReceipt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *r
	if elem, ok := c.items[r.IdempotencyKey]; ok {
		elem.Value = &cp
		c.order.MoveToFront(elem)
		return
	}
	c.items[r.IdempotencyKey] = c.order.PushFront(&cp)

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*model.TransferReceipt).IdempotencyKey)
		c.evictions++
	}
}

// Len returns the number of cached receipts.
func (c *ReceiptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Evictions returns how many receipts have been pushed out.
func (c *ReceiptCache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
