// Package cache remembers flows that were already classified as not HTTP so
// their packets can skip inspection.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/wolplus/ua2f/conntrack"
	"github.com/wolplus/ua2f/log"
)

const DefaultTTL = 60 * time.Second

// NotHTTP is a TTL set of flow keys. The zero value is usable once Init has
// been called; before that Contains reports false and Add is dropped.
type NotHTTP struct {
	once sync.Once
	c    atomic.Pointer[gocache.Cache]
}

func New(ttl time.Duration) *NotHTTP {
	n := &NotHTTP{}
	n.Init(ttl)
	return n
}

// Init sets the entry lifetime. Only the first call has any effect.
func (n *NotHTTP) Init(ttl time.Duration) {
	n.once.Do(func() {
		if ttl <= 0 {
			ttl = DefaultTTL
		}
		n.c.Store(gocache.New(ttl, 2*ttl))
		log.Tracef("not-http cache ready, ttl %s", ttl)
	})
}

func (n *NotHTTP) Contains(k conntrack.FlowKey) bool {
	c := n.c.Load()
	if c == nil {
		return false
	}
	_, ok := c.Get(k.String())
	return ok
}

// Add inserts k or refreshes its expiry.
func (n *NotHTTP) Add(k conntrack.FlowKey) {
	if c := n.c.Load(); c != nil {
		c.SetDefault(k.String(), struct{}{})
	}
}

func (n *NotHTTP) Len() int {
	c := n.c.Load()
	if c == nil {
		return 0
	}
	return c.ItemCount()
}

func (n *NotHTTP) Flush() {
	if c := n.c.Load(); c != nil {
		c.Flush()
	}
}
