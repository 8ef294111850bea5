package ephemeraldb

import (
	"fmt"
	"sync"

	"github.com/pressly/ephemeraldb/pkg/dbconfig"
)

// DefaultKey is the key [Setup] publishes the descriptor under unless [WithKey] is used.
const DefaultKey = "ephemeraldb"

// Context hands resolved connection descriptors from [Setup] to fixtures. Each key is written once
// and read-only afterwards. The zero value is ready to use, and a Context is safe for concurrent use.
type Context struct {
	mu     sync.RWMutex
	values map[string]dbconfig.Descriptor
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{values: make(map[string]dbconfig.Descriptor)}
}

// Provide publishes d under key. It fails with [ErrAlreadyProvided] if key is taken.
func (c *Context) Provide(key string, d dbconfig.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return fmt.Errorf("key %q: %w", key, ErrAlreadyProvided)
	}
	if c.values == nil {
		c.values = make(map[string]dbconfig.Descriptor)
	}
	c.values[key] = d.Clone()
	return nil
}

// Inject returns a copy of the descriptor published under key, or [ErrNotProvided].
func (c *Context) Inject(key string) (dbconfig.Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.values[key]
	if !ok {
		return dbconfig.Descriptor{}, fmt.Errorf("key %q: %w", key, ErrNotProvided)
	}
	return d.Clone(), nil
}

func (c *Context) has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[key]
	return ok
}
