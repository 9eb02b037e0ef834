package ledger

import (
	"fmt"

	"github.com/fortiblox/X1-Engine/pkg/substate"
	lru "github.com/hashicorp/golang-lru"
)

// CachedStore fronts a Store with an LRU cache of recently read outputs.
// Writes go through to the underlying store and refresh the cache.
type CachedStore struct {
	inner Store
	cache *lru.Cache
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps inner with a cache holding up to size outputs.
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}
	return &CachedStore{inner: inner, cache: cache}, nil
}

// GetSubstate returns a cached output or reads through to the inner store.
func (c *CachedStore) GetSubstate(id substate.ID) (*Output, error) {
	if v, ok := c.cache.Get(id); ok {
		out := v.(Output).Clone()
		return &out, nil
	}
	out, err := c.inner.GetSubstate(id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, out.Clone())
	return out, nil
}

// PutSubstate writes through and updates the cache.
func (c *CachedStore) PutSubstate(id substate.ID, out Output) error {
	if err := c.inner.PutSubstate(id, out); err != nil {
		c.cache.Remove(id)
		return err
	}
	c.cache.Add(id, out.Clone())
	return nil
}

// Inner returns the wrapped store.
func (c *CachedStore) Inner() Store {
	return c.inner
}
