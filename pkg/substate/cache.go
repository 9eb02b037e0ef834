package substate

import (
	"errors"
	"fmt"
)

var (
	// ErrVaultPartiallyLocked is returned when converting a vault object with
	// outstanding locks back into a substate.
	ErrVaultPartiallyLocked = errors.New("vault partially locked")

	// ErrNotConvertible is returned when promoting a substate that has no
	// resource object form.
	ErrNotConvertible = errors.New("substate not convertible to node")

	// ErrConverted is returned when reading the raw value of a converted cache.
	ErrConverted = errors.New("substate is converted")
)

// Cache holds one borrowed substate either as its raw value or, after
// ConvertToNode, as a mutable VaultObject.
type Cache struct {
	raw  Substate
	node *VaultObject
}

// NewCache returns a cache in the raw state.
func NewCache(s Substate) *Cache {
	return &Cache{raw: s}
}

// IsConverted reports whether the cache holds a resource object.
func (c *Cache) IsConverted() bool {
	return c.node != nil
}

// Node returns the resource object while the cache is converted.
func (c *Cache) Node() (*VaultObject, bool) {
	return c.node, c.node != nil
}

// Raw returns the raw value. It fails with ErrConverted while the cache holds
// a resource object.
func (c *Cache) Raw() (Substate, error) {
	if c.node != nil {
		return nil, ErrConverted
	}
	return c.raw, nil
}

// Set replaces the raw value. It fails with ErrConverted while the cache
// holds a resource object.
func (c *Cache) Set(s Substate) error {
	if c.node != nil {
		return ErrConverted
	}
	c.raw = s
	return nil
}

// ConvertToNode promotes a vault into its mutable resource object.
// Calling it again returns the same object.
func (c *Cache) ConvertToNode() (*VaultObject, error) {
	if c.node != nil {
		return c.node, nil
	}
	v, ok := c.raw.(*Vault)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConvertible, c.raw.Kind())
	}
	c.node = newVaultObject(v)
	c.raw = nil
	return c.node, nil
}

// ConvertToSubstate demotes the cache back to its raw form and returns the
// value. A resource object with outstanding locks is left untouched and
// ErrVaultPartiallyLocked is returned.
func (c *Cache) ConvertToSubstate() (Substate, error) {
	if c.node == nil {
		return c.raw, nil
	}
	if c.node.IsLocked() {
		return nil, ErrVaultPartiallyLocked
	}
	c.raw = c.node.toSubstate()
	c.node = nil
	return c.raw, nil
}
