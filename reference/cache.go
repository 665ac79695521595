package reference

// Cache remembers the last value read from a reference and only reads it
// again when the reference's tag moved.
type Cache struct {
	ref          Reference
	value        any
	lastRevision Revision
	initialized  bool
}

// NewCache returns a cache over ref. Nothing is read until Peek or
// Revalidate is called.
func NewCache(ref Reference) *Cache {
	return &Cache{ref: ref}
}

// Tag returns the tag of the cached reference.
func (c *Cache) Tag() Tag { return c.ref.Tag() }

// Peek returns the cached value, reading it the first time.
func (c *Cache) Peek() any {
	if !c.initialized {
		c.read()
	}
	return c.value
}

// Revalidate reads the reference again if its tag moved and reports the
// new value and whether it differs from the cached one.
func (c *Cache) Revalidate() (any, bool) {
	if !c.initialized {
		c.read()
		return c.value, true
	}
	if c.ref.Tag().Validate(c.lastRevision) {
		return c.value, false
	}
	prev := c.value
	c.read()
	return c.value, !Equal(prev, c.value)
}

func (c *Cache) read() {
	c.lastRevision = c.ref.Tag().Value()
	c.value = c.ref.Value()
	c.initialized = true
}
