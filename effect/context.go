package effect

import "sort"

// Context is the ordered key/value working memory threaded through an
// execution or owned by an agent. Keys keep their insertion order; writing an
// existing key replaces the value in place.
//
// Context is not safe for concurrent use. The engine clones it per parallel
// branch and each agent serializes access through its own mailbox.
type Context struct {
	keys []string
	vals map[string]any
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{vals: make(map[string]any)}
}

// ContextFrom creates a context from a plain map. Keys are inserted in sorted
// order so two contexts built from equal maps compare equal key-for-key.
func ContextFrom(m map[string]any) *Context {
	c := NewContext()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Put(k, m[k])
	}
	return c
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.vals[key]
	return v, ok
}

// GetString returns the value under key as a string, or def if the key is
// absent or not a string.
func (c *Context) GetString(key, def string) string {
	if v, ok := c.vals[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Put stores value under key, preserving the key's original position if it
// already exists.
func (c *Context) Put(key string, value any) {
	if _, exists := c.vals[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.vals[key] = value
}

// Delete removes key from the context.
func (c *Context) Delete(key string) {
	if _, exists := c.vals[key]; !exists {
		return
	}
	delete(c.vals, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (c *Context) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of keys.
func (c *Context) Len() int {
	return len(c.keys)
}

// Clone returns an independent copy. Values are copied shallowly; effects
// treat stored values as immutable.
func (c *Context) Clone() *Context {
	out := &Context{
		keys: make([]string, len(c.keys)),
		vals: make(map[string]any, len(c.vals)),
	}
	copy(out.keys, c.keys)
	for k, v := range c.vals {
		out.vals[k] = v
	}
	return out
}

// Merge folds patch into the context, last writer wins on collisions.
// New keys are appended in the patch's insertion order.
func (c *Context) Merge(patch *Context) {
	if patch == nil {
		return
	}
	for _, k := range patch.keys {
		c.Put(k, patch.vals[k])
	}
}

// Map returns a plain map copy of the context.
func (c *Context) Map() map[string]any {
	out := make(map[string]any, len(c.vals))
	for k, v := range c.vals {
		out[k] = v
	}
	return out
}
