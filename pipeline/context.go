package pipeline

import "github.com/nebula-stream/node-engine/api"

// mapContext is the zero-value fallback api.Context handed to a
// Handler when a Stage has no ContextFactory configured: a plain
// map-backed scratch space with no propagation or expiration tracking,
// good enough for handlers that just need somewhere to stash a value
// across a single Process call's helper functions.
type mapContext struct {
	values map[string]any
}

func newMapContext() *mapContext {
	return &mapContext{values: make(map[string]any)}
}

func (c *mapContext) Set(key string, value any, propagated bool) {
	c.values[key] = value
}

func (c *mapContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *mapContext) Delete(key string) {
	delete(c.values, key)
}

func (c *mapContext) Clone() api.Context {
	clone := newMapContext()
	for k, v := range c.values {
		clone.values[k] = v
	}
	return clone
}

func (c *mapContext) WithExpiration(key string, ttlNanos int64) {
	// mapContext has no background reaper; entries live for the
	// lifetime of the ExecutionContext that created them.
}

func (c *mapContext) IsPropagated(key string) bool { return false }

func (c *mapContext) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}

var _ api.Context = (*mapContext)(nil)
