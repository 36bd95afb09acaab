package rtspsession

import "strings"

// SDPCache bridges ANNOUNCE to the first SETUP/DESCRIBE: path -> raw
// SDP text, per spec.md §4.9/§6.
type SDPCache struct {
	reg *registry[string, []byte]
}

// NewSDPCache allocates an empty cache.
func NewSDPCache() *SDPCache {
	return &SDPCache{reg: newRegistry[string, []byte]()}
}

// cacheKey is "the request path with leading / stripped and trailing /
// stripped" per spec.md §6.
func cacheKey(path string) string {
	return strings.Trim(path, "/")
}

// Set stores sdp under path's cache key.
func (c *SDPCache) Set(path string, sdp []byte) {
	c.reg.Set(cacheKey(path), sdp)
}

// Get returns the cached SDP for path, if any.
func (c *SDPCache) Get(path string) ([]byte, bool) {
	return c.reg.Get(cacheKey(path))
}

// Erase removes the cached SDP for path.
func (c *SDPCache) Erase(path string) {
	c.reg.Remove(cacheKey(path))
}
