package topology

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Resolver maps an address to a host name.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) (string, error)
}

// HostnameCache resolves node host names lazily from their management
// address. Failed lookups are cached too, for the negative TTL.
type HostnameCache struct {
	resolver    Resolver
	cache       *cache.Cache
	negativeTTL time.Duration
}

// NewHostnameCache creates a cache whose entries live for ttl. It runs no
// janitor goroutine: expired entries are never returned and the owner
// flushes the cache with Invalidate on every rebuild.
func NewHostnameCache(r Resolver, ttl time.Duration) *HostnameCache {
	return &HostnameCache{
		resolver:    r,
		cache:       cache.New(ttl, 0),
		negativeTTL: ttl / 4,
	}
}

// Hostname returns the node's recorded hostname, or the resolved name of
// its management address, or "".
func (h *HostnameCache) Hostname(ctx context.Context, n *Node) string {
	if n.Hostname != "" {
		return n.Hostname
	}
	if n.ManagementIP == "" || h == nil || h.resolver == nil {
		return ""
	}
	if v, ok := h.cache.Get(n.ManagementIP); ok {
		return v.(string)
	}
	name, err := h.resolver.LookupAddr(ctx, n.ManagementIP)
	if err != nil {
		h.cache.Set(n.ManagementIP, "", h.negativeTTL)
		return ""
	}
	h.cache.Set(n.ManagementIP, name, cache.DefaultExpiration)
	return name
}

// Invalidate drops every cached entry; called when the graph is rebuilt.
func (h *HostnameCache) Invalidate() {
	h.cache.Flush()
}

// Len reports the number of cached entries.
func (h *HostnameCache) Len() int {
	return h.cache.ItemCount()
}
