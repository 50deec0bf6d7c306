package block

import (
	lru "github.com/hashicorp/golang-lru"
)

// cacheKey is a block plus the requested height, so repeated PrevAtHeight
// calls for the same (block, height) pair skip the skip-list walk entirely.
// The block is keyed by pointer, not by ID: distinct blocks with the same
// parent and payload share an ID but are different blocks.
type cacheKey struct {
	block  *Block
	height uint64
}

// AncestorCache memoizes PrevAtHeight lookups behind a bounded LRU, the Go
// equivalent of the cache map used by the reference CachedLMDGhost
// implementation (which grew without bound). A nil *AncestorCache is valid
// and simply disables memoization.
type AncestorCache struct {
	cache *lru.Cache
}

// NewAncestorCache allocates a cache holding up to size entries. size <= 0
// disables caching (PrevAtHeight then always walks the skip list directly).
func NewAncestorCache(size int) *AncestorCache {
	if size <= 0 {
		return &AncestorCache{}
	}
	c, err := lru.New(size)
	if err != nil {
		// Only returned by golang-lru when size <= 0, already excluded above.
		return &AncestorCache{}
	}
	return &AncestorCache{cache: c}
}

// PrevAtHeight behaves like Block.PrevAtHeight but consults and populates
// the cache.
func (c *AncestorCache) PrevAtHeight(b *Block, height uint64) (*Block, error) {
	if c == nil || c.cache == nil {
		return b.PrevAtHeight(height)
	}
	key := cacheKey{block: b, height: height}
	if v, ok := c.cache.Get(key); ok {
		return v.(*Block), nil
	}
	anc, err := b.PrevAtHeight(height)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, anc)
	return anc, nil
}
