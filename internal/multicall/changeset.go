package multicall

import (
	"fmt"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultChangeCacheSize bounds the number of return keys whose last value is remembered
const DefaultChangeCacheSize = 4096

// changeSet remembers a fingerprint of the last value emitted per return key.
// An evicted key simply emits again on its next poll.
type changeSet struct {
	cache *lru.Cache[string, string]
}

func newChangeSet(size int) (*changeSet, error) {
	if size <= 0 {
		size = DefaultChangeCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &changeSet{cache: cache}, nil
}

// changed records value for key and reports whether it differs from the previous one
func (c *changeSet) changed(key string, value any) bool {
	fp := fingerprint(value)
	if prev, ok := c.cache.Get(key); ok && prev == fp {
		return false
	}
	c.cache.Add(key, fp)
	return true
}

func (c *changeSet) len() int {
	return c.cache.Len()
}

func fingerprint(v any) string {
	if n, ok := v.(*big.Int); ok && n != nil {
		return "big:" + n.String()
	}
	return fmt.Sprintf("%T:%v", v, v)
}
