package cache

import (
	"sync"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// prefixIndex tracks the keys currently resident in the local layer,
// bucketed by key root, so prefix invalidation enumerates only the
// keys that can possibly match instead of scanning the whole layer.
type prefixIndex struct {
	mu    sync.RWMutex
	roots map[string]map[string]struct{}
}

func newPrefixIndex() *prefixIndex {
	return &prefixIndex{roots: make(map[string]map[string]struct{})}
}

// add registers a key under its root bucket.
func (pi *prefixIndex) add(key string) {
	root := types.KeyRoot(key)
	pi.mu.Lock()
	bucket, ok := pi.roots[root]
	if !ok {
		bucket = make(map[string]struct{})
		pi.roots[root] = bucket
	}
	bucket[key] = struct{}{}
	pi.mu.Unlock()
}

// remove drops a key from its root bucket. Safe to call for keys that
// were never registered or were already evicted.
func (pi *prefixIndex) remove(key string) {
	root := types.KeyRoot(key)
	pi.mu.Lock()
	if bucket, ok := pi.roots[root]; ok {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(pi.roots, root)
		}
	}
	pi.mu.Unlock()
}

// matching returns every registered key that falls under prefix.
func (pi *prefixIndex) matching(prefix string) []string {
	root := types.KeyRoot(prefix)
	pi.mu.RLock()
	defer pi.mu.RUnlock()

	bucket, ok := pi.roots[root]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(bucket))
	for key := range bucket {
		if types.MatchesPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// clear drops the whole index.
func (pi *prefixIndex) clear() {
	pi.mu.Lock()
	pi.roots = make(map[string]map[string]struct{})
	pi.mu.Unlock()
}
