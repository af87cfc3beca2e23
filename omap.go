package obsrpc

import (
	"cmp"
	"fmt"
	"iter"

	rb "github.com/glycerine/rbtree"
)

// Omap is an ordered map over a red-black tree. Iteration
// is in key order, so variable snapshots and expiry scans
// come out the same way every run.
//
// Like the builtin map, an Omap does no internal locking.
// Deleting the current key during an All iteration is allowed.
type Omap[K cmp.Ordered, V any] struct {
	version int64
	tree    *rb.Tree

	// ordercache is reused by All until the next change.
	ordercache   []*okv[K, V]
	cacheversion int64
}

type okv[K cmp.Ordered, V any] struct {
	key K
	val V
}

func NewOmap[K cmp.Ordered, V any]() *Omap[K, V] {
	return &Omap[K, V]{
		tree: rb.NewTree(func(a, b rb.Item) int {
			return cmp.Compare(a.(*okv[K, V]).key, b.(*okv[K, V]).key)
		}),
	}
}

func (s *Omap[K, V]) Len() int {
	return s.tree.Len()
}

func (s *Omap[K, V]) String() (r string) {
	r = "Omap{"
	i := 0
	for k, v := range s.All() {
		if i > 0 {
			r += ", "
		}
		r += fmt.Sprintf("%v:%v", k, v)
		i++
	}
	return r + "}"
}

func (s *Omap[K, V]) changed() {
	s.version++
	s.ordercache = nil
	s.cacheversion = 0
}

// Set is an upsert; newlyAdded is true on insert.
func (s *Omap[K, V]) Set(key K, val V) (newlyAdded bool) {
	query := &okv[K, V]{key: key, val: val}
	it, found := s.tree.FindGE_isEqual(query)
	if found {
		// value change only; key order is untouched.
		it.Item().(*okv[K, V]).val = val
		return
	}
	s.changed()
	s.tree.InsertGetIt(query)
	return true
}

// Get2 returns the value for key and whether it was present.
func (s *Omap[K, V]) Get2(key K) (val V, found bool) {
	it, found := s.tree.FindGE_isEqual(&okv[K, V]{key: key})
	if found {
		val = it.Item().(*okv[K, V]).val
	}
	return
}

func (s *Omap[K, V]) Get(key K) (val V) {
	val, _ = s.Get2(key)
	return
}

// Delete removes key, reporting whether it was present.
func (s *Omap[K, V]) Delete(key K) (found bool) {
	it, found := s.tree.FindGE_isEqual(&okv[K, V]{key: key})
	if found {
		s.changed()
		s.tree.DeleteWithIterator(it)
	}
	return
}

func (s *Omap[K, V]) DeleteAll() {
	s.changed()
	s.tree.DeleteAll()
}

// All iterates in ascending key order.
func (s *Omap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		vers := s.version
		if len(s.ordercache) == s.tree.Len() && s.cacheversion == vers && s.ordercache != nil {
			for _, kv := range s.ordercache {
				if !yield(kv.key, kv.val) {
					return
				}
				if s.version != vers {
					// changed under us; resume from the tree.
					s.resumeAfter(kv.key, yield)
					return
				}
			}
			return
		}
		var fill []*okv[K, V]
		cachegood := true
		for it := s.tree.Min(); !it.Limit(); {
			kv := it.Item().(*okv[K, V])
			// advance before yielding so the caller may delete kv.
			it = it.Next()
			if cachegood {
				fill = append(fill, kv)
			}
			if !yield(kv.key, kv.val) {
				return
			}
			if s.version != vers {
				cachegood = false
			}
		}
		if cachegood {
			s.ordercache = fill
			s.cacheversion = vers
		}
	}
}

func (s *Omap[K, V]) resumeAfter(key K, yield func(K, V) bool) {
	it, found := s.tree.FindGE_isEqual(&okv[K, V]{key: key})
	if found {
		it = it.Next()
	}
	for ; !it.Limit(); it = it.Next() {
		kv := it.Item().(*okv[K, V])
		if !yield(kv.key, kv.val) {
			return
		}
	}
}

// Keys returns all keys in order.
func (s *Omap[K, V]) Keys() (keys []K) {
	for k := range s.All() {
		keys = append(keys, k)
	}
	return
}
