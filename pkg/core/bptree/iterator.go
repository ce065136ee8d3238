package bptree

import (
	"sort"

	"duodb/pkg/common"
)

// Iterator is a forward-only scan over the leaf chain. It keeps the current
// leaf pinned; callers must Close it on every exit path so the block manager
// can evict the page.
type Iterator struct {
	t     *Tree
	leaf  *node
	idx   int
	valid bool
	err   error
}

// SeekGE positions an iterator at the first entry with key >= k.
func (t *Tree) SeekGE(k common.KeyType) (*Iterator, error) {
	it := &Iterator{t: t}
	if t.root == 0 {
		return it, nil
	}

	id := t.root
	for {
		n, err := t.cache.Get(id)
		if err != nil {
			return nil, err
		}
		if n.kind == pageLeaf {
			it.leaf = n
			break
		}
		id = n.children[t.childIndex(n, k)]
		t.cache.Release(n.id)
	}

	it.idx = sort.Search(len(it.leaf.keys), func(i int) bool { return it.leaf.keys[i] >= k })
	it.valid = true
	if it.idx >= len(it.leaf.keys) {
		it.advanceLeaf()
	}
	return it, it.err
}

func (it *Iterator) Valid() bool { return it.valid }

func (it *Iterator) Key() common.KeyType { return it.leaf.keys[it.idx] }

func (it *Iterator) Value() common.ValueType { return it.leaf.vals[it.idx] }

// Next advances to the following entry, crossing leaves through the chain.
// Returns false when exhausted or on a read error (see Err).
func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	it.idx++
	if it.idx < len(it.leaf.keys) {
		return true
	}
	it.advanceLeaf()
	return it.valid
}

// advanceLeaf swaps the pin to the next non-empty leaf in the chain.
func (it *Iterator) advanceLeaf() {
	for it.leaf != nil {
		next := it.leaf.next
		it.t.cache.Release(it.leaf.id)
		it.leaf = nil
		if next == 0 {
			break
		}
		n, err := it.t.cache.Get(next)
		if err != nil {
			it.err = err
			break
		}
		it.leaf = n
		if len(n.keys) > 0 {
			it.idx = 0
			return
		}
	}
	it.valid = false
}

func (it *Iterator) Err() error { return it.err }

// Close releases the pin on the current leaf.
func (it *Iterator) Close() {
	if it.leaf != nil {
		it.t.cache.Release(it.leaf.id)
		it.leaf = nil
	}
	it.valid = false
}
