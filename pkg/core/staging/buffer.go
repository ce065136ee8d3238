// Package staging holds the router's bounded admission buffer. Insertions
// pass through it so that reorderings within a window of its capacity are
// released in near-sorted order, shielding the outlier detector from local
// shuffles.
package staging

import (
	"duodb/pkg/common"

	"github.com/google/btree"
)

type item struct {
	key common.KeyType
	val common.ValueType
	seq uint64 // tie-breaker so duplicate keys remain distinct entries
}

func (i item) Less(than btree.Item) bool {
	o := than.(item)
	if i.key != o.key {
		return i.key < o.key
	}
	return i.seq < o.seq
}

// Buffer is a bounded min-ordered staging area. Until full, pairs are held
// back entirely; once full, each push releases the smallest buffered pair
// (or the incoming one, when it is not larger than everything held).
type Buffer struct {
	tree *btree.BTree
	cap  int
	seq  uint64
}

func New(capacity int) *Buffer {
	return &Buffer{
		tree: btree.New(8),
		cap:  capacity,
	}
}

// Push offers (k, v). When the buffer absorbs the pair, admit is false.
// Otherwise the returned pair is the one the caller must route to an index:
// the previous minimum if the new key outranks it, else the pair just given.
func (b *Buffer) Push(k common.KeyType, v common.ValueType) (out common.Pair, admit bool) {
	if b.tree.Len() < b.cap {
		b.seq++
		b.tree.ReplaceOrInsert(item{key: k, val: v, seq: b.seq})
		return common.Pair{}, false
	}

	min := b.tree.Min().(item)
	if k > min.key {
		b.tree.DeleteMin()
		b.seq++
		b.tree.ReplaceOrInsert(item{key: k, val: v, seq: b.seq})
		return common.Pair{Key: min.key, Value: min.val}, true
	}
	return common.Pair{Key: k, Value: v}, true
}

// PopMin removes and returns the smallest buffered pair, for draining.
func (b *Buffer) PopMin() (common.Pair, bool) {
	i := b.tree.DeleteMin()
	if i == nil {
		return common.Pair{}, false
	}
	it := i.(item)
	return common.Pair{Key: it.key, Value: it.val}, true
}

// Contains reports whether any buffered pair has key k.
func (b *Buffer) Contains(k common.KeyType) bool {
	found := false
	b.tree.AscendGreaterOrEqual(item{key: k}, func(i btree.Item) bool {
		found = i.(item).key == k
		return false
	})
	return found
}

// Scan returns buffered pairs with lo <= key <= hi in key order.
func (b *Buffer) Scan(lo, hi common.KeyType) []common.Pair {
	var out []common.Pair
	b.tree.AscendGreaterOrEqual(item{key: lo}, func(i btree.Item) bool {
		it := i.(item)
		if it.key > hi {
			return false
		}
		out = append(out, common.Pair{Key: it.key, Value: it.val})
		return true
	})
	return out
}

func (b *Buffer) Len() int { return b.tree.Len() }
