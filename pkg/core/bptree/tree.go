package bptree

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"duodb/pkg/common"
	"duodb/pkg/storage"
)

// ErrTailOrder is returned for tail-append contract violations: an append
// with a key below the index maximum.
var ErrTailOrder = errors.New("bptree: tail append below max key")

// Options configure a Tree over its pager.
type Options struct {
	PageSize      int
	CacheCapacity int
	// SplitFrac is the share of entries kept in the left leaf on overflow,
	// in (0,1]. Near-append-only trees pack the left leaf tight with a high
	// fraction; 0.5 gives the traditional balanced split. Internal pages
	// always split at the median.
	SplitFrac float64
}

// Tree is a single B+ tree index over one block file. Not safe for
// concurrent writers; the owner serializes mutations.
type Tree struct {
	pager storage.Pager
	cache *BlockManager

	pageSize    int
	leafCap     int
	internalCap int
	splitFrac   float64

	root    int64
	tail    int64 // rightmost leaf, the hot page for appends
	numKeys int64
	minKey  common.KeyType
	maxKey  common.KeyType

	// max key of the leaf immediately left of the tail, tracked across tail
	// splits; the router's lower bound for tail-interior inserts
	secondTailMax common.KeyType
	hasSecondTail bool
}

// NewTree opens a tree over pager, restoring metadata from the header page
// when the block file already holds one. The cache capacity must exceed the
// tree height plus a few working pages.
func NewTree(pager storage.Pager, opts Options) (*Tree, error) {
	if opts.SplitFrac <= 0 || opts.SplitFrac > 1 {
		return nil, fmt.Errorf("split fraction %v outside (0,1]", opts.SplitFrac)
	}
	if leafCapacity(opts.PageSize) < 2 || internalCapacity(opts.PageSize) < 2 {
		return nil, fmt.Errorf("page size %d too small", opts.PageSize)
	}

	t := &Tree{
		pager:       pager,
		cache:       NewBlockManager(pager, opts.CacheCapacity, opts.PageSize),
		pageSize:    opts.PageSize,
		leafCap:     leafCapacity(opts.PageSize),
		internalCap: internalCapacity(opts.PageSize),
		splitFrac:   opts.SplitFrac,
	}

	if pager.NumPages() > 1 {
		page, err := pager.ReadPage(0)
		if err != nil {
			return nil, err
		}
		if err := t.applyHeader(page); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Query reports whether any entry with key k exists.
func (t *Tree) Query(k common.KeyType) (bool, error) {
	if t.root == 0 {
		return false, nil
	}
	id := t.root
	for {
		n, err := t.cache.Get(id)
		if err != nil {
			return false, err
		}
		if n.kind == pageLeaf {
			i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= k })
			found := i < len(n.keys) && n.keys[i] == k
			t.cache.Release(n.id)
			return found, nil
		}
		next := n.children[t.childIndex(n, k)]
		t.cache.Release(n.id)
		id = next
	}
}

// Insert places (k, v) by full descent from the root. Duplicate keys are
// stored as additional entries.
func (t *Tree) Insert(k common.KeyType, v common.ValueType) error {
	if t.root == 0 {
		return t.bootstrap(k, v)
	}

	path, err := t.descend(k)
	if err != nil {
		return err
	}
	defer t.releasePath(path)

	leaf := path[len(path)-1]
	i := sort.Search(len(leaf.keys), func(i int) bool { return leaf.keys[i] > k })
	leaf.keys = insertKey(leaf.keys, i, k)
	leaf.vals = insertVal(leaf.vals, i, v)
	t.cache.MarkDirty(leaf.id)
	t.noteInserted(k)

	if len(leaf.keys) > t.leafCap {
		return t.splitLeaf(path)
	}
	return nil
}

// InsertToTail is the router's fast path into the rightmost leaf. With
// appendRight the caller asserts k >= MaxKey and the entry is pushed onto the
// tail; otherwise k must not be below the max key of the leaf before the tail
// and is placed at its sorted position in the tail leaf. A key above that
// max but below the tail's separator in its parent lowers the separator so
// that descents for it reach the tail.
func (t *Tree) InsertToTail(k common.KeyType, v common.ValueType, appendRight bool) error {
	if t.root == 0 {
		if !appendRight {
			return fmt.Errorf("tail insert into empty index: %w", ErrTailOrder)
		}
		return t.bootstrap(k, v)
	}
	if appendRight && k < t.maxKey {
		return fmt.Errorf("append key %d below max key %d: %w", k, t.maxKey, ErrTailOrder)
	}

	leaf, err := t.cache.Get(t.tail)
	if err != nil {
		return err
	}
	defer t.cache.Release(leaf.id)

	if appendRight {
		leaf.keys = append(leaf.keys, k)
		leaf.vals = append(leaf.vals, v)
	} else {
		if t.hasSecondTail && k > t.secondTailMax {
			// when k sits between the previous leaf and the tail's separator,
			// lower the separator so a descent for k reaches the tail leaf
			path, err := t.rightmostPath()
			if err != nil {
				return err
			}
			parent := path[len(path)-2]
			if last := len(parent.keys) - 1; k < parent.keys[last] {
				parent.keys[last] = k
				t.cache.MarkDirty(parent.id)
			}
			t.releasePath(path)
		}
		i := sort.Search(len(leaf.keys), func(i int) bool { return leaf.keys[i] > k })
		leaf.keys = insertKey(leaf.keys, i, k)
		leaf.vals = insertVal(leaf.vals, i, v)
	}
	t.cache.MarkDirty(leaf.id)
	t.noteInserted(k)

	if len(leaf.keys) > t.leafCap {
		path, err := t.rightmostPath()
		if err != nil {
			return err
		}
		defer t.releasePath(path)
		if path[len(path)-1].id != t.tail {
			return fmt.Errorf("rightmost descent ended at page %d, tail is %d: %w",
				path[len(path)-1].id, t.tail, ErrCorruptPage)
		}
		return t.splitLeaf(path)
	}
	return nil
}

// Scan returns every pair with lo <= key <= hi in key order.
func (t *Tree) Scan(lo, hi common.KeyType) ([]common.Pair, error) {
	it, err := t.SeekGE(lo)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []common.Pair
	for it.Valid() {
		k := it.Key()
		if k > hi {
			break
		}
		out = append(out, common.Pair{Key: k, Value: it.Value()})
		it.Next()
	}
	return out, it.Err()
}

func (t *Tree) NumKeys() int           { return int(t.numKeys) }
func (t *Tree) MinKey() common.KeyType { return t.minKey }
func (t *Tree) MaxKey() common.KeyType { return t.maxKey }

// SingleLeaf reports whether the whole index is one leaf page.
func (t *Tree) SingleLeaf() bool { return t.root != 0 && t.root == t.tail }

// SecondTailMaxKey returns the max key of the leaf immediately before the
// tail; ok is false while the index still has a single leaf.
func (t *Tree) SecondTailMaxKey() (common.KeyType, bool) {
	return t.secondTailMax, t.hasSecondTail
}

// TailMinKey returns the smallest key in the tail leaf.
func (t *Tree) TailMinKey() (common.KeyType, error) {
	if t.root == 0 {
		return 0, fmt.Errorf("tail min of empty index")
	}
	leaf, err := t.cache.Get(t.tail)
	if err != nil {
		return 0, err
	}
	defer t.cache.Release(leaf.id)
	return leaf.keys[0], nil
}

// Flush writes all dirty pages and the header, then syncs the file.
func (t *Tree) Flush() error {
	if err := t.cache.Flush(); err != nil {
		return err
	}
	if err := t.pager.WritePage(0, encodeHeader(t)); err != nil {
		return err
	}
	return t.pager.Sync()
}

func (t *Tree) Close() error {
	if err := t.Flush(); err != nil {
		t.pager.Close()
		return err
	}
	return t.pager.Close()
}

// bootstrap creates the first leaf, which is root and tail at once.
func (t *Tree) bootstrap(k common.KeyType, v common.ValueType) error {
	leaf, err := t.newLeaf()
	if err != nil {
		return err
	}
	defer t.cache.Release(leaf.id)

	leaf.keys = append(leaf.keys, k)
	leaf.vals = append(leaf.vals, v)
	t.root = leaf.id
	t.tail = leaf.id
	t.noteInserted(k)
	return nil
}

// childIndex picks the child to descend into: the first pivot greater than k,
// the last child when no pivot is.
func (t *Tree) childIndex(n *node, k common.KeyType) int {
	return sort.Search(len(n.keys), func(i int) bool { return k < n.keys[i] })
}

// descend walks from the root to the leaf for k, returning the pinned path
// with the leaf last. On error no pins are left behind.
func (t *Tree) descend(k common.KeyType) ([]*node, error) {
	var path []*node
	id := t.root
	for {
		n, err := t.cache.Get(id)
		if err != nil {
			t.releasePath(path)
			return nil, err
		}
		path = append(path, n)
		if n.kind == pageLeaf {
			return path, nil
		}
		id = n.children[t.childIndex(n, k)]
	}
}

// rightmostPath walks the last-child spine down to the tail leaf.
func (t *Tree) rightmostPath() ([]*node, error) {
	var path []*node
	id := t.root
	for {
		n, err := t.cache.Get(id)
		if err != nil {
			t.releasePath(path)
			return nil, err
		}
		path = append(path, n)
		if n.kind == pageLeaf {
			return path, nil
		}
		id = n.children[len(n.children)-1]
	}
}

func (t *Tree) releasePath(path []*node) {
	for _, n := range path {
		t.cache.Release(n.id)
	}
}

// splitLeaf splits the overflowing leaf at the end of path. The left leaf
// keeps ceil(splitFrac * capacity) entries; the rest move to a new right
// sibling whose minimum key becomes the pivot pushed into the parent.
func (t *Tree) splitLeaf(path []*node) error {
	leaf := path[len(path)-1]
	keep := t.splitPoint(len(leaf.keys))

	right, err := t.newLeaf()
	if err != nil {
		return err
	}
	defer t.cache.Release(right.id)

	right.keys = append(right.keys, leaf.keys[keep:]...)
	right.vals = append(right.vals, leaf.vals[keep:]...)
	leaf.keys = leaf.keys[:keep]
	leaf.vals = leaf.vals[:keep]

	right.next = leaf.next
	leaf.next = right.id
	t.cache.MarkDirty(leaf.id)

	if leaf.id == t.tail {
		t.tail = right.id
		t.secondTailMax = leaf.keys[len(leaf.keys)-1]
		t.hasSecondTail = true
	}

	return t.insertIntoParent(path[:len(path)-1], leaf.id, right.keys[0], right.id)
}

// splitInternal splits the overflowing internal node at the end of path at
// the median, promoting the middle pivot.
func (t *Tree) splitInternal(path []*node) error {
	n := path[len(path)-1]
	mid := len(n.keys) / 2
	promote := n.keys[mid]

	right, err := t.newInternal()
	if err != nil {
		return err
	}
	defer t.cache.Release(right.id)

	right.keys = append(right.keys, n.keys[mid+1:]...)
	right.children = append(right.children, n.children[mid+1:]...)
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]
	t.cache.MarkDirty(n.id)

	return t.insertIntoParent(path[:len(path)-1], n.id, promote, right.id)
}

// insertIntoParent places pivot and rightID next to leftID in the deepest
// ancestor, growing a new root when leftID was the root.
func (t *Tree) insertIntoParent(ancestors []*node, leftID int64, pivot common.KeyType, rightID int64) error {
	if len(ancestors) == 0 {
		root, err := t.newInternal()
		if err != nil {
			return err
		}
		defer t.cache.Release(root.id)
		root.keys = append(root.keys, pivot)
		root.children = append(root.children, leftID, rightID)
		t.root = root.id
		return nil
	}

	parent := ancestors[len(ancestors)-1]
	idx := 0
	for idx < len(parent.children) && parent.children[idx] != leftID {
		idx++
	}
	if idx == len(parent.children) {
		return fmt.Errorf("page %d missing from parent %d: %w", leftID, parent.id, ErrCorruptPage)
	}

	parent.keys = insertKey(parent.keys, idx, pivot)
	parent.children = insertChild(parent.children, idx+1, rightID)
	t.cache.MarkDirty(parent.id)

	if len(parent.keys) > t.internalCap {
		return t.splitInternal(ancestors)
	}
	return nil
}

// splitPoint clamps ceil(splitFrac * capacity) so both halves keep at least
// one entry.
func (t *Tree) splitPoint(count int) int {
	keep := int(math.Ceil(t.splitFrac * float64(t.leafCap)))
	if keep > count-1 {
		keep = count - 1
	}
	if keep < 1 {
		keep = 1
	}
	return keep
}

func (t *Tree) newLeaf() (*node, error) {
	id, err := t.pager.AllocatePage()
	if err != nil {
		return nil, err
	}
	n := &node{id: id, kind: pageLeaf, dirty: true}
	if err := t.cache.Register(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (t *Tree) newInternal() (*node, error) {
	id, err := t.pager.AllocatePage()
	if err != nil {
		return nil, err
	}
	n := &node{id: id, kind: pageInternal, dirty: true}
	if err := t.cache.Register(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (t *Tree) noteInserted(k common.KeyType) {
	t.numKeys++
	if t.numKeys == 1 {
		t.minKey, t.maxKey = k, k
		return
	}
	if k < t.minKey {
		t.minKey = k
	}
	if k > t.maxKey {
		t.maxKey = k
	}
}

func insertKey(s []common.KeyType, i int, k common.KeyType) []common.KeyType {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = k
	return s
}

func insertVal(s []common.ValueType, i int, v common.ValueType) []common.ValueType {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertChild(s []int64, i int, id int64) []int64 {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = id
	return s
}
