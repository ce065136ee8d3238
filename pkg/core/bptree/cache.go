package bptree

import (
	"errors"
	"fmt"
	"sync"

	"duodb/pkg/storage"
)

// ErrCacheExhausted is returned when a fetch needs a cache slot and every
// resident block is pinned.
var ErrCacheExhausted = errors.New("bptree: all cached blocks are pinned")

// BlockManager caches decoded pages over a Pager with LRU eviction. Get pins
// the returned node; callers release with Release when done so eviction can
// reclaim the slot. Dirty nodes are written back on eviction and on Flush.
type BlockManager struct {
	mu       sync.Mutex
	pager    storage.Pager
	pageSize int
	capacity int
	nodes    map[int64]*node
	order    []int64 // LRU order, most recently used at the end
}

func NewBlockManager(pager storage.Pager, capacity, pageSize int) *BlockManager {
	return &BlockManager{
		pager:    pager,
		pageSize: pageSize,
		capacity: capacity,
		nodes:    make(map[int64]*node, capacity),
		order:    make([]int64, 0, capacity),
	}
}

// Get returns the node for pageID, loading and decoding it on a miss.
// The node comes back pinned.
func (bm *BlockManager) Get(pageID int64) (*node, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if n, ok := bm.nodes[pageID]; ok {
		bm.touch(pageID)
		n.pins++
		return n, nil
	}

	page, err := bm.pager.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	n, err := decodeNode(page, pageID)
	if err != nil {
		return nil, err
	}

	if err := bm.admit(n); err != nil {
		return nil, err
	}
	n.pins = 1
	return n, nil
}

// Register admits a freshly allocated node into the cache, pinned.
func (bm *BlockManager) Register(n *node) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if err := bm.admit(n); err != nil {
		return err
	}
	n.pins = 1
	return nil
}

func (bm *BlockManager) Release(pageID int64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if n, ok := bm.nodes[pageID]; ok && n.pins > 0 {
		n.pins--
	}
}

func (bm *BlockManager) MarkDirty(pageID int64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if n, ok := bm.nodes[pageID]; ok {
		n.dirty = true
	}
}

// Flush writes every dirty resident node back to the pager.
func (bm *BlockManager) Flush() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	for _, n := range bm.nodes {
		if !n.dirty {
			continue
		}
		page, err := encodeNode(n, bm.pageSize)
		if err != nil {
			return err
		}
		if err := bm.pager.WritePage(n.id, page); err != nil {
			return err
		}
		n.dirty = false
	}
	return nil
}

func (bm *BlockManager) Len() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.nodes)
}

// admit adds n to the cache, evicting if at capacity. Lock held.
func (bm *BlockManager) admit(n *node) error {
	if len(bm.nodes) >= bm.capacity {
		if err := bm.evict(); err != nil {
			return err
		}
	}
	bm.nodes[n.id] = n
	bm.order = append(bm.order, n.id)
	return nil
}

// evict removes the least recently used unpinned node. Lock held.
func (bm *BlockManager) evict() error {
	for i, id := range bm.order {
		n, ok := bm.nodes[id]
		if !ok {
			bm.order = append(bm.order[:i], bm.order[i+1:]...)
			return bm.evict()
		}
		if n.pins > 0 {
			continue
		}
		if n.dirty {
			page, err := encodeNode(n, bm.pageSize)
			if err != nil {
				return err
			}
			if err := bm.pager.WritePage(n.id, page); err != nil {
				return fmt.Errorf("evict page %d: %w", n.id, err)
			}
		}
		delete(bm.nodes, id)
		bm.order = append(bm.order[:i], bm.order[i+1:]...)
		return nil
	}
	return ErrCacheExhausted
}

// touch moves pageID to the most recently used position. Lock held.
func (bm *BlockManager) touch(pageID int64) {
	for i, id := range bm.order {
		if id == pageID {
			bm.order = append(bm.order[:i], bm.order[i+1:]...)
			break
		}
	}
	bm.order = append(bm.order, pageID)
}
