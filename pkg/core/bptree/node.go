// Package bptree implements a disk-backed B+ tree keyed by int32 with a
// tunable leaf split fraction and a tail-leaf fast path for near-append-only
// insertion streams.
//
//	Tree
//	 ├── internal pages (pivot keys + child page ids)
//	 │      └── ...
//	 │             └── leaf pages (key/value entries + next pointer)
//
// Pivot rule: every key under child i is < pivots[i], except the last child
// which holds keys >= pivots[last]. Leaves chain left to right through their
// next pointer. Page 0 of the block file holds the tree header.
package bptree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"duodb/pkg/common"
)

const (
	pageLeaf     = 1
	pageInternal = 2

	// leaf page: kind(1) pad(1) count(2) next(8), then 8-byte entries
	leafHeaderSize = 12
	entrySize      = 8
	// internal page: kind(1) pad(1) count(2), then count keys and count+1 children
	internalHeaderSize = 4
	keySize            = 4
	childSize          = 8
)

var ErrCorruptPage = errors.New("bptree: corrupt page")

type node struct {
	id       int64
	kind     byte
	keys     []common.KeyType
	vals     []common.ValueType // leaf only
	children []int64            // internal only
	next     int64              // leaf only
	dirty    bool
	pins     int
}

func leafCapacity(pageSize int) int {
	return (pageSize - leafHeaderSize) / entrySize
}

func internalCapacity(pageSize int) int {
	// n keys and n+1 children must fit after the header
	return (pageSize - internalHeaderSize - childSize) / (keySize + childSize)
}

func encodeNode(n *node, pageSize int) ([]byte, error) {
	page := make([]byte, pageSize)
	page[0] = n.kind
	binary.LittleEndian.PutUint16(page[2:4], uint16(len(n.keys)))

	switch n.kind {
	case pageLeaf:
		if len(n.keys) > leafCapacity(pageSize) {
			return nil, fmt.Errorf("encode leaf %d: %d entries over capacity %d: %w",
				n.id, len(n.keys), leafCapacity(pageSize), ErrCorruptPage)
		}
		binary.LittleEndian.PutUint64(page[4:12], uint64(n.next))
		off := leafHeaderSize
		for i := range n.keys {
			binary.LittleEndian.PutUint32(page[off:], uint32(n.keys[i]))
			binary.LittleEndian.PutUint32(page[off+4:], uint32(n.vals[i]))
			off += entrySize
		}
	case pageInternal:
		if len(n.keys) > internalCapacity(pageSize) {
			return nil, fmt.Errorf("encode internal %d: %d pivots over capacity %d: %w",
				n.id, len(n.keys), internalCapacity(pageSize), ErrCorruptPage)
		}
		off := internalHeaderSize
		for _, k := range n.keys {
			binary.LittleEndian.PutUint32(page[off:], uint32(k))
			off += keySize
		}
		for _, c := range n.children {
			binary.LittleEndian.PutUint64(page[off:], uint64(c))
			off += childSize
		}
	default:
		return nil, fmt.Errorf("encode page %d: unknown kind %d: %w", n.id, n.kind, ErrCorruptPage)
	}

	return page, nil
}

func decodeNode(page []byte, pageID int64) (*node, error) {
	pageSize := len(page)
	n := &node{id: pageID, kind: page[0]}
	count := int(binary.LittleEndian.Uint16(page[2:4]))

	switch n.kind {
	case pageLeaf:
		if count > leafCapacity(pageSize) {
			return nil, fmt.Errorf("decode leaf %d: count %d over capacity %d: %w",
				pageID, count, leafCapacity(pageSize), ErrCorruptPage)
		}
		n.next = int64(binary.LittleEndian.Uint64(page[4:12]))
		n.keys = make([]common.KeyType, 0, count)
		n.vals = make([]common.ValueType, 0, count)
		off := leafHeaderSize
		for i := 0; i < count; i++ {
			n.keys = append(n.keys, common.KeyType(binary.LittleEndian.Uint32(page[off:])))
			n.vals = append(n.vals, common.ValueType(binary.LittleEndian.Uint32(page[off+4:])))
			off += entrySize
		}
	case pageInternal:
		if count == 0 || count > internalCapacity(pageSize) {
			return nil, fmt.Errorf("decode internal %d: count %d out of range: %w",
				pageID, count, ErrCorruptPage)
		}
		n.keys = make([]common.KeyType, 0, count)
		n.children = make([]int64, 0, count+1)
		off := internalHeaderSize
		for i := 0; i < count; i++ {
			n.keys = append(n.keys, common.KeyType(binary.LittleEndian.Uint32(page[off:])))
			off += keySize
		}
		for i := 0; i <= count; i++ {
			n.children = append(n.children, int64(binary.LittleEndian.Uint64(page[off:])))
			off += childSize
		}
	default:
		return nil, fmt.Errorf("decode page %d: unknown kind %d: %w", pageID, page[0], ErrCorruptPage)
	}

	return n, nil
}

// Header page layout (page 0):
// magic(8) pageSize(4) root(8) tail(8) numKeys(8) minKey(4) maxKey(4)
// secondTailMax(4) flags(1)
const headerMagic = 0x44554F5452454531 // "DUOTREE1"

const flagHasSecondTail = 1

func encodeHeader(t *Tree) []byte {
	page := make([]byte, t.pageSize)
	binary.LittleEndian.PutUint64(page[0:8], headerMagic)
	binary.LittleEndian.PutUint32(page[8:12], uint32(t.pageSize))
	binary.LittleEndian.PutUint64(page[12:20], uint64(t.root))
	binary.LittleEndian.PutUint64(page[20:28], uint64(t.tail))
	binary.LittleEndian.PutUint64(page[28:36], uint64(t.numKeys))
	binary.LittleEndian.PutUint32(page[36:40], uint32(t.minKey))
	binary.LittleEndian.PutUint32(page[40:44], uint32(t.maxKey))
	binary.LittleEndian.PutUint32(page[44:48], uint32(t.secondTailMax))
	if t.hasSecondTail {
		page[48] |= flagHasSecondTail
	}
	return page
}

func (t *Tree) applyHeader(page []byte) error {
	if binary.LittleEndian.Uint64(page[0:8]) != headerMagic {
		return fmt.Errorf("header magic mismatch: %w", ErrCorruptPage)
	}
	if got := int(binary.LittleEndian.Uint32(page[8:12])); got != t.pageSize {
		return fmt.Errorf("header page size %d does not match configured %d: %w",
			got, t.pageSize, ErrCorruptPage)
	}
	t.root = int64(binary.LittleEndian.Uint64(page[12:20]))
	t.tail = int64(binary.LittleEndian.Uint64(page[20:28]))
	t.numKeys = int64(binary.LittleEndian.Uint64(page[28:36]))
	t.minKey = common.KeyType(binary.LittleEndian.Uint32(page[36:40]))
	t.maxKey = common.KeyType(binary.LittleEndian.Uint32(page[40:44]))
	t.secondTailMax = common.KeyType(binary.LittleEndian.Uint32(page[44:48]))
	t.hasSecondTail = page[48]&flagHasSecondTail != 0
	return nil
}
