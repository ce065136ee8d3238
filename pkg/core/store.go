// Package core wires the dual-tree engine together: two B+ tree indexes, the
// staging buffer, the outlier detector, the bloom filter, and the MRU probe
// predictor, behind one store type.
//
// The insertion stream is partitioned at insert time. Keys that extend (or
// fit just inside the tail of) the monotonically increasing prefix of the
// stream go to the sorted tree through its tail-leaf fast path; everything
// else lands in the unsorted tree. Point queries fan out across both trees
// and the staging buffer.
package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"duodb/pkg/common"
	"duodb/pkg/config"
	"duodb/pkg/core/bptree"
	"duodb/pkg/core/outlier"
	"duodb/pkg/core/staging"
	"duodb/pkg/core/structure"
	"duodb/pkg/monitor"
	"duodb/pkg/storage"
)

const (
	sortedFile   = "sorted.idx"
	unsortedFile = "unsorted.idx"
)

// DualTree owns both indexes and all routing state. Writers must be
// serialized by the caller; the engine is not reader-writer concurrent.
type DualTree struct {
	conf *config.Config

	sorted   *bptree.Tree
	unsorted *bptree.Tree

	detector *outlier.Detector
	buf      *staging.Buffer    // nil when heap_size is 0
	pred     *monitor.Predictor // nil when query_buffer_size is 0
	bloom    *structure.BloomFilter
	stats    *monitor.WorkloadStats
}

func NewDualTree(cfg *config.Config) (*DualTree, error) {
	if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	sortedPager, err := storage.NewDiskPager(filepath.Join(cfg.Storage.Path, sortedFile), cfg.Storage.BlockSize)
	if err != nil {
		return nil, err
	}
	unsortedPager, err := storage.NewDiskPager(filepath.Join(cfg.Storage.Path, unsortedFile), cfg.Storage.BlockSize)
	if err != nil {
		sortedPager.Close()
		return nil, err
	}

	sorted, err := bptree.NewTree(sortedPager, bptree.Options{
		PageSize:      cfg.Storage.BlockSize,
		CacheCapacity: cfg.Storage.BlocksInMemory,
		SplitFrac:     cfg.Tree.SortedSplitFrac,
	})
	if err != nil {
		sortedPager.Close()
		unsortedPager.Close()
		return nil, err
	}
	unsorted, err := bptree.NewTree(unsortedPager, bptree.Options{
		PageSize:      cfg.Storage.BlockSize,
		CacheCapacity: cfg.Storage.BlocksInMemory,
		SplitFrac:     cfg.Tree.UnsortedSplitFrac,
	})
	if err != nil {
		sortedPager.Close()
		unsortedPager.Close()
		return nil, err
	}

	dt := &DualTree{
		conf:     cfg,
		sorted:   sorted,
		unsorted: unsorted,
		detector: outlier.New(cfg.Router.InitTolerance, cfg.Router.MinTolerance, cfg.Router.ExpectedAvgDistance),
		bloom:    structure.NewBloomFilter(cfg.System.BloomSize, cfg.System.BloomFalseProb),
		stats:    monitor.NewWorkloadStats(),
	}
	if cfg.Router.HeapSize > 0 {
		dt.buf = staging.New(cfg.Router.HeapSize)
	}
	if cfg.Router.QueryBufferSize > 0 {
		dt.pred = monitor.NewPredictor(cfg.Router.QueryBufferSize)
	}

	if err := dt.warmBloom(); err != nil {
		dt.sorted.Close()
		dt.unsorted.Close()
		return nil, err
	}

	log.Printf("[DuoDB] opened %s (sorted=%d unsorted=%d keys)",
		cfg.Storage.Path, sorted.NumKeys(), unsorted.NumKeys())
	return dt, nil
}

// warmBloom refills the bloom filter from the leaf chains of both trees.
// The filter is runtime state; after a reopen every stored key has to be
// re-registered before the query path can trust it.
func (dt *DualTree) warmBloom() error {
	for _, tree := range []*bptree.Tree{dt.sorted, dt.unsorted} {
		if tree.NumKeys() == 0 {
			continue
		}
		it, err := tree.SeekGE(tree.MinKey())
		if err != nil {
			return err
		}
		for it.Valid() {
			dt.bloom.Add(it.Key())
			it.Next()
		}
		err = it.Err()
		it.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Insert admits (k, v) into the engine. With a staging buffer configured the
// pair may be held back; the pair actually released (this one or a buffered
// predecessor) is routed to exactly one of the two trees.
func (dt *DualTree) Insert(k common.KeyType, v common.ValueType) error {
	dt.stats.RecordWrite()
	dt.bloom.Add(k)

	if dt.buf != nil {
		pair, admit := dt.buf.Push(k, v)
		if !admit {
			return nil
		}
		k, v = pair.Key, pair.Value
	}
	return dt.route(k, v)
}

// route implements the insertion decision tree.
func (dt *DualTree) route(k common.KeyType, v common.ValueType) error {
	n := dt.sorted.NumKeys()
	if n == 0 {
		if err := dt.sorted.InsertToTail(k, v, true); err != nil {
			return err
		}
		dt.detector.IsOutlier(k, 0) // seed the detector
		dt.stats.RecordRouted(true)
		return nil
	}

	// lower bound of the sorted tree's insertion range: keys below it can
	// only go to the unsorted tree. With a single leaf the tail leaf is the
	// whole tree, so its minimum bounds the insertable range.
	var lower common.KeyType
	if !dt.conf.Tree.AllowSortedInsert {
		lower = dt.sorted.MaxKey()
	} else if dt.sorted.SingleLeaf() {
		lower = dt.sorted.MinKey()
	} else {
		lower, _ = dt.sorted.SecondTailMaxKey()
	}

	if k < lower {
		dt.stats.RecordRouted(false)
		return dt.unsorted.Insert(k, v)
	}

	max := dt.sorted.MaxKey()
	if k > max && dt.detector.IsOutlier(k, n) {
		dt.stats.RecordRouted(false)
		return dt.unsorted.Insert(k, v)
	}

	appendRight := k >= max
	if err := dt.sorted.InsertToTail(k, v, appendRight); err != nil {
		return err
	}
	if !appendRight {
		// interior tail inserts are dense; pull the observed gap toward 1
		dt.detector.ObserveDense(dt.sorted.NumKeys())
	}
	dt.stats.RecordRouted(true)
	return nil
}

// Query probes the larger tree first, then the other, then the staging
// buffer.
func (dt *DualTree) Query(k common.KeyType) (bool, error) {
	dt.stats.RecordRead()
	if !dt.bloom.Contains(k) {
		return false, nil
	}

	first, second := dt.sorted, dt.unsorted
	if dt.unsorted.NumKeys() > dt.sorted.NumKeys() {
		first, second = dt.unsorted, dt.sorted
	}
	for _, tree := range []*bptree.Tree{first, second} {
		found, err := tree.Query(k)
		if err != nil {
			return false, err
		}
		if found {
			dt.stats.RecordHit()
			return true, nil
		}
	}
	return dt.queryBuffered(k), nil
}

// QueryMRU probes in the order the predictor recommends and feeds the
// outcome back. On a miss the vote goes to the side probed second, the one
// that should have answered had the key existed.
func (dt *DualTree) QueryMRU(k common.KeyType) (bool, error) {
	dt.stats.RecordRead()
	if !dt.bloom.Contains(k) {
		return false, nil
	}

	unsortedFirst := dt.unsorted.NumKeys() > dt.sorted.NumKeys()
	if dt.pred != nil && dt.pred.Primed() {
		unsortedFirst = dt.pred.ProbeUnsortedFirst()
	}

	var foundSorted, foundUnsorted bool
	var err error
	if unsortedFirst {
		if foundUnsorted, err = dt.unsorted.Query(k); err != nil {
			return false, err
		}
		if !foundUnsorted {
			if foundSorted, err = dt.sorted.Query(k); err != nil {
				return false, err
			}
		}
	} else {
		if foundSorted, err = dt.sorted.Query(k); err != nil {
			return false, err
		}
		if !foundSorted {
			if foundUnsorted, err = dt.unsorted.Query(k); err != nil {
				return false, err
			}
		}
	}

	if dt.pred != nil {
		switch {
		case foundSorted:
			dt.pred.Update(false)
		case foundUnsorted:
			dt.pred.Update(true)
		default:
			dt.pred.Update(!unsortedFirst)
		}
	}

	if foundSorted || foundUnsorted {
		dt.stats.RecordHit()
		return true, nil
	}
	return dt.queryBuffered(k), nil
}

// QueryParallel probes both trees on their own goroutines and joins.
// Experimental; it offers nothing beyond the sequential query except
// overlap of the two descents.
func (dt *DualTree) QueryParallel(k common.KeyType) (bool, error) {
	dt.stats.RecordRead()
	if !dt.bloom.Contains(k) {
		return false, nil
	}

	var foundSorted, foundUnsorted bool
	var errSorted, errUnsorted error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		foundSorted, errSorted = dt.sorted.Query(k)
	}()
	go func() {
		defer wg.Done()
		foundUnsorted, errUnsorted = dt.unsorted.Query(k)
	}()
	wg.Wait()

	if errSorted != nil {
		return false, errSorted
	}
	if errUnsorted != nil {
		return false, errUnsorted
	}
	if foundSorted || foundUnsorted {
		dt.stats.RecordHit()
		return true, nil
	}
	return dt.queryBuffered(k), nil
}

func (dt *DualTree) queryBuffered(k common.KeyType) bool {
	if dt.buf != nil && dt.buf.Contains(k) {
		dt.stats.RecordHit()
		return true
	}
	return false
}

// Scan returns every pair with lo <= key <= hi from both trees and the
// staging buffer. Results are concatenated per source, not merged.
func (dt *DualTree) Scan(lo, hi common.KeyType) ([]common.Pair, error) {
	out, err := dt.sorted.Scan(lo, hi)
	if err != nil {
		return nil, err
	}
	fromUnsorted, err := dt.unsorted.Scan(lo, hi)
	if err != nil {
		return nil, err
	}
	out = append(out, fromUnsorted...)
	if dt.buf != nil {
		out = append(out, dt.buf.Scan(lo, hi)...)
	}
	return out, nil
}

func (dt *DualTree) SortedSize() int   { return dt.sorted.NumKeys() }
func (dt *DualTree) UnsortedSize() int { return dt.unsorted.NumKeys() }

// BufferedSize is the number of pairs currently held back in the staging
// buffer.
func (dt *DualTree) BufferedSize() int {
	if dt.buf == nil {
		return 0
	}
	return dt.buf.Len()
}

// Flush writes all dirty pages and tree headers of both indexes.
func (dt *DualTree) Flush() error {
	if err := dt.sorted.Flush(); err != nil {
		return err
	}
	return dt.unsorted.Flush()
}

// Close drains the staging buffer into the trees, then flushes and closes
// both indexes, so cleanly closed block files hold every admitted pair.
func (dt *DualTree) Close() error {
	var drainErr error
	if dt.buf != nil {
		for {
			pair, ok := dt.buf.PopMin()
			if !ok {
				break
			}
			if err := dt.route(pair.Key, pair.Value); err != nil {
				drainErr = err
				break
			}
		}
	}

	errSorted := dt.sorted.Close()
	errUnsorted := dt.unsorted.Close()
	if drainErr != nil {
		return drainErr
	}
	if errSorted != nil {
		return errSorted
	}
	return errUnsorted
}

func (dt *DualTree) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"sorted_keys":      dt.sorted.NumKeys(),
		"unsorted_keys":    dt.unsorted.NumKeys(),
		"buffered_pairs":   dt.BufferedSize(),
		"detector_avg_gap": dt.detector.AvgGap(),
		"detector_tol":     dt.detector.Tolerance(),
		"rw_ratio":         dt.stats.GetReadWriteRatio(),
		"routed_sorted":    dt.stats.SortedRouted,
		"routed_unsorted":  dt.stats.UnsortedRouted,
		"mode":             "Dual B+ Tree",
	}
	for k, v := range dt.bloom.Stats() {
		stats[k] = v
	}
	return stats
}
